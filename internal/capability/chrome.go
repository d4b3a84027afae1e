package capability

import (
	"context"
	"fmt"
	"os"

	"github.com/chromedp/chromedp"
)

const webglCheck = `(() => {
  try {
    const canvas = document.createElement("canvas");
    return Boolean(canvas.getContext("webgl") || canvas.getContext("experimental-webgl"));
  } catch (e) {
    return false;
  }
})()`

var chromeCandidates = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/snap/bin/chromium",
}

// ChromeOptions configures the headless browser probe.
type ChromeOptions struct {
	// ExecPath overrides browser discovery.
	ExecPath string
	// Errorf receives browser protocol errors. Nil discards them.
	Errorf func(format string, args ...any)
}

// ChromeProbe asks a headless Chrome whether a canvas can hand out a WebGL context.
func ChromeProbe(opts ChromeOptions) Probe {
	return func(ctx context.Context) (bool, error) {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.Flag("ignore-gpu-blocklist", true),
		)
		if path := resolveChromePath(opts.ExecPath); path != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(path))
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
		defer allocCancel()
		var ctxOpts []chromedp.ContextOption
		if opts.Errorf != nil {
			ctxOpts = append(ctxOpts, chromedp.WithErrorf(opts.Errorf))
		}
		browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)
		defer browserCancel()

		var supported bool
		if err := chromedp.Run(browserCtx,
			chromedp.Navigate("about:blank"),
			chromedp.Evaluate(webglCheck, &supported),
		); err != nil {
			return false, fmt.Errorf("capability: chrome probe: %w", err)
		}
		return supported, nil
	}
}

func resolveChromePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, path := range chromeCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
