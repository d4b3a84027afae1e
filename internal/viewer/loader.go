package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultModelTimeout = 15 * time.Second
	defaultMaxModelSize = 32 << 20
)

// ErrModelTooLarge is returned when a model exceeds the loader's size cap.
var ErrModelTooLarge = errors.New("viewer: model exceeds size limit")

// Asset is a decoded remote model.
type Asset struct {
	URL       string `json:"url"`
	Version   string `json:"version"`
	Generator string `json:"generator,omitempty"`
	Scenes    int    `json:"scenes"`
	Nodes     int    `json:"nodes"`
	Meshes    int    `json:"meshes"`
	Materials int    `json:"materials"`

	doc *gltf.Document
}

// Document returns the decoded glTF document.
func (a *Asset) Document() *gltf.Document {
	if a == nil {
		return nil
	}
	return a.doc
}

// Loader fetches and decodes a model.
type Loader interface {
	Load(ctx context.Context, url string) (*Asset, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) (*Asset, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string) (*Asset, error) { return f(ctx, url) }

// HTTPLoaderOption customises an HTTPLoader.
type HTTPLoaderOption func(*HTTPLoader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		if hc != nil {
			l.client = hc
		}
	}
}

// WithLoaderLogger attaches a logger.
func WithLoaderLogger(logger *zap.Logger) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithModelTimeout bounds a single fetch.
func WithModelTimeout(timeout time.Duration) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		if timeout > 0 {
			l.timeout = timeout
		}
	}
}

// WithMaxModelSize caps the response body.
func WithMaxModelSize(n int64) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// HTTPLoader fetches glTF or GLB models over HTTP. Concurrent loads of one URL share a
// single fetch and successful results are cached for the loader's lifetime.
type HTTPLoader struct {
	client   *http.Client
	logger   *zap.Logger
	timeout  time.Duration
	maxBytes int64

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Asset
}

// NewHTTPLoader constructs a loader.
func NewHTTPLoader(opts ...HTTPLoaderOption) *HTTPLoader {
	l := &HTTPLoader{
		client:   http.DefaultClient,
		logger:   zap.NewNop(),
		timeout:  defaultModelTimeout,
		maxBytes: defaultMaxModelSize,
		cache:    make(map[string]*Asset),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load returns the cached asset or fetches it. Cancelling ctx abandons the wait without
// aborting a fetch other callers share.
func (l *HTTPLoader) Load(ctx context.Context, url string) (*Asset, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("viewer: model url is required")
	}
	l.mu.RLock()
	cached, ok := l.cache[url]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ch := l.group.DoChan(url, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		asset, err := l.fetch(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[url] = asset
		l.mu.Unlock()
		return asset, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Asset), nil
	}
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (*Asset, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("viewer: build model request: %w", err)
	}
	req.Header.Set("Accept", "model/gltf-binary, model/gltf+json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("viewer: fetch model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("viewer: fetch model: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("viewer: read model: %w", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, ErrModelTooLarge
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(body)).Decode(doc); err != nil {
		return nil, fmt.Errorf("viewer: decode model: %w", err)
	}

	asset := &Asset{
		URL:       url,
		Version:   doc.Asset.Version,
		Generator: doc.Asset.Generator,
		Scenes:    len(doc.Scenes),
		Nodes:     len(doc.Nodes),
		Meshes:    len(doc.Meshes),
		Materials: len(doc.Materials),
		doc:       doc,
	}
	l.logger.Debug("model loaded",
		zap.String("url", url),
		zap.Int("meshes", asset.Meshes),
		zap.Duration("duration", time.Since(start)),
	)
	return asset, nil
}
