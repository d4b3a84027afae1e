package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/platform/requestctx"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<section>
<span>{{.Badge}}</span>
<h1>{{.Heading}}</h1>
<p>{{.Body}}</p>
{{if .Link}}<a href="{{.Link}}">{{.LinkLabel}}</a>{{end}}
</section>
</body>
</html>
`))

type landingPage struct {
	Title     string
	Badge     string
	Heading   string
	Body      string
	Link      string
	LinkLabel string
}

var (
	successPage = landingPage{
		Title:     "Order confirmed | DrWater",
		Badge:     "Order confirmed",
		Heading:   "Hydration experience unlocked",
		Body:      "Thank you for joining the DrWater ritual. We've emailed your receipt and shipping details. Track your order anytime from the confirmation email.",
		Link:      "/",
		LinkLabel: "Continue exploring",
	}
	checkoutPage = landingPage{
		Title:   "Checkout | DrWater",
		Badge:   "Quick checkout",
		Heading: "Secure Stripe checkout",
		Body:    "Add any product to your cart to launch Stripe Checkout in a secure window. You can also use the Stripe test keys locally by setting STRIPE_SECRET_KEY in your environment.",
	}
)

// PageRoutes registers the payment return targets.
func PageRoutes(r chi.Router) {
	r.Get("/success", servePage(successPage))
	r.Get("/checkout", servePage(checkoutPage))
}

func servePage(page landingPage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := landingTemplate.Execute(&buf, page); err != nil {
			requestctx.Logger(r.Context()).Error("render landing page failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}
