package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/platform/httpx"
	"github.com/drwater/storefront/internal/platform/requestctx"
	"github.com/drwater/storefront/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024

	msgCheckoutNotConfigured = "Stripe secret key missing. Set STRIPE_SECRET_KEY in your environment."
	msgNoItems               = "No items provided"
	msgSessionFailed         = "Failed to create checkout session"
)

// CheckoutHandlers exposes the session creation endpoint.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
	keyHeader   string
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithIdempotency wraps the session route with mw. header names the key forwarded to the
// payment provider.
func WithIdempotency(mw func(http.Handler) http.Handler, header string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
		if header = strings.TrimSpace(header); header != "" {
			h.keyHeader = header
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout, keyHeader: "Idempotency-Key"}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/create-checkout", h.createSession)
}

type checkoutItemPayload struct {
	PriceID  string `json:"priceId"`
	Quantity int    `json:"quantity"`
}

type checkoutSessionResponse struct {
	URL string `json:"url"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || !h.checkout.Configured() {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_configured", msgCheckoutNotConfigured, http.StatusInternalServerError))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("no_items", msgNoItems, http.StatusBadRequest))
		return
	}

	items, ok := parseCheckoutItems(body)
	if !ok || len(items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("no_items", msgNoItems, http.StatusBadRequest))
		return
	}

	cmd := services.CreateCheckoutSessionCommand{
		Items:          items,
		Origin:         requestOrigin(r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.keyHeader)),
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{URL: session.URL})
}

// parseCheckoutItems reports false when the body is not JSON or items is not an array of
// line objects.
func parseCheckoutItems(body []byte) ([]services.CheckoutItem, bool) {
	var envelope struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	raw := strings.TrimSpace(string(envelope.Items))
	if !strings.HasPrefix(raw, "[") {
		return nil, false
	}
	var payload []checkoutItemPayload
	if err := json.Unmarshal(envelope.Items, &payload); err != nil {
		return nil, false
	}
	items := make([]services.CheckoutItem, 0, len(payload))
	for _, p := range payload {
		items = append(items, services.CheckoutItem{PriceID: p.PriceID, Quantity: p.Quantity})
	}
	return items, true
}

// requestOrigin prefers the Origin header and falls back to the request's scheme and host.
func requestOrigin(r *http.Request) string {
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && origin != "null" {
		return origin
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_configured", msgCheckoutNotConfigured, http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutNoItems):
		httpx.WriteError(ctx, w, httpx.NewError("no_items", msgNoItems, http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		requestctx.Logger(ctx).Error("checkout session failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", msgSessionFailed, http.StatusBadGateway))
	default:
		requestctx.Logger(ctx).Error("checkout request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
