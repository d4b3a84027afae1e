package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/drwater/storefront/internal/platform/idempotency"
	"github.com/drwater/storefront/internal/services"
)

type stubCheckoutService struct {
	configured bool
	calls      int
	createFunc func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error)
}

func (s *stubCheckoutService) Configured() bool { return s.configured }

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
	s.calls++
	if s.createFunc == nil {
		return services.CheckoutSession{ID: "cs_test", URL: "https://pay.example/cs_test"}, nil
	}
	return s.createFunc(ctx, cmd)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func newCheckoutRouter(svc services.CheckoutService, opts ...CheckoutOption) chi.Router {
	router := chi.NewRouter()
	NewCheckoutHandlers(svc, opts...).Routes(router)
	return router
}

func TestCheckoutHandlersCreateSessionSuccess(t *testing.T) {
	var captured services.CreateCheckoutSessionCommand
	svc := &stubCheckoutService{
		configured: true,
		createFunc: func(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			captured = cmd
			return services.CheckoutSession{ID: "cs_123", URL: "https://checkout.stripe.com/c/cs_123"}, nil
		},
	}
	router := newCheckoutRouter(svc)

	payload := `{"items":[{"priceId":"price_hydrosport","quantity":2},{"priceId":"price_glassbalance","quantity":0}]}`
	req := httptest.NewRequest(http.MethodPost, "/create-checkout", bytes.NewBufferString(payload))
	req.Header.Set("Origin", "https://drwater.example")
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.URL != "https://checkout.stripe.com/c/cs_123" {
		t.Fatalf("unexpected url %q", resp.URL)
	}
	if captured.Origin != "https://drwater.example" || captured.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 2 || captured.Items[1].Quantity != 0 {
		t.Fatalf("expected raw items forwarded to service, got %+v", captured.Items)
	}
}

func TestCheckoutHandlersMissingKey(t *testing.T) {
	svc := &stubCheckoutService{configured: false}
	router := newCheckoutRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/create-checkout", strings.NewReader(`not even json`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	body := decodeError(t, rr)
	if body["error"] != "Stripe secret key missing. Set STRIPE_SECRET_KEY in your environment." {
		t.Fatalf("unexpected error message %v", body["error"])
	}
	if svc.calls != 0 {
		t.Fatalf("expected service not to be called")
	}
}

func TestCheckoutHandlersNoItems(t *testing.T) {
	cases := map[string]string{
		"empty array":   `{"items":[]}`,
		"missing items": `{}`,
		"null items":    `{"items":null}`,
		"object items":  `{"items":{"priceId":"p"}}`,
		"string items":  `{"items":"p"}`,
		"invalid json":  `{"items":`,
		"empty body":    ``,
		"bad entries":   `{"items":[1,2]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubCheckoutService{configured: true}
			router := newCheckoutRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/create-checkout", strings.NewReader(payload))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if body := decodeError(t, rr); body["error"] != "No items provided" {
				t.Fatalf("unexpected error %v", body["error"])
			}
			if svc.calls != 0 {
				t.Fatalf("expected service not to be called")
			}
		})
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"payment failed", fmt.Errorf("%w: %w", services.ErrCheckoutPaymentFailed, errors.New("card_declined")), http.StatusBadGateway, "Failed to create checkout session"},
		{"invalid input", fmt.Errorf("%w: unknown price", services.ErrCheckoutInvalidInput), http.StatusBadRequest, ""},
		{"no items", services.ErrCheckoutNoItems, http.StatusBadRequest, "No items provided"},
		{"not configured", services.ErrCheckoutNotConfigured, http.StatusInternalServerError, "Stripe secret key missing. Set STRIPE_SECRET_KEY in your environment."},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				configured: true,
				createFunc: func(context.Context, services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
					return services.CheckoutSession{}, tc.err
				},
			}
			router := newCheckoutRouter(svc)
			req := httptest.NewRequest(http.MethodPost, "/create-checkout", strings.NewReader(`{"items":[{"priceId":"p","quantity":1}]}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if tc.message != "" {
				if body := decodeError(t, rr); body["error"] != tc.message {
					t.Fatalf("unexpected error %v", body["error"])
				}
			}
		})
	}
}

func TestCheckoutHandlersOriginFallback(t *testing.T) {
	var captured string
	svc := &stubCheckoutService{
		configured: true,
		createFunc: func(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSession, error) {
			captured = cmd.Origin
			return services.CheckoutSession{URL: "https://pay.example"}, nil
		},
	}
	router := newCheckoutRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "http://shop.local:8080/create-checkout", strings.NewReader(`{"items":[{"priceId":"p","quantity":1}]}`))
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured != "https://shop.local:8080" {
		t.Fatalf("unexpected origin %q", captured)
	}
}

func TestCheckoutHandlersIdempotentReplay(t *testing.T) {
	svc := &stubCheckoutService{configured: true}
	store := idempotency.NewMemoryStore()
	router := newCheckoutRouter(svc, WithIdempotency(idempotency.Middleware(store), "Idempotency-Key"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/create-checkout", strings.NewReader(`{"items":[{"priceId":"p","quantity":1}]}`))
		req.Header.Set("Idempotency-Key", "retry-1")
		req.Header.Set("Origin", "https://drwater.example")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both 200, got %d and %d", first.Code, second.Code)
	}
	if svc.calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", svc.calls)
	}
	if second.Header().Get(idempotency.ReplayHeader) == "" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
}
