package services

import (
	"context"
	"errors"
	"testing"

	"github.com/drwater/storefront/internal/payments"
)

type stubPayments struct {
	calls   int
	lastReq payments.CheckoutSessionRequest
	session payments.CheckoutSession
	err     error
}

func (s *stubPayments) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.calls++
	s.lastReq = req
	return s.session, s.err
}

func TestCreateCheckoutSessionNotConfigured(t *testing.T) {
	svc := NewCheckoutService(CheckoutServiceDeps{})
	if svc.Configured() {
		t.Fatalf("expected service without payments to be unconfigured")
	}
	_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		Items:  []CheckoutItem{{PriceID: "p", Quantity: 1}},
		Origin: "https://shop.example",
	})
	if !errors.Is(err, ErrCheckoutNotConfigured) {
		t.Fatalf("expected ErrCheckoutNotConfigured, got %v", err)
	}
}

func TestCreateCheckoutSessionNoItems(t *testing.T) {
	p := &stubPayments{}
	svc := NewCheckoutService(CheckoutServiceDeps{Payments: p})
	_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{Origin: "https://shop.example"})
	if !errors.Is(err, ErrCheckoutNoItems) {
		t.Fatalf("expected ErrCheckoutNoItems, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestCreateCheckoutSessionBuildsReturnURLsAndClampsQuantity(t *testing.T) {
	p := &stubPayments{session: payments.CheckoutSession{ID: "cs_1", RedirectURL: "https://pay.example/cs_1", Provider: "stripe"}}
	svc := NewCheckoutService(CheckoutServiceDeps{Payments: p, Currency: "USD"})

	session, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		Items: []CheckoutItem{
			{PriceID: " price_hydrosport ", Quantity: 2},
			{PriceID: "price_glassbalance", Quantity: 0},
			{PriceID: "price_roultra", Quantity: -3},
		},
		Origin:         "https://shop.example/some/page?x=1",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.URL != "https://pay.example/cs_1" || session.ID != "cs_1" {
		t.Fatalf("unexpected session %+v", session)
	}

	req := p.lastReq
	if req.SuccessURL != "https://shop.example/success" || req.CancelURL != "https://shop.example/checkout" {
		t.Fatalf("unexpected return urls %s %s", req.SuccessURL, req.CancelURL)
	}
	if req.Currency != "usd" || req.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected request %+v", req)
	}
	want := []payments.LineItem{
		{PriceID: "price_hydrosport", Quantity: 2},
		{PriceID: "price_glassbalance", Quantity: 1},
		{PriceID: "price_roultra", Quantity: 1},
	}
	if len(req.Items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(req.Items))
	}
	for i := range want {
		if req.Items[i] != want[i] {
			t.Fatalf("item %d: expected %+v, got %+v", i, want[i], req.Items[i])
		}
	}
}

func TestCreateCheckoutSessionInvalidInput(t *testing.T) {
	p := &stubPayments{}
	svc := NewCheckoutService(CheckoutServiceDeps{
		Payments:      p,
		KnownPriceIDs: map[string]struct{}{"price_hydrosport": {}},
	})

	cases := map[string]CreateCheckoutSessionCommand{
		"blank price":   {Items: []CheckoutItem{{PriceID: ""}}, Origin: "https://shop.example"},
		"unknown price": {Items: []CheckoutItem{{PriceID: "price_other", Quantity: 1}}, Origin: "https://shop.example"},
		"bad origin":    {Items: []CheckoutItem{{PriceID: "price_hydrosport", Quantity: 1}}, Origin: "ftp://shop"},
		"empty origin":  {Items: []CheckoutItem{{PriceID: "price_hydrosport", Quantity: 1}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CreateCheckoutSession(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
	if p.calls != 0 {
		t.Fatalf("provider should not be called for invalid input")
	}
}

func TestCreateCheckoutSessionProviderFailure(t *testing.T) {
	boom := errors.New("stripe down")
	svc := NewCheckoutService(CheckoutServiceDeps{Payments: &stubPayments{err: boom}})
	_, err := svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		Items:  []CheckoutItem{{PriceID: "p", Quantity: 1}},
		Origin: "http://localhost:3000",
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped payment failure, got %v", err)
	}
}
