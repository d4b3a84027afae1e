package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

func TestStripeProviderBuildsPriceLineItems(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		ID:        "cs_test_1",
		URL:       "https://checkout.stripe.com/c/pay/cs_test_1",
		ExpiresAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).Unix(),
	}}
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: sessions})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ctx := context.Background()
	req := CheckoutSessionRequest{
		Items: []LineItem{
			{PriceID: "price_hydrosport", Quantity: 2},
			{PriceID: "price_electrolyte", Quantity: 1},
		},
		SuccessURL:     "https://shop.example/success",
		CancelURL:      "https://shop.example/checkout",
		IdempotencyKey: "01J0000000000000000000000",
		Metadata:       map[string]string{"source": "storefront"},
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if session.RedirectURL != "https://checkout.stripe.com/c/pay/cs_test_1" || session.ID != "cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}

	p := sessions.params
	if p.Context != ctx {
		t.Fatalf("expected request context on params")
	}
	if stripe.StringValue(p.Mode) != "payment" {
		t.Fatalf("expected payment mode, got %s", stripe.StringValue(p.Mode))
	}
	if len(p.PaymentMethodTypes) != 1 || stripe.StringValue(p.PaymentMethodTypes[0]) != "card" {
		t.Fatalf("expected card payment method")
	}
	if stripe.StringValue(p.SuccessURL) != req.SuccessURL || stripe.StringValue(p.CancelURL) != req.CancelURL {
		t.Fatalf("unexpected return urls")
	}
	if len(p.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(p.LineItems))
	}
	if stripe.StringValue(p.LineItems[0].Price) != "price_hydrosport" || stripe.Int64Value(p.LineItems[0].Quantity) != 2 {
		t.Fatalf("unexpected first line item %+v", p.LineItems[0])
	}
	if p.IdempotencyKey == nil || *p.IdempotencyKey != req.IdempotencyKey {
		t.Fatalf("expected idempotency key to be forwarded")
	}
	if p.Metadata["source"] != "storefront" {
		t.Fatalf("expected metadata to be forwarded")
	}
}

func TestStripeProviderWrapsErrors(t *testing.T) {
	apiErr := &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 400, Msg: "No such price"}
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: &fakeSessions{err: apiErr}})

	_, err := provider.CreateCheckoutSession(context.Background(), validRequest())
	var got *stripe.Error
	if !errors.As(err, &got) || got.HTTPStatusCode != 400 {
		t.Fatalf("expected wrapped stripe error, got %v", err)
	}
}

func TestStripeProviderRejectsSessionWithoutURL(t *testing.T) {
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: &fakeSessions{session: &stripe.CheckoutSession{ID: "cs"}}})
	if _, err := provider.CreateCheckoutSession(context.Background(), validRequest()); err == nil {
		t.Fatalf("expected error for session without url")
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{APIKey: "  "}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
