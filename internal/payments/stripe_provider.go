package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

const defaultSessionLifetime = 24 * time.Hour

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures NewStripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	Clock    func() time.Time
	Sessions stripeSessionAPI
}

// StripeProvider creates Stripe Checkout sessions in payment mode, paid by card, with
// line items referencing pre-created Stripe prices.
type StripeProvider struct {
	sessions stripeSessionAPI
	logger   *zap.Logger
	clock    func() time.Time
}

// NewStripeProvider builds a provider from an API key, or from an injected sessions API.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(key, cfg.Backends).CheckoutSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StripeProvider{sessions: sessions, logger: logger.Named("stripe"), clock: clock}, nil
}

// CreateCheckoutSession implements Provider.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	session, err := p.sessions.New(params)
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.Int("items", len(req.Items))}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			fields = append(fields,
				zap.String("stripe_type", string(stripeErr.Type)),
				zap.String("stripe_code", string(stripeErr.Code)),
				zap.Int("stripe_status", stripeErr.HTTPStatusCode),
				zap.String("stripe_request_id", stripeErr.RequestID),
			)
		}
		p.logger.Warn("checkout session create failed", fields...)
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return CheckoutSession{}, errors.New("stripe: checkout session has no redirect url")
	}

	expiresAt := p.clock().UTC().Add(defaultSessionLifetime)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	p.logger.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("items", len(req.Items)),
	)
	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}
