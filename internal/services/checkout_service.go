// Package services holds the server-side business operations behind the HTTP handlers.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/payments"
)

const (
	successPath = "/success"
	cancelPath  = "/checkout"
)

var (
	// ErrCheckoutNotConfigured reports a missing payment credential.
	ErrCheckoutNotConfigured = errors.New("checkout: payment provider not configured")
	// ErrCheckoutNoItems reports an empty item list.
	ErrCheckoutNoItems = errors.New("checkout: no items provided")
	// ErrCheckoutInvalidInput reports a malformed item or origin.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentFailed reports that the provider could not create a session.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
)

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutItem is one requested line, as sent by the client.
type CheckoutItem struct {
	PriceID  string
	Quantity int
}

// CreateCheckoutSessionCommand is the validated input of CreateCheckoutSession.
type CreateCheckoutSessionCommand struct {
	Items          []CheckoutItem
	Origin         string
	IdempotencyKey string
}

// CheckoutSession is the hosted session handed back to the client.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutService creates hosted payment sessions.
type CheckoutService interface {
	Configured() bool
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// CheckoutServiceDeps wires NewCheckoutService. A nil Payments is allowed and leaves the
// service unconfigured.
type CheckoutServiceDeps struct {
	Payments      sessionCreator
	Currency      string
	KnownPriceIDs map[string]struct{}
	Logger        *zap.Logger
}

type checkoutService struct {
	payments sessionCreator
	currency string
	known    map[string]struct{}
	logger   *zap.Logger
}

// NewCheckoutService constructs the service.
func NewCheckoutService(deps CheckoutServiceDeps) CheckoutService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &checkoutService{
		payments: deps.Payments,
		currency: currency,
		known:    deps.KnownPriceIDs,
		logger:   logger.Named("checkout"),
	}
}

func (s *checkoutService) Configured() bool {
	return s != nil && s.payments != nil
}

// CreateCheckoutSession validates cmd, clamps quantities to at least one and asks the
// provider for a session returning to <origin>/success or <origin>/checkout.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	if !s.Configured() {
		return CheckoutSession{}, ErrCheckoutNotConfigured
	}
	if len(cmd.Items) == 0 {
		return CheckoutSession{}, ErrCheckoutNoItems
	}

	origin, err := normalizeOrigin(cmd.Origin)
	if err != nil {
		return CheckoutSession{}, err
	}

	items := make([]payments.LineItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		priceID := strings.TrimSpace(item.PriceID)
		if priceID == "" {
			return CheckoutSession{}, fmt.Errorf("%w: item %d has no priceId", ErrCheckoutInvalidInput, i)
		}
		if s.known != nil {
			if _, ok := s.known[priceID]; !ok {
				return CheckoutSession{}, fmt.Errorf("%w: unknown priceId %q", ErrCheckoutInvalidInput, priceID)
			}
		}
		items = append(items, payments.LineItem{PriceID: priceID, Quantity: int64(max(item.Quantity, 1))})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Items:          items,
		SuccessURL:     origin + successPath,
		CancelURL:      origin + cancelPath,
		Currency:       s.currency,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Metadata:       map[string]string{"source": "storefront"},
	})
	if err != nil {
		s.logger.Error("create checkout session failed", zap.Error(err), zap.Int("items", len(items)))
		return CheckoutSession{}, fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err)
	}

	s.logger.Info("checkout session created", zap.String("session_id", session.ID), zap.String("provider", session.Provider))
	return CheckoutSession{ID: session.ID, URL: session.RedirectURL}, nil
}

func normalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || raw == "" || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: origin %q", ErrCheckoutInvalidInput, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
