// Package payments abstracts hosted checkout session creation behind a Provider
// interface so the session service never talks to a payment SDK directly.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupportedProvider is returned when no registered provider can serve a request.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRequest marks requests a provider refuses before contacting the PSP.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// LineItem references a sellable unit by its provider price identifier.
type LineItem struct {
	PriceID  string
	Quantity int64
}

// CheckoutSessionRequest is the provider-neutral input for a hosted checkout session.
type CheckoutSessionRequest struct {
	Items          []LineItem
	SuccessURL     string
	CancelURL      string
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Validate checks the fields every provider needs.
func (r CheckoutSessionRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidRequest)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.PriceID) == "" {
			return fmt.Errorf("%w: item %d has no price id", ErrInvalidRequest, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d has quantity %d", ErrInvalidRequest, i, item.Quantity)
		}
	}
	if strings.TrimSpace(r.SuccessURL) == "" || strings.TrimSpace(r.CancelURL) == "" {
		return fmt.Errorf("%w: return urls are required", ErrInvalidRequest)
	}
	return nil
}

// CheckoutSession is the hosted session returned by a provider.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// Manager routes session creation to a registered provider.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the provider used when no route matches.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.defaultProvider = normalizeName(name) }
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = normalizeName(name)
		}
	}
}

// NewManager registers providers by name. "stripe" becomes the default when present.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: make(map[string]string),
	}
	for name, p := range providers {
		key := normalizeName(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateCheckoutSession validates req and delegates to the provider chosen for its currency.
func (m *Manager) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return CheckoutSession{}, err
	}
	name, provider, err := m.resolve(req.Currency)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = name
	return session, nil
}

func (m *Manager) resolve(currency string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if name, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		if p, ok := m.providers[name]; ok {
			return name, p, nil
		}
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
