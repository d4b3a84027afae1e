package checkout

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/cart"
	"github.com/drwater/storefront/internal/domain"
)

// SubmitOutcome reports what a Submit call did.
type SubmitOutcome int

const (
	// OutcomeBusy means a previous submission is still pending; nothing was sent.
	OutcomeBusy SubmitOutcome = iota
	// OutcomeEmpty means the cart had no lines; nothing was sent.
	OutcomeEmpty
	// OutcomeRedirected means the navigator received the payment page URL.
	OutcomeRedirected
	// OutcomeRetry means the session call failed and the cart is untouched.
	OutcomeRetry
)

func (o SubmitOutcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRedirected:
		return "redirected"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Navigator leaves the storefront for url.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

// Navigate calls f(url).
func (f NavigatorFunc) Navigate(url string) { f(url) }

// SessionCreator is the subset of Client used by Submitter.
type SessionCreator interface {
	CreateSession(ctx context.Context, items []domain.CartItem) (Result, bool)
}

// Submitter guards the checkout control: one submission at a time, cart left untouched on
// failure.
type Submitter struct {
	sessions SessionCreator
	store    *cart.Store
	nav      Navigator
	logger   *zap.Logger
	pending  atomic.Bool
}

// NewSubmitter wires a session creator, the cart it reads from and a navigator.
func NewSubmitter(sessions SessionCreator, store *cart.Store, nav Navigator, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{sessions: sessions, store: store, nav: nav, logger: logger}
}

// Pending reports whether a submission is in flight.
func (s *Submitter) Pending() bool {
	return s.pending.Load()
}

// Submit snapshots the cart, requests a session and navigates on success.
func (s *Submitter) Submit(ctx context.Context) SubmitOutcome {
	if !s.pending.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer s.pending.Store(false)

	items := s.store.Snapshot().Items
	if len(items) == 0 {
		return OutcomeEmpty
	}

	result, ok := s.sessions.CreateSession(ctx, items)
	if !ok {
		s.logger.Info("checkout submission failed; cart kept for retry", zap.Int("lines", len(items)))
		return OutcomeRetry
	}
	if s.nav != nil {
		s.nav.Navigate(result.URL)
	}
	return OutcomeRedirected
}
