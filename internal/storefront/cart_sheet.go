package storefront

import (
	"context"

	"github.com/drwater/storefront/internal/cart"
	"github.com/drwater/storefront/internal/checkout"
	"github.com/drwater/storefront/internal/format"
)

// Cart sheet copy.
const (
	CheckoutLabel        = "Checkout"
	CheckoutPendingLabel = "Redirecting…"
	EmptyCartMessage     = "Your cart is empty. Tap a hotspot to add."
	CheckoutNotice       = "Secure checkout powered by Stripe. Taxes and shipping calculated at checkout."
)

// LineView is one rendered cart line.
type LineView struct {
	Slug           string
	Title          string
	Tagline        string
	Quantity       int
	QuantityLabel  string
	LineTotalLabel string
}

// SheetView is the rendered cart panel.
type SheetView struct {
	Open             bool
	Empty            bool
	EmptyMessage     string
	Lines            []LineView
	SubtotalLabel    string
	Notice           string
	CheckoutLabel    string
	CheckoutDisabled bool
}

// CartSheet is the slide-over cart panel.
type CartSheet struct {
	store     *cart.Store
	submitter *checkout.Submitter
	opts      Options
}

// NewCartSheet wires the panel to a store and the checkout submitter.
func NewCartSheet(store *cart.Store, submitter *checkout.Submitter, opts ...Option) *CartSheet {
	return &CartSheet{store: store, submitter: submitter, opts: buildOptions(opts)}
}

// View renders the panel from a fresh snapshot.
func (s *CartSheet) View() SheetView {
	state := s.store.Snapshot()
	totals := s.store.Totals(state.Items)
	pending := s.submitter != nil && s.submitter.Pending()

	v := SheetView{
		Open:             state.Open,
		Empty:            len(state.Items) == 0,
		SubtotalLabel:    format.Price(totals.Subtotal, s.opts.Currency, s.opts.Language),
		Notice:           CheckoutNotice,
		CheckoutLabel:    CheckoutLabel,
		CheckoutDisabled: pending,
	}
	if pending {
		v.CheckoutLabel = CheckoutPendingLabel
	}
	if v.Empty {
		v.EmptyMessage = EmptyCartMessage
		return v
	}
	v.Lines = make([]LineView, 0, len(state.Items))
	for _, item := range state.Items {
		v.Lines = append(v.Lines, LineView{
			Slug:           item.Product.Slug,
			Title:          item.Product.Title,
			Tagline:        item.Product.Tagline,
			Quantity:       item.Quantity,
			QuantityLabel:  format.Quantity(item.Quantity, s.opts.Language),
			LineTotalLabel: format.Price(item.LineTotal(), s.opts.Currency, s.opts.Language),
		})
	}
	return v
}

// Increment adds one to the line.
func (s *CartSheet) Increment(slug string) {
	s.adjust(slug, 1)
}

// Decrement removes one from the line; the store keeps at least one.
func (s *CartSheet) Decrement(slug string) {
	s.adjust(slug, -1)
}

func (s *CartSheet) adjust(slug string, delta int) {
	for _, item := range s.store.Snapshot().Items {
		if item.Product.Slug == slug {
			s.store.UpdateQuantity(slug, item.Quantity+delta)
			return
		}
	}
}

// Remove deletes the line.
func (s *CartSheet) Remove(slug string) {
	s.store.RemoveItem(slug)
}

// Close hides the panel.
func (s *CartSheet) Close() {
	s.store.ToggleCart(false)
}

// Checkout submits the cart. It reports OutcomeBusy when no submitter is wired.
func (s *CartSheet) Checkout(ctx context.Context) checkout.SubmitOutcome {
	if s.submitter == nil {
		return checkout.OutcomeBusy
	}
	return s.submitter.Submit(ctx)
}
