package cart

import (
	"sync"

	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/domain"
)

// State is a point-in-time copy of the cart.
type State struct {
	Items []domain.CartItem
	Open  bool
}

// Totals summarises a set of cart lines.
type Totals struct {
	Subtotal      float64
	TotalQuantity int
}

// Listener receives the cart state after every mutation.
type Listener func(State)

// Option customises a Store.
type Option func(*Store)

// WithLogger attaches a logger used for debug-level mutation traces.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithItems seeds the store with existing lines, merging duplicates and clamping quantities.
func WithItems(items ...domain.CartItem) Option {
	return func(s *Store) {
		for _, item := range items {
			if item.Product == nil {
				continue
			}
			qty := clampQuantity(item.Quantity)
			if idx := s.indexOf(item.Product.Slug); idx >= 0 {
				s.items[idx].Quantity += qty
				continue
			}
			s.items = append(s.items, domain.CartItem{Product: item.Product, Quantity: qty})
		}
	}
}

// Store holds the cart lines and panel visibility. Listeners are notified synchronously
// after each mutation, outside the lock.
type Store struct {
	mu        sync.Mutex
	items     []domain.CartItem
	open      bool
	listeners map[uint64]Listener
	nextID    uint64
	logger    *zap.Logger
}

// NewStore constructs an empty, closed cart.
func NewStore(opts ...Option) *Store {
	s := &Store{
		listeners: make(map[uint64]Listener),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddItem increments the product's line or appends a new one, then opens the panel.
func (s *Store) AddItem(product *domain.Product) {
	if product == nil {
		return
	}
	s.mutate("add_item", func() bool {
		if idx := s.indexOf(product.Slug); idx >= 0 {
			s.items[idx].Quantity++
		} else {
			s.items = append(s.items, domain.CartItem{Product: product, Quantity: 1})
		}
		s.open = true
		return true
	}, zap.String("slug", product.Slug))
}

// RemoveItem deletes the line for slug. Unknown slugs are ignored.
func (s *Store) RemoveItem(slug string) {
	s.mutate("remove_item", func() bool {
		idx := s.indexOf(slug)
		if idx < 0 {
			return false
		}
		s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
		return true
	}, zap.String("slug", slug))
}

// UpdateQuantity sets the line quantity, clamped to a minimum of one.
func (s *Store) UpdateQuantity(slug string, quantity int) {
	s.mutate("update_quantity", func() bool {
		idx := s.indexOf(slug)
		if idx < 0 {
			return false
		}
		s.items[idx].Quantity = clampQuantity(quantity)
		return true
	}, zap.String("slug", slug), zap.Int("quantity", quantity))
}

// ToggleCart sets panel visibility to open[0], or flips it when no value is given.
func (s *Store) ToggleCart(open ...bool) {
	s.mutate("toggle_cart", func() bool {
		if len(open) > 0 {
			s.open = open[0]
		} else {
			s.open = !s.open
		}
		return true
	})
}

// Reset clears every line and closes the panel.
func (s *Store) Reset() {
	s.mutate("reset", func() bool {
		s.items = nil
		s.open = false
		return true
	})
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Totals computes subtotal and quantity for items. It reads nothing from the store, so
// callers may pass a snapshot or any other slice of lines.
func (s *Store) Totals(items []domain.CartItem) Totals {
	return ComputeTotals(items)
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// ComputeTotals sums price × quantity and quantities. It never modifies items.
func ComputeTotals(items []domain.CartItem) Totals {
	var totals Totals
	for _, item := range items {
		totals.Subtotal += item.LineTotal()
		totals.TotalQuantity += item.Quantity
	}
	return totals
}

func (s *Store) mutate(op string, apply func() bool, fields ...zap.Field) {
	s.mu.Lock()
	changed := apply()
	if !changed {
		s.mu.Unlock()
		return
	}
	state := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.logger.Debug("cart mutated", append(fields,
		zap.String("op", op),
		zap.Int("lines", len(state.Items)),
		zap.Bool("open", state.Open),
	)...)

	for _, l := range listeners {
		l(state)
	}
}

func (s *Store) snapshotLocked() State {
	items := make([]domain.CartItem, len(s.items))
	copy(items, s.items)
	return State{Items: items, Open: s.open}
}

func (s *Store) indexOf(slug string) int {
	for i, item := range s.items {
		if item.Product != nil && item.Product.Slug == slug {
			return i
		}
	}
	return -1
}

func clampQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
