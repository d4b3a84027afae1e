// Package storefront assembles the catalog, cart, checkout and viewer components into the
// page models rendered by the storefront front end.
package storefront

import (
	"context"
	"fmt"
	"sync"

	"github.com/drwater/storefront/internal/cart"
	"github.com/drwater/storefront/internal/domain"
	"github.com/drwater/storefront/internal/format"
	"github.com/drwater/storefront/internal/viewer"
)

// CapabilityReporter reports whether 3D rendering should be attempted.
type CapabilityReporter interface {
	Supported() bool
}

// Options shared by the page models.
type Options struct {
	Currency string
	Language string
	Loader   viewer.Loader
}

// Option customises a page model.
type Option func(*Options)

// WithCurrency sets the currency used for labels.
func WithCurrency(currency string) Option {
	return func(o *Options) { o.Currency = currency }
}

// WithLanguage sets the language tag used for labels.
func WithLanguage(lang string) Option {
	return func(o *Options) { o.Language = lang }
}

// WithLoader sets the model loader handed to mounted viewers.
func WithLoader(loader viewer.Loader) Option {
	return func(o *Options) { o.Loader = loader }
}

func buildOptions(opts []Option) Options {
	o := Options{Currency: "usd"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// AddToCart adds one unit of product and opens the cart panel.
func AddToCart(store *cart.Store, product *domain.Product) {
	if store == nil || product == nil {
		return
	}
	store.AddItem(product)
	store.ToggleCart(true)
}

// HotspotTab is one entry of the details-side hotspot selector.
type HotspotTab struct {
	ID     string
	Title  string
	Active bool
}

// ProductView is the rendered state of a product page.
type ProductView struct {
	Slug           string
	Title          string
	Tagline        string
	Description    string
	Highlights     []string
	PriceLabel     string
	Supported      bool
	StaticTitle    string
	StaticMessage  string
	Hotspots       []HotspotTab
	HotspotContent string
}

// ProductPage is the product detail page: viewer or static panel plus the details column.
type ProductPage struct {
	product    *domain.Product
	capability CapabilityReporter
	opts       Options

	mu     sync.Mutex
	active string
}

// NewProductPage builds the page. The details selector starts on the first hotspot.
func NewProductPage(product *domain.Product, capability CapabilityReporter, opts ...Option) *ProductPage {
	p := &ProductPage{product: product, capability: capability, opts: buildOptions(opts)}
	if product != nil && len(product.Hotspots) > 0 {
		p.active = product.Hotspots[0].ID
	}
	return p
}

// SelectHotspot shows id in the details column. Selecting the active id keeps it selected.
func (p *ProductPage) SelectHotspot(id string) error {
	if _, ok := p.product.Hotspot(id); !ok {
		return fmt.Errorf("%w: %s", viewer.ErrUnknownHotspot, id)
	}
	p.mu.Lock()
	p.active = id
	p.mu.Unlock()
	return nil
}

// AddToCart adds the page's product to store.
func (p *ProductPage) AddToCart(store *cart.Store) {
	AddToCart(store, p.product)
}

// MountViewer mounts a viewer for the current capability answer. The caller disposes it.
func (p *ProductPage) MountViewer(ctx context.Context, opts ...viewer.Option) *viewer.Viewer {
	all := append([]viewer.Option{viewer.WithLoader(p.opts.Loader)}, opts...)
	return viewer.Mount(ctx, p.product, p.supported(), all...)
}

// View renders the page state.
func (p *ProductPage) View() ProductView {
	if p.product == nil {
		return ProductView{}
	}
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	v := ProductView{
		Slug:        p.product.Slug,
		Title:       p.product.Title,
		Tagline:     p.product.Tagline,
		Description: p.product.Description,
		Highlights:  append([]string(nil), p.product.Highlights...),
		PriceLabel:  format.Price(p.product.Price, p.opts.Currency, p.opts.Language),
		Supported:   p.supported(),
	}
	if !v.Supported {
		v.StaticTitle = viewer.StaticTitle
		v.StaticMessage = viewer.StaticMessage
	}
	for _, h := range p.product.Hotspots {
		v.Hotspots = append(v.Hotspots, HotspotTab{ID: h.ID, Title: h.Title, Active: h.ID == active})
		if h.ID == active {
			v.HotspotContent = h.Description
		}
	}
	return v
}

func (p *ProductPage) supported() bool {
	return p.capability == nil || p.capability.Supported()
}
