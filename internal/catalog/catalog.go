package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/drwater/storefront/internal/domain"
)

// ErrNotFound is returned when no product matches a slug.
var ErrNotFound = errors.New("catalog: product not found")

//go:embed products.yaml
var defaultProducts []byte

type catalogFile struct {
	Products []productRecord `yaml:"products"`
}

type productRecord struct {
	Slug          string          `yaml:"slug"`
	Title         string          `yaml:"title"`
	Tagline       string          `yaml:"tagline"`
	Description   string          `yaml:"description"`
	ModelURL      string          `yaml:"model_url"`
	FallbackShape string          `yaml:"fallback_shape"`
	Price         float64         `yaml:"price"`
	PriceID       string          `yaml:"price_id"`
	Highlights    []string        `yaml:"highlights"`
	Hotspots      []hotspotRecord `yaml:"hotspots"`
	Featured      bool            `yaml:"featured"`
}

type hotspotRecord struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Position    [3]float64 `yaml:"position"`
}

// Catalog is a read-only, in-memory product index. Safe for concurrent use.
type Catalog struct {
	products []*domain.Product
	bySlug   map[string]*domain.Product
	html     map[string]string
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultProducts)
}

// MustDefault is Default for process start-up, panicking on malformed embedded data.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(file.toProducts()...)
}

// New builds a catalog from already constructed products. Slugs must be unique and
// prices non-negative.
func New(products ...*domain.Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]*domain.Product, 0, len(products)),
		bySlug:   make(map[string]*domain.Product, len(products)),
		html:     make(map[string]string, len(products)),
	}
	md := goldmark.New()
	policy := bluemonday.UGCPolicy()
	for _, p := range products {
		if p == nil {
			continue
		}
		slug := strings.TrimSpace(p.Slug)
		if slug == "" {
			return nil, errors.New("catalog: product slug is required")
		}
		if _, dup := c.bySlug[slug]; dup {
			return nil, fmt.Errorf("catalog: duplicate slug %q", slug)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("catalog: product %q has negative price", slug)
		}
		if err := validateHotspots(p); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := md.Convert([]byte(p.Description), &buf); err != nil {
			return nil, fmt.Errorf("catalog: render description for %q: %w", slug, err)
		}

		c.products = append(c.products, p)
		c.bySlug[slug] = p
		c.html[slug] = strings.TrimSpace(policy.Sanitize(buf.String()))
	}
	return c, nil
}

func validateHotspots(p *domain.Product) error {
	seen := make(map[string]struct{}, len(p.Hotspots))
	for _, h := range p.Hotspots {
		if strings.TrimSpace(h.ID) == "" {
			return fmt.Errorf("catalog: product %q has a hotspot without id", p.Slug)
		}
		if _, dup := seen[h.ID]; dup {
			return fmt.Errorf("catalog: product %q has duplicate hotspot %q", p.Slug, h.ID)
		}
		seen[h.ID] = struct{}{}
	}
	return nil
}

// All returns every product in declaration order.
func (c *Catalog) All() []*domain.Product {
	if c == nil {
		return nil
	}
	out := make([]*domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Featured returns the products flagged for the landing grid.
func (c *Catalog) Featured() []*domain.Product {
	if c == nil {
		return nil
	}
	out := make([]*domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if p.Featured {
			out = append(out, p)
		}
	}
	return out
}

// Product looks up a product by slug.
func (c *Catalog) Product(slug string) (*domain.Product, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.bySlug[strings.TrimSpace(slug)]
	return p, ok
}

// Lookup is Product returning ErrNotFound for unknown slugs.
func (c *Catalog) Lookup(slug string) (*domain.Product, error) {
	p, ok := c.Product(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return p, nil
}

// DescriptionHTML returns the sanitised HTML rendering of a product description.
func (c *Catalog) DescriptionHTML(slug string) string {
	if c == nil {
		return ""
	}
	return c.html[strings.TrimSpace(slug)]
}

// PriceIDs returns the set of price identifiers known to the catalog.
func (c *Catalog) PriceIDs() map[string]struct{} {
	out := make(map[string]struct{})
	if c == nil {
		return out
	}
	for _, p := range c.products {
		if p.PriceID != "" {
			out[p.PriceID] = struct{}{}
		}
	}
	return out
}

func (f catalogFile) toProducts() []*domain.Product {
	out := make([]*domain.Product, 0, len(f.Products))
	for _, rec := range f.Products {
		p := &domain.Product{
			Slug:        strings.TrimSpace(rec.Slug),
			Title:       rec.Title,
			Tagline:     rec.Tagline,
			Description: strings.TrimSpace(rec.Description),
			Price:       rec.Price,
			PriceID:     strings.TrimSpace(rec.PriceID),
			ModelURL:    strings.TrimSpace(rec.ModelURL),
			Fallback:    domain.ParseFallbackShape(rec.FallbackShape),
			Highlights:  append([]string(nil), rec.Highlights...),
			Featured:    rec.Featured,
		}
		for _, h := range rec.Hotspots {
			p.Hotspots = append(p.Hotspots, domain.Hotspot{
				ID:          strings.TrimSpace(h.ID),
				Position:    h.Position,
				Title:       h.Title,
				Description: h.Description,
			})
		}
		out = append(out, p)
	}
	return out
}
