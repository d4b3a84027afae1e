package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/drwater/storefront/internal/domain"
)

func TestDefaultCatalogLoadsEmbeddedProducts(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := c.All()
	if len(all) != 6 {
		t.Fatalf("expected 6 products, got %d", len(all))
	}
	if all[0].Slug != "hydro-sport-h2" {
		t.Fatalf("expected declaration order, first slug %q", all[0].Slug)
	}

	featured := c.Featured()
	if len(featured) != 3 {
		t.Fatalf("expected 3 featured products, got %d", len(featured))
	}
	for _, p := range featured {
		if !p.Featured {
			t.Fatalf("product %q returned as featured", p.Slug)
		}
	}

	for _, p := range all {
		if !p.Fallback.Valid() {
			t.Fatalf("product %q has invalid fallback %q", p.Slug, p.Fallback)
		}
		if p.HasModel() {
			t.Fatalf("product %q unexpectedly references a model", p.Slug)
		}
		if len(p.Hotspots) != 3 {
			t.Fatalf("product %q expected 3 hotspots, got %d", p.Slug, len(p.Hotspots))
		}
	}
}

func TestProductLookup(t *testing.T) {
	c := MustDefault()

	p, ok := c.Product("filter-flow")
	if !ok {
		t.Fatalf("expected filter-flow to exist")
	}
	if p.Fallback != domain.ShapePitcher || p.Price != 189 || p.PriceID != "price_filterflow" {
		t.Fatalf("unexpected product: %+v", p)
	}
	h, ok := p.Hotspot("specs")
	if !ok || h.Description != "NSF certified filters" {
		t.Fatalf("unexpected hotspot: %+v (ok=%v)", h, ok)
	}

	if _, ok := c.Product("missing"); ok {
		t.Fatalf("expected unknown slug to be absent")
	}
	if _, err := c.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDescriptionHTMLIsSanitised(t *testing.T) {
	c, err := Parse([]byte(`
products:
  - slug: demo
    title: Demo
    description: "**Bold** claim <script>alert(1)</script>"
    fallback_shape: cube
    price: 10
    price_id: price_demo
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	html := c.DescriptionHTML("demo")
	if !strings.Contains(html, "<strong>Bold</strong>") {
		t.Fatalf("expected rendered markdown, got %q", html)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("expected script tag to be stripped, got %q", html)
	}
}

func TestNewRejectsInvalidProducts(t *testing.T) {
	cases := map[string][]*domain.Product{
		"duplicate slug": {{Slug: "a"}, {Slug: "a"}},
		"empty slug":     {{Slug: " "}},
		"negative price": {{Slug: "a", Price: -1}},
		"duplicate hotspot": {{Slug: "a", Hotspots: []domain.Hotspot{
			{ID: "use"}, {ID: "use"},
		}}},
	}
	for name, products := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(products...); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPriceIDs(t *testing.T) {
	ids := MustDefault().PriceIDs()
	if _, ok := ids["price_roultra"]; !ok {
		t.Fatalf("expected price_roultra in %v", ids)
	}
	if len(ids) != 6 {
		t.Fatalf("expected 6 price ids, got %d", len(ids))
	}
}
