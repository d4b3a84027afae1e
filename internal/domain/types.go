package domain

import "strings"

// FallbackShape names the procedural mesh rendered when no remote model is available.
type FallbackShape string

const (
	// ShapeBottle is a tall cylinder with a cap and a base ring.
	ShapeBottle FallbackShape = "bottle"
	// ShapeCapsule is a rounded capsule; it is also the default for unknown tags.
	ShapeCapsule FallbackShape = "capsule"
	// ShapeCube is a box with a front display panel.
	ShapeCube FallbackShape = "cube"
	// ShapePitcher is a tapered cylinder with a torus handle.
	ShapePitcher FallbackShape = "pitcher"
	// ShapePouch is a flat box with a sealed top strip.
	ShapePouch FallbackShape = "pouch"
)

// Valid reports whether the shape belongs to the closed set of known shapes.
func (s FallbackShape) Valid() bool {
	switch s {
	case ShapeBottle, ShapeCapsule, ShapeCube, ShapePitcher, ShapePouch:
		return true
	default:
		return false
	}
}

// ParseFallbackShape normalises a raw tag. Unknown values are returned as-is so callers
// can decide how to degrade.
func ParseFallbackShape(raw string) FallbackShape {
	return FallbackShape(strings.ToLower(strings.TrimSpace(raw)))
}

// Hotspot is a 3D-anchored annotation that belongs to exactly one product.
type Hotspot struct {
	ID          string
	Position    [3]float64
	Title       string
	Description string
}

// Product is an immutable catalog record shared by reference across components.
type Product struct {
	Slug        string
	Title       string
	Tagline     string
	Description string
	Price       float64
	PriceID     string
	ModelURL    string
	Fallback    FallbackShape
	Highlights  []string
	Hotspots    []Hotspot
	Featured    bool
}

// HasModel reports whether the product references a remote 3D asset.
func (p *Product) HasModel() bool {
	return p != nil && strings.TrimSpace(p.ModelURL) != ""
}

// Hotspot returns the hotspot with the given id.
func (p *Product) Hotspot(id string) (Hotspot, bool) {
	if p == nil {
		return Hotspot{}, false
	}
	for _, h := range p.Hotspots {
		if h.ID == id {
			return h, true
		}
	}
	return Hotspot{}, false
}

// CartItem pairs a product with a quantity that is always at least one.
type CartItem struct {
	Product  *Product
	Quantity int
}

// LineTotal returns price multiplied by quantity for the line.
func (i CartItem) LineTotal() float64 {
	if i.Product == nil {
		return 0
	}
	return i.Product.Price * float64(i.Quantity)
}
