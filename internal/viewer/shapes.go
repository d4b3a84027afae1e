package viewer

import (
	"math"

	"github.com/drwater/storefront/internal/domain"
)

// GroupOffset lifts every product mesh so it sits on the stage floor.
var GroupOffset = V(0, -0.2, 0)

// Triangle is three world-space vertices.
type Triangle [3]Vec3

// Geometry names a parametric primitive and its arguments.
type Geometry struct {
	Kind string    `json:"kind"`
	Args []float64 `json:"args"`
}

// Material is the flat material of a mesh.
type Material struct {
	Color     string  `json:"color"`
	Roughness float64 `json:"roughness"`
	Metalness float64 `json:"metalness"`
}

// Mesh is one primitive of a procedural shape.
type Mesh struct {
	Name     string   `json:"name"`
	Geometry Geometry `json:"geometry"`
	Material Material `json:"material"`
	Position Vec3     `json:"position"`
	Rotation Vec3     `json:"rotation"`

	triangles []Triangle
}

// Triangles returns the tessellated mesh in world space. The slice must not be modified.
func (m Mesh) Triangles() []Triangle { return m.triangles }

// ResolveShape maps unknown tags to the capsule.
func ResolveShape(shape domain.FallbackShape) domain.FallbackShape {
	if shape.Valid() {
		return shape
	}
	return domain.ShapeCapsule
}

// FallbackMeshes builds the procedural stand-in for shape.
func FallbackMeshes(shape domain.FallbackShape) []Mesh {
	switch shape {
	case domain.ShapeBottle:
		return []Mesh{
			newMesh("body", cylinder(0.3, 0.32, 1.4, 48), Material{Color: "#1f6fff", Metalness: 0.4, Roughness: 0.2}, Vec3{}, Vec3{}),
			newMesh("cap", cylinder(0.16, 0.16, 0.3, 32), Material{Color: "#1c3dff", Metalness: 0.5, Roughness: 0.15}, V(0, 0.85, 0), Vec3{}),
			newMesh("base", cylinder(0.34, 0.34, 0.2, 48), Material{Color: "#12497a", Roughness: 0.45}, V(0, -0.85, 0), Vec3{}),
		}
	case domain.ShapeCube:
		return []Mesh{
			newMesh("body", box(1.3, 1.2, 1.1), Material{Color: "#1f2e3a", Roughness: 0.45, Metalness: 0.15}, Vec3{}, Vec3{}),
			newMesh("panel", box(0.6, 0.25, 0.08), Material{Color: "#2e4b68", Roughness: 0.2, Metalness: 0.1}, V(0, 0.35, 0.55), Vec3{}),
		}
	case domain.ShapePitcher:
		return []Mesh{
			newMesh("body", cylinder(0.6, 0.55, 1.1, 48), Material{Color: "#1a4a60", Roughness: 0.35, Metalness: 0.25}, Vec3{}, Vec3{}),
			newMesh("handle", torus(0.35, 0.07, 16, 60), Material{Color: "#2f95b9", Roughness: 0.3}, V(0.7, 0.1, 0), V(0, 0, math.Pi/6)),
		}
	case domain.ShapePouch:
		return []Mesh{
			newMesh("body", box(0.75, 1.1, 0.25), Material{Color: "#4ce1ff", Roughness: 0.1, Metalness: 0.25}, Vec3{}, Vec3{}),
			newMesh("seal", box(0.75, 0.2, 0.27), Material{Color: "#0f6dbd", Roughness: 0.3}, V(0, 0.45, 0), Vec3{}),
		}
	case domain.ShapeCapsule:
		fallthrough
	default:
		return []Mesh{
			newMesh("body", capsule(0.32, 0.9, 32, 64), Material{Color: "#48baff", Roughness: 0.25, Metalness: 0.35}, Vec3{}, Vec3{}),
		}
	}
}

type primitive struct {
	geometry  Geometry
	triangles []Triangle
}

func newMesh(name string, p primitive, mat Material, position, rotation Vec3) Mesh {
	world := Translation(GroupOffset.Add(position)).Mul(Euler(rotation))
	tris := make([]Triangle, len(p.triangles))
	for i, t := range p.triangles {
		tris[i] = Triangle{world.TransformPoint(t[0]), world.TransformPoint(t[1]), world.TransformPoint(t[2])}
	}
	return Mesh{
		Name:      name,
		Geometry:  p.geometry,
		Material:  mat,
		Position:  position,
		Rotation:  rotation,
		triangles: tris,
	}
}

type ring struct {
	y, radius float64
}

// lathe sweeps rings (bottom to top) around the Y axis.
func lathe(rings []ring, segments int) []Triangle {
	tris := make([]Triangle, 0, (len(rings)-1)*segments*2)
	point := func(r ring, i int) Vec3 {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		s, c := math.Sincos(theta)
		return V(r.radius*s, r.y, r.radius*c)
	}
	for k := 0; k+1 < len(rings); k++ {
		lower, upper := rings[k], rings[k+1]
		for i := 0; i < segments; i++ {
			u0, u1 := point(upper, i), point(upper, i+1)
			l0, l1 := point(lower, i), point(lower, i+1)
			switch {
			case lower.radius <= 0:
				tris = append(tris, Triangle{u0, l0, u1})
			case upper.radius <= 0:
				tris = append(tris, Triangle{u0, l0, l1})
			default:
				tris = append(tris, Triangle{u0, l0, l1}, Triangle{u0, l1, u1})
			}
		}
	}
	return tris
}

func disc(y, radius float64, segments int, up bool) []Triangle {
	if radius <= 0 {
		return nil
	}
	center := V(0, y, 0)
	tris := make([]Triangle, 0, segments)
	for i := 0; i < segments; i++ {
		a0 := 2 * math.Pi * float64(i) / float64(segments)
		a1 := 2 * math.Pi * float64(i+1) / float64(segments)
		s0, c0 := math.Sincos(a0)
		s1, c1 := math.Sincos(a1)
		p0 := V(radius*s0, y, radius*c0)
		p1 := V(radius*s1, y, radius*c1)
		if up {
			tris = append(tris, Triangle{center, p0, p1})
		} else {
			tris = append(tris, Triangle{center, p1, p0})
		}
	}
	return tris
}

func cylinder(radiusTop, radiusBottom, height float64, segments int) primitive {
	half := height / 2
	tris := lathe([]ring{{-half, radiusBottom}, {half, radiusTop}}, segments)
	tris = append(tris, disc(half, radiusTop, segments, true)...)
	tris = append(tris, disc(-half, radiusBottom, segments, false)...)
	return primitive{
		geometry:  Geometry{Kind: "cylinder", Args: []float64{radiusTop, radiusBottom, height, float64(segments)}},
		triangles: tris,
	}
}

func capsule(radius, length float64, capSegments, radialSegments int) primitive {
	half := length / 2
	rings := make([]ring, 0, 2*capSegments+2)
	for j := 0; j <= capSegments; j++ {
		phi := -math.Pi/2 + math.Pi/2*float64(j)/float64(capSegments)
		rings = append(rings, ring{y: -half + radius*math.Sin(phi), radius: radius * math.Cos(phi)})
	}
	for j := 0; j <= capSegments; j++ {
		phi := math.Pi / 2 * float64(j) / float64(capSegments)
		rings = append(rings, ring{y: half + radius*math.Sin(phi), radius: radius * math.Cos(phi)})
	}
	// the poles collapse to points
	rings[0].radius = 0
	rings[len(rings)-1].radius = 0
	return primitive{
		geometry:  Geometry{Kind: "capsule", Args: []float64{radius, length, float64(capSegments), float64(radialSegments)}},
		triangles: lathe(rings, radialSegments),
	}
}

func box(width, height, depth float64) primitive {
	hx, hy, hz := width/2, height/2, depth/2
	quads := [][4]Vec3{
		{V(hx, -hy, hz), V(hx, -hy, -hz), V(hx, hy, -hz), V(hx, hy, hz)},
		{V(-hx, -hy, -hz), V(-hx, -hy, hz), V(-hx, hy, hz), V(-hx, hy, -hz)},
		{V(-hx, hy, hz), V(hx, hy, hz), V(hx, hy, -hz), V(-hx, hy, -hz)},
		{V(-hx, -hy, -hz), V(hx, -hy, -hz), V(hx, -hy, hz), V(-hx, -hy, hz)},
		{V(-hx, -hy, hz), V(hx, -hy, hz), V(hx, hy, hz), V(-hx, hy, hz)},
		{V(hx, -hy, -hz), V(-hx, -hy, -hz), V(-hx, hy, -hz), V(hx, hy, -hz)},
	}
	tris := make([]Triangle, 0, 12)
	for _, q := range quads {
		tris = append(tris, Triangle{q[0], q[1], q[2]}, Triangle{q[0], q[2], q[3]})
	}
	return primitive{
		geometry:  Geometry{Kind: "box", Args: []float64{width, height, depth}},
		triangles: tris,
	}
}

// torus lies in the XY plane around the Z axis.
func torus(radius, tube float64, radialSegments, tubularSegments int) primitive {
	point := func(i, j int) Vec3 {
		u := 2 * math.Pi * float64(i) / float64(tubularSegments)
		v := 2 * math.Pi * float64(j) / float64(radialSegments)
		r := radius + tube*math.Cos(v)
		return V(r*math.Cos(u), r*math.Sin(u), tube*math.Sin(v))
	}
	tris := make([]Triangle, 0, radialSegments*tubularSegments*2)
	for j := 0; j < radialSegments; j++ {
		for i := 0; i < tubularSegments; i++ {
			a, b := point(i, j), point(i+1, j)
			c, d := point(i+1, j+1), point(i, j+1)
			tris = append(tris, Triangle{a, b, d}, Triangle{b, c, d})
		}
	}
	return primitive{
		geometry:  Geometry{Kind: "torus", Args: []float64{radius, tube, float64(radialSegments), float64(tubularSegments)}},
		triangles: tris,
	}
}
