package viewer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/drwater/storefront/internal/domain"
)

const (
	supersample       = 2
	ambientIntensity  = 0.6
	directIntensity   = 1.2
	minPreviewSize    = 16
	maxPreviewSize    = 2048
	defaultLightColor = "#9bdcff"
)

var lightDirection = V(3, 6, 6).Normalize()

type projected struct {
	pts   [3][2]float64
	depth float64
	fill  color.NRGBA
}

// Render rasterises the scene's meshes with flat shading and painter's ordering. Scenes
// without meshes render as the background colour.
func Render(scene Scene, width, height int) *image.NRGBA {
	if width <= 0 || height <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	bg := parseHex(Background)
	canvas := imaging.New(width*supersample, height*supersample, bg)
	if len(scene.Meshes) == 0 {
		return imaging.Resize(canvas, width, height, imaging.Lanczos)
	}

	cam := NewControls(DefaultCameraPosition).Camera()
	if scene.Camera != nil {
		cam = *scene.Camera
	}
	w, h := float64(canvas.Bounds().Dx()), float64(canvas.Bounds().Dy())
	view := cam.View()
	viewProj := cam.Projection(w / h).Mul(view)
	light := parseHex(defaultLightColor)

	var faces []projected
	for _, mesh := range scene.Meshes {
		base := parseHex(mesh.Material.Color)
		for _, tri := range mesh.Triangles() {
			normal := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
			if normal.Len() < 1e-12 {
				continue
			}
			normal = normal.Normalize()
			centroid := tri[0].Add(tri[1]).Add(tri[2]).Scale(1.0 / 3)
			if normal.Dot(cam.Position.Sub(centroid)) < 0 {
				normal = normal.Scale(-1)
			}

			var face projected
			visible := true
			for i, p := range tri {
				clip, cw := viewProj.Apply(p)
				if cw <= 0 {
					visible = false
					break
				}
				face.pts[i] = [2]float64{
					(clip.X/cw + 1) / 2 * w,
					(1 - clip.Y/cw) / 2 * h,
				}
			}
			if !visible {
				continue
			}
			viewPos, _ := view.Apply(centroid)
			face.depth = viewPos.Z
			face.fill = shade(base, light, normal)
			faces = append(faces, face)
		}
	}

	// farthest first; view space looks down -Z
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].depth < faces[j].depth })
	for _, f := range faces {
		fillTriangle(canvas, f.pts, f.fill)
	}
	return imaging.Resize(canvas, width, height, imaging.Lanczos)
}

// RenderPreview renders the procedural shape of product at size×size and encodes it as PNG.
func RenderPreview(product *domain.Product, size int) ([]byte, error) {
	if product == nil {
		return nil, fmt.Errorf("viewer: preview requires a product")
	}
	if size < minPreviewSize || size > maxPreviewSize {
		return nil, fmt.Errorf("viewer: preview size %d out of range [%d, %d]", size, minPreviewSize, maxPreviewSize)
	}
	shape := ResolveShape(product.Fallback)
	cam := NewControls(DefaultCameraPosition).Camera()
	img := Render(Scene{
		Product:    product.Slug,
		Mode:       ModeFallback,
		Shape:      string(shape),
		Meshes:     FallbackMeshes(shape),
		Camera:     &cam,
		Width:      size,
		Height:     size,
		Background: Background,
	}, size, size)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("viewer: encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func shade(base, light color.NRGBA, normal Vec3) color.NRGBA {
	diffuse := math.Max(0, normal.Dot(lightDirection))
	channel := func(b, l uint8) uint8 {
		lf := float64(l) / 255
		v := float64(b) * lf * (ambientIntensity + directIntensity*diffuse)
		return uint8(clamp(math.Round(v), 0, 255))
	}
	return color.NRGBA{
		R: channel(base.R, light.R),
		G: channel(base.G, light.G),
		B: channel(base.B, light.B),
		A: 255,
	}
}

// fillTriangle scan-fills a screen-space triangle using edge functions.
func fillTriangle(img *image.NRGBA, pts [3][2]float64, c color.NRGBA) {
	b := img.Bounds()
	minX := int(math.Floor(math.Min(pts[0][0], math.Min(pts[1][0], pts[2][0]))))
	maxX := int(math.Ceil(math.Max(pts[0][0], math.Max(pts[1][0], pts[2][0]))))
	minY := int(math.Floor(math.Min(pts[0][1], math.Min(pts[1][1], pts[2][1]))))
	maxY := int(math.Ceil(math.Max(pts[0][1], math.Max(pts[1][1], pts[2][1]))))
	minX, minY = max(minX, b.Min.X), max(minY, b.Min.Y)
	maxX, maxY = min(maxX, b.Max.X-1), min(maxY, b.Max.Y-1)
	if minX > maxX || minY > maxY {
		return
	}

	edge := func(a, b [2]float64, x, y float64) float64 {
		return (b[0]-a[0])*(y-a[1]) - (b[1]-a[1])*(x-a[0])
	}
	area := edge(pts[0], pts[1], pts[2][0], pts[2][1])
	if math.Abs(area) < 1e-9 {
		return
	}
	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(pts[1], pts[2], px, py)
			w1 := edge(pts[2], pts[0], px, py)
			w2 := edge(pts[0], pts[1], px, py)
			if area > 0 {
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
			} else if w0 > 0 || w1 > 0 || w2 > 0 {
				continue
			}
			img.SetNRGBA(x, y, c)
		}
	}
}

func parseHex(s string) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{A: 255}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
