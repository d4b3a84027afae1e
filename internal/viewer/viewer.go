// Package viewer models the interactive product viewer: the choice between a remote model,
// a procedural fallback shape and a static panel, the orbit camera, and the hotspot overlay.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/domain"
)

// Mode is what the viewer currently shows.
type Mode string

const (
	// ModeStatic is the panel shown when 3D rendering is unsupported.
	ModeStatic Mode = "static"
	// ModeLoading waits for a remote model; nothing is drawn yet.
	ModeLoading Mode = "loading"
	// ModeModel shows the loaded remote model.
	ModeModel Mode = "model"
	// ModeFallback shows the procedural shape.
	ModeFallback Mode = "fallback"
)

// Static panel copy.
const (
	StaticTitle   = "Experience fallback"
	StaticMessage = "WebGL is not available. View the product gallery image or revisit on a compatible device to interact in 3D."
)

// Background is the scene clear colour.
const Background = "#061019"

var (
	// ErrNoScene is returned by interactions on a static or disposed viewer.
	ErrNoScene = errors.New("viewer: no interactive scene")
	// ErrUnknownHotspot is returned when toggling an id the product does not define.
	ErrUnknownHotspot = errors.New("viewer: unknown hotspot")
)

// StaticPanel is the overlay shown in ModeStatic.
type StaticPanel struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// ProjectedHotspot is a hotspot placed on screen.
type ProjectedHotspot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Depth       float64 `json:"depth"`
	Visible     bool    `json:"visible"`
	Active      bool    `json:"active"`
}

// Scene is an immutable description of the viewer at one point in time.
type Scene struct {
	Product       string             `json:"product"`
	Mode          Mode               `json:"mode"`
	Shape         string             `json:"shape,omitempty"`
	Meshes        []Mesh             `json:"meshes,omitempty"`
	Asset         *Asset             `json:"asset,omitempty"`
	Camera        *Camera            `json:"camera,omitempty"`
	Width         int                `json:"width"`
	Height        int                `json:"height"`
	Background    string             `json:"background"`
	ActiveHotspot string             `json:"activeHotspot,omitempty"`
	Hotspots      []ProjectedHotspot `json:"hotspots"`
	Overlay       *StaticPanel       `json:"overlay,omitempty"`
	Disposed      bool               `json:"disposed,omitempty"`
}

// Option customises a Viewer.
type Option func(*Viewer)

// WithLoader sets the model loader.
func WithLoader(loader Loader) Option {
	return func(v *Viewer) {
		v.loader = loader
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Viewer) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithViewport sets the projection size in pixels.
func WithViewport(width, height int) Option {
	return func(v *Viewer) {
		if width > 0 && height > 0 {
			v.width, v.height = width, height
		}
	}
}

// WithPreviewURL sets the image linked from the static panel.
func WithPreviewURL(url string) Option {
	return func(v *Viewer) {
		v.previewURL = url
	}
}

// Viewer is one mounted product viewer. Safe for concurrent use.
type Viewer struct {
	mu         sync.Mutex
	product    *domain.Product
	loader     Loader
	logger     *zap.Logger
	width      int
	height     int
	previewURL string

	mode     Mode
	shape    domain.FallbackShape
	meshes   []Mesh
	asset    *Asset
	controls Controls
	active   string
	disposed bool

	token  uint64
	cancel context.CancelFunc
	ready  chan struct{}
}

// Mount builds a viewer for product. When supported is false the viewer is a static panel
// and never touches the loader.
func Mount(ctx context.Context, product *domain.Product, supported bool, opts ...Option) *Viewer {
	v := &Viewer{
		product:  product,
		logger:   zap.NewNop(),
		width:    800,
		height:   600,
		controls: NewControls(DefaultCameraPosition),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if product != nil {
		v.logger = v.logger.With(zap.String("product", product.Slug))
	}

	if !supported || product == nil {
		v.mode = ModeStatic
		close(v.ready)
		return v
	}

	v.shape = ResolveShape(product.Fallback)
	if !product.HasModel() {
		v.useFallbackLocked()
		close(v.ready)
		return v
	}

	if v.loader == nil {
		v.logger.Warn("no model loader configured; using procedural shape", zap.String("url", product.ModelURL))
		v.useFallbackLocked()
		close(v.ready)
		return v
	}

	if ctx == nil {
		ctx = context.Background()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	v.mode = ModeLoading
	v.token++
	v.cancel = cancel
	go v.load(loadCtx, v.token, product.ModelURL)
	return v
}

func (v *Viewer) load(ctx context.Context, token uint64, url string) {
	asset, err := v.safeLoad(ctx, url)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed || v.token != token {
		v.logger.Debug("discarding model load for disposed viewer", zap.String("url", url))
		return
	}
	v.cancel = nil
	if err == nil && asset == nil {
		err = errors.New("viewer: loader returned no asset")
	}
	if err != nil {
		v.logger.Warn("falling back to procedural model", zap.String("url", url), zap.Error(err))
		v.useFallbackLocked()
	} else {
		v.mode = ModeModel
		v.asset = asset
	}
	close(v.ready)
}

func (v *Viewer) safeLoad(ctx context.Context, url string) (asset *Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			asset, err = nil, fmt.Errorf("viewer: loader panicked: %v", r)
		}
	}()
	return v.loader.Load(ctx, url)
}

func (v *Viewer) useFallbackLocked() {
	v.mode = ModeFallback
	v.meshes = FallbackMeshes(v.shape)
}

// Ready is closed once the viewer has left ModeLoading or was disposed.
func (v *Viewer) Ready() <-chan struct{} {
	return v.ready
}

// Wait blocks until Ready or ctx is done.
func (v *Viewer) Wait(ctx context.Context) error {
	select {
	case <-v.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mode returns the current mode.
func (v *Viewer) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// Orbit rotates the camera by yaw and pitch deltas in radians.
func (v *Viewer) Orbit(dYaw, dPitch float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.interactiveLocked() {
		return ErrNoScene
	}
	v.controls.Rotate(dYaw, dPitch)
	return nil
}

// Zoom changes the camera distance; negative values move closer.
func (v *Viewer) Zoom(delta float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.interactiveLocked() {
		return ErrNoScene
	}
	v.controls.Dolly(delta)
	return nil
}

// Pan is disabled.
func (v *Viewer) Pan(dx, dy float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controls.Pan(dx, dy)
}

// ToggleHotspot activates id, or clears it when it is already active. It returns the id
// that is active afterwards.
func (v *Viewer) ToggleHotspot(id string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.interactiveLocked() {
		return "", ErrNoScene
	}
	if _, ok := v.product.Hotspot(id); !ok {
		return v.active, fmt.Errorf("%w: %s", ErrUnknownHotspot, id)
	}
	if v.active == id {
		v.active = ""
	} else {
		v.active = id
	}
	return v.active, nil
}

// ActiveHotspot returns the active hotspot id, or "".
func (v *Viewer) ActiveHotspot() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Hotspots projects every hotspot through the current camera.
func (v *Viewer) Hotspots() []ProjectedHotspot {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.interactiveLocked() {
		return nil
	}
	return v.projectLocked(v.controls.Camera())
}

func (v *Viewer) projectLocked(cam Camera) []ProjectedHotspot {
	if v.product == nil {
		return nil
	}
	// Hotspots are placed in world space; GroupOffset only moves the meshes.
	viewProj := cam.Projection(float64(v.width) / float64(v.height)).Mul(cam.View())
	out := make([]ProjectedHotspot, 0, len(v.product.Hotspots))
	for _, h := range v.product.Hotspots {
		clip, w := viewProj.Apply(V(h.Position[0], h.Position[1], h.Position[2]))
		p := ProjectedHotspot{
			ID:          h.ID,
			Title:       h.Title,
			Description: h.Description,
			Active:      h.ID == v.active,
		}
		if w > 0 {
			ndc := clip.Scale(1 / w)
			p.X = (ndc.X + 1) / 2 * float64(v.width)
			p.Y = (1 - ndc.Y) / 2 * float64(v.height)
			p.Depth = ndc.Z
			p.Visible = ndc.X >= -1 && ndc.X <= 1 && ndc.Y >= -1 && ndc.Y <= 1 && ndc.Z >= -1 && ndc.Z <= 1
		}
		out = append(out, p)
	}
	return out
}

// Dispose releases the scene and cancels an in-flight load. Loads finishing later are
// discarded. Calling Dispose again has no effect.
func (v *Viewer) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return
	}
	v.disposed = true
	v.token++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	wasLoading := v.mode == ModeLoading
	v.meshes = nil
	v.asset = nil
	v.active = ""
	if wasLoading {
		close(v.ready)
	}
}

// Snapshot describes the current scene.
func (v *Viewer) Snapshot() Scene {
	v.mu.Lock()
	defer v.mu.Unlock()

	scene := Scene{
		Mode:       v.mode,
		Width:      v.width,
		Height:     v.height,
		Background: Background,
		Disposed:   v.disposed,
		Hotspots:   []ProjectedHotspot{},
	}
	if v.product != nil {
		scene.Product = v.product.Slug
	}
	if v.mode == ModeStatic {
		scene.Overlay = &StaticPanel{Title: StaticTitle, Message: StaticMessage, PreviewURL: v.previewURL}
		return scene
	}
	if v.disposed {
		return scene
	}

	scene.Shape = string(v.shape)
	scene.Meshes = append([]Mesh(nil), v.meshes...)
	scene.Asset = v.asset
	scene.ActiveHotspot = v.active
	cam := v.controls.Camera()
	scene.Camera = &cam
	if v.mode != ModeLoading {
		scene.Hotspots = v.projectLocked(cam)
	}
	return scene
}

func (v *Viewer) interactiveLocked() bool {
	return !v.disposed && v.mode != ModeStatic
}
