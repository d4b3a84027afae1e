package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/catalog"
	"github.com/drwater/storefront/internal/domain"
	"github.com/drwater/storefront/internal/format"
	"github.com/drwater/storefront/internal/platform/httpx"
	"github.com/drwater/storefront/internal/platform/requestctx"
	"github.com/drwater/storefront/internal/viewer"
)

const (
	defaultPreviewSize = 480
	minPreviewSize     = 16
	maxPreviewSize     = 2048
	maxViewport        = 4096
)

// CapabilityReporter reports whether 3D rendering should be attempted.
type CapabilityReporter interface {
	Supported() bool
}

// ProductHandlers serves catalog, viewer scene and preview endpoints.
type ProductHandlers struct {
	catalog     *catalog.Catalog
	capability  CapabilityReporter
	loader      viewer.Loader
	currency    string
	previewSize int

	previews sync.Map
}

// ProductOption customises ProductHandlers.
type ProductOption func(*ProductHandlers)

// WithCapability sets the rendering capability source. Without one, rendering is assumed.
func WithCapability(c CapabilityReporter) ProductOption {
	return func(h *ProductHandlers) {
		h.capability = c
	}
}

// WithModelLoader sets the loader used for products with a remote model.
func WithModelLoader(l viewer.Loader) ProductOption {
	return func(h *ProductHandlers) {
		h.loader = l
	}
}

// WithCurrency sets the currency used for price labels.
func WithCurrency(currency string) ProductOption {
	return func(h *ProductHandlers) {
		if currency = strings.TrimSpace(currency); currency != "" {
			h.currency = currency
		}
	}
}

// WithPreviewSize sets the default preview edge in pixels.
func WithPreviewSize(size int) ProductOption {
	return func(h *ProductHandlers) {
		if size >= minPreviewSize && size <= maxPreviewSize {
			h.previewSize = size
		}
	}
}

// NewProductHandlers constructs product handlers over c.
func NewProductHandlers(c *catalog.Catalog, opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{
		catalog:     c,
		currency:    "usd",
		previewSize: defaultPreviewSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers product endpoints under the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{slug}", h.getProduct)
	r.Get("/products/{slug}/viewer", h.getViewer)
	r.Get("/products/{slug}/preview.png", h.getPreview)
}

type hotspotPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Position    [3]float64 `json:"position"`
}

type productPayload struct {
	Slug            string           `json:"slug"`
	Title           string           `json:"title"`
	Tagline         string           `json:"tagline"`
	Description     string           `json:"description"`
	DescriptionHTML string           `json:"descriptionHtml,omitempty"`
	Price           float64          `json:"price"`
	PriceLabel      string           `json:"priceLabel"`
	PriceID         string           `json:"priceId"`
	ModelURL        string           `json:"modelUrl,omitempty"`
	FallbackShape   string           `json:"fallbackShape"`
	Highlights      []string         `json:"highlights"`
	Hotspots        []hotspotPayload `json:"hotspots"`
	Featured        bool             `json:"featured"`
	PreviewURL      string           `json:"previewUrl"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.All()
	if featured, _ := strconv.ParseBool(r.URL.Query().Get("featured")); featured {
		products = h.catalog.Featured()
	}
	lang := preferredLanguage(r)
	resp := productListResponse{Items: make([]productPayload, 0, len(products))}
	for _, p := range products {
		resp.Items = append(resp.Items, h.toPayload(p, lang, false))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, h.toPayload(product, preferredLanguage(r), true))
}

func (h *ProductHandlers) getViewer(w http.ResponseWriter, r *http.Request) {
	product, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	query := r.URL.Query()

	supported := h.capability == nil || h.capability.Supported()
	if raw := query.Get("webgl"); raw != "" {
		if forced, err := strconv.ParseBool(raw); err == nil {
			supported = forced
		}
	}

	width, height := intParam(query.Get("width"), 800), intParam(query.Get("height"), 600)
	if width <= 0 || height <= 0 || width > maxViewport || height > maxViewport {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_viewport", "width and height must be between 1 and 4096", http.StatusBadRequest))
		return
	}

	v := viewer.Mount(ctx, product, supported,
		viewer.WithLoader(h.loader),
		viewer.WithLogger(requestctx.Logger(ctx).Named("viewer")),
		viewer.WithViewport(width, height),
		viewer.WithPreviewURL(previewURL(product.Slug)),
	)
	defer v.Dispose()

	if err := v.Wait(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("viewer_timeout", "model did not load in time", http.StatusGatewayTimeout))
		return
	}

	if v.Mode() != viewer.ModeStatic {
		if err := applyCameraParams(v, query); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_camera", err.Error(), http.StatusBadRequest))
			return
		}
		if id := strings.TrimSpace(query.Get("hotspot")); id != "" {
			if _, err := v.ToggleHotspot(id); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("hotspot_not_found", err.Error(), http.StatusNotFound))
				return
			}
		}
	}

	writeJSONResponse(w, http.StatusOK, v.Snapshot())
}

func applyCameraParams(v *viewer.Viewer, query map[string][]string) error {
	get := func(key string) (float64, bool, error) {
		values := query[key]
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false, fmt.Errorf("%s must be a number", key)
		}
		return f, true, nil
	}
	yaw, hasYaw, err := get("yaw")
	if err != nil {
		return err
	}
	pitch, hasPitch, err := get("pitch")
	if err != nil {
		return err
	}
	if hasYaw || hasPitch {
		if err := v.Orbit(yaw, pitch); err != nil {
			return err
		}
	}
	zoom, hasZoom, err := get("zoom")
	if err != nil {
		return err
	}
	if hasZoom {
		return v.Zoom(zoom)
	}
	return nil
}

func (h *ProductHandlers) getPreview(w http.ResponseWriter, r *http.Request) {
	product, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	size := intParam(r.URL.Query().Get("size"), h.previewSize)
	if size < minPreviewSize || size > maxPreviewSize {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_size", fmt.Sprintf("size must be between %d and %d", minPreviewSize, maxPreviewSize), http.StatusBadRequest))
		return
	}

	key := fmt.Sprintf("%s@%d", product.Slug, size)
	data, cached := h.previews.Load(key)
	if !cached {
		rendered, err := viewer.RenderPreview(product, size)
		if err != nil {
			requestctx.Logger(ctx).Error("render preview failed", zap.String("product", product.Slug), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("preview_failed", "failed to render preview", http.StatusInternalServerError))
			return
		}
		data, _ = h.previews.LoadOrStore(key, rendered)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data.([]byte))
}

func (h *ProductHandlers) lookup(w http.ResponseWriter, r *http.Request) (*domain.Product, bool) {
	slug := chi.URLParam(r, "slug")
	product, ok := h.catalog.Product(slug)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("product_not_found", fmt.Sprintf("product %q not found", slug), http.StatusNotFound))
		return nil, false
	}
	return product, true
}

func (h *ProductHandlers) toPayload(p *domain.Product, lang string, detail bool) productPayload {
	payload := productPayload{
		Slug:          p.Slug,
		Title:         p.Title,
		Tagline:       p.Tagline,
		Description:   p.Description,
		Price:         p.Price,
		PriceLabel:    format.Price(p.Price, h.currency, lang),
		PriceID:       p.PriceID,
		ModelURL:      p.ModelURL,
		FallbackShape: string(viewer.ResolveShape(p.Fallback)),
		Highlights:    append([]string{}, p.Highlights...),
		Hotspots:      make([]hotspotPayload, 0, len(p.Hotspots)),
		Featured:      p.Featured,
		PreviewURL:    previewURL(p.Slug),
	}
	if detail {
		payload.DescriptionHTML = h.catalog.DescriptionHTML(p.Slug)
	}
	for _, hs := range p.Hotspots {
		payload.Hotspots = append(payload.Hotspots, hotspotPayload{
			ID:          hs.ID,
			Title:       hs.Title,
			Description: hs.Description,
			Position:    hs.Position,
		})
	}
	return payload
}

func previewURL(slug string) string {
	return defaultAPIPrefix + "/products/" + slug + "/preview.png"
}

func intParam(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
