package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/drwater/storefront/internal/catalog"
	"github.com/drwater/storefront/internal/domain"
	"github.com/drwater/storefront/internal/viewer"
)

type staticCapability bool

func (s staticCapability) Supported() bool { return bool(s) }

func newProductRouter(t *testing.T, opts ...ProductOption) chi.Router {
	t.Helper()
	router := chi.NewRouter()
	NewProductHandlers(catalog.MustDefault(), opts...).Routes(router)
	return router
}

func doGet(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestListProducts(t *testing.T) {
	router := newProductRouter(t)

	rr := doGet(router, "/products")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Items) != 6 {
		t.Fatalf("expected 6 products, got %d", len(resp.Items))
	}
	if resp.Items[0].PriceLabel != "$199.00" {
		t.Fatalf("expected $199.00 label, got %q", resp.Items[0].PriceLabel)
	}
	if resp.Items[0].DescriptionHTML != "" {
		t.Fatalf("expected list payload without html description")
	}

	rr = doGet(router, "/products?featured=true")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 featured products, got %d", len(resp.Items))
	}
}

func TestGetProduct(t *testing.T) {
	router := newProductRouter(t)

	rr := doGet(router, "/products/filter-flow")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var p productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if p.Slug != "filter-flow" || p.FallbackShape != "pitcher" || p.PriceLabel != "$189.00" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.DescriptionHTML == "" || p.PreviewURL != "/api/products/filter-flow/preview.png" {
		t.Fatalf("expected html description and preview url, got %+v", p)
	}

	rr = doGet(router, "/products/unknown")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestGetViewerFallbackScene(t *testing.T) {
	router := newProductRouter(t, WithCapability(staticCapability(true)))

	rr := doGet(router, "/products/filter-flow/viewer?hotspot=specs&zoom=-10")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var scene viewer.Scene
	if err := json.Unmarshal(rr.Body.Bytes(), &scene); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if scene.Mode != viewer.ModeFallback || scene.Shape != "pitcher" {
		t.Fatalf("unexpected scene mode %s shape %s", scene.Mode, scene.Shape)
	}
	if len(scene.Meshes) != 2 || scene.ActiveHotspot != "specs" {
		t.Fatalf("unexpected scene %+v", scene)
	}
	if scene.Camera == nil || scene.Camera.Distance != viewer.MinDistance {
		t.Fatalf("expected zoom clamped to min distance, got %+v", scene.Camera)
	}
	if len(scene.Hotspots) != 3 {
		t.Fatalf("expected 3 projected hotspots, got %d", len(scene.Hotspots))
	}
}

func TestGetViewerStaticBranch(t *testing.T) {
	cases := map[string]struct {
		capability CapabilityReporter
		target     string
	}{
		"unsupported": {staticCapability(false), "/products/hydro-sport-h2/viewer"},
		"forced off":  {staticCapability(true), "/products/hydro-sport-h2/viewer?webgl=0"},
		"no detector": {nil, "/products/hydro-sport-h2/viewer?webgl=false"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newProductRouter(t, WithCapability(tc.capability))
			rr := doGet(router, tc.target)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			var scene viewer.Scene
			if err := json.Unmarshal(rr.Body.Bytes(), &scene); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if scene.Mode != viewer.ModeStatic || scene.Overlay == nil || len(scene.Meshes) != 0 {
				t.Fatalf("expected static panel, got %+v", scene)
			}
			if scene.Overlay.Title != viewer.StaticTitle {
				t.Fatalf("unexpected overlay %+v", scene.Overlay)
			}
		})
	}
}

func TestGetViewerModelFailureFallsBack(t *testing.T) {
	c, err := catalog.New(&domain.Product{
		Slug:     "remote",
		Title:    "Remote",
		ModelURL: "https://cdn.example/remote.glb",
		Fallback: domain.ShapeBottle,
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	loader := viewer.LoaderFunc(func(context.Context, string) (*viewer.Asset, error) {
		return nil, errors.New("404")
	})
	router := chi.NewRouter()
	NewProductHandlers(c, WithModelLoader(loader)).Routes(router)

	rr := doGet(router, "/products/remote/viewer")
	var scene viewer.Scene
	if err := json.Unmarshal(rr.Body.Bytes(), &scene); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if scene.Mode != viewer.ModeFallback || scene.Shape != "bottle" {
		t.Fatalf("expected bottle fallback, got %s/%s", scene.Mode, scene.Shape)
	}
}

func TestGetViewerRejectsBadParams(t *testing.T) {
	router := newProductRouter(t)
	for target, status := range map[string]int{
		"/products/filter-flow/viewer?width=0":      http.StatusBadRequest,
		"/products/filter-flow/viewer?yaw=left":     http.StatusBadRequest,
		"/products/filter-flow/viewer?hotspot=nope": http.StatusNotFound,
		"/products/filter-flow/viewer?width=abc":    http.StatusBadRequest,
		"/products/filter-flow/viewer?zoom=NaN":     http.StatusBadRequest,
		"/products/filter-flow/viewer?pitch=-Inf":   http.StatusBadRequest,
		"/products/filter-flow/viewer?yaw=+Inf":     http.StatusBadRequest,
	} {
		if rr := doGet(router, target); rr.Code != status {
			t.Fatalf("%s: expected status %d, got %d", target, status, rr.Code)
		}
	}
}

func TestGetPreview(t *testing.T) {
	router := newProductRouter(t)

	rr := doGet(router, "/products/glass-balance/preview.png?size=32")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Fatalf("expected 32px preview, got %d", img.Bounds().Dx())
	}

	if rr := doGet(router, "/products/glass-balance/preview.png?size=4"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for tiny preview, got %d", rr.Code)
	}
}
