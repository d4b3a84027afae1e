package checkout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drwater/storefront/internal/domain"
)

func sampleItems() []domain.CartItem {
	return []domain.CartItem{
		{Product: &domain.Product{Slug: "hydro-sport-h2", Price: 199, PriceID: "price_hydrosport"}, Quantity: 2},
		{Product: &domain.Product{Slug: "glass-balance", Price: 64, PriceID: "price_glassbalance"}, Quantity: 1},
	}
}

func TestCreateSessionPostsSnapshot(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/api/create-checkout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("expected idempotency key, got %q", got)
		}
		var body Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Items) != 2 || body.Items[0] != (LineItem{PriceID: "price_hydrosport", Quantity: 2}) {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://pay.example/cs_1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithKeyGenerator(func() string { return "key-1" }))
	result, ok := client.CreateSession(context.Background(), sampleItems())
	if !ok {
		t.Fatalf("expected success")
	}
	if result.URL != "https://pay.example/cs_1" {
		t.Fatalf("unexpected url %q", result.URL)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", calls.Load())
	}
}

func TestCreateSessionGeneratesULIDKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Idempotency-Key"); len(got) != 26 {
			t.Errorf("expected 26 character ULID, got %q", got)
		}
		_, _ = w.Write([]byte(`{"url":"https://pay.example/x"}`))
	}))
	defer srv.Close()

	if _, ok := NewClient(srv.URL).CreateSession(context.Background(), sampleItems()); !ok {
		t.Fatalf("expected success")
	}
}

func TestCreateSessionFailuresAreAbsorbed(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantLog string
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"No items provided"}`, wantLog: "failed to create checkout session"},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"Stripe secret key missing."}`, wantLog: "failed to create checkout session"},
		{name: "malformed body", status: http.StatusOK, body: `{"url":`, wantLog: "decode checkout response"},
		{name: "empty url", status: http.StatusOK, body: `{}`, wantLog: "checkout response missing url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			core, logs := observer.New(zapcore.DebugLevel)
			client := NewClient(srv.URL, WithLogger(zap.New(core)))
			result, ok := client.CreateSession(context.Background(), sampleItems())
			if ok || result.URL != "" {
				t.Fatalf("expected absent result, got %+v", result)
			}
			if logs.FilterMessage(tc.wantLog).Len() != 1 {
				t.Fatalf("expected log %q, got %v", tc.wantLog, logs.All())
			}
		})
	}
}

func TestCreateSessionTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, ok := NewClient(url).CreateSession(context.Background(), sampleItems()); ok {
		t.Fatalf("expected failure against closed server")
	}
}

func TestNewRequestSkipsNilProducts(t *testing.T) {
	req := NewRequest([]domain.CartItem{{Product: nil, Quantity: 1}, sampleItems()[1]})
	if len(req.Items) != 1 || req.Items[0].PriceID != "price_glassbalance" {
		t.Fatalf("unexpected request %+v", req)
	}
}
