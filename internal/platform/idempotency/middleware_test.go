package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newCheckoutRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/create-checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddlewareMissingHeaderPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newCheckoutRequest(`{"items":[]}`, ""))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected handler status, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for every request without a key, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d records", store.Len())
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://pay.example/cs_1"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCheckoutRequest(`{"items":[{"priceId":"p","quantity":1}]}`, "01HZX"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCheckoutRequest(`{"items":[{"priceId":"p","quantity":1}]}`, "01HZX"))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if rr2.Code != http.StatusOK || rr2.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replayed 200, got %d (replay=%q)", rr2.Code, rr2.Header().Get(ReplayHeader))
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected identical body, got %s vs %s", rr2.Body.String(), rr1.Body.String())
	}
	if rr2.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content type to be replayed")
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCheckoutRequest(`{}`, "retry-key"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCheckoutRequest(`{}`, "retry-key"))

	if rr1.Code != http.StatusBadGateway || rr2.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d, %d", rr1.Code, rr2.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
}

func TestMiddlewareConflictingFingerprint(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest(`{"a":1}`, "same"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest(`{"a":2}`, "same"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is pending")
	}))

	req := newCheckoutRequest(`{"items":[]}`, "pending")
	storeKey, fingerprint := requestKeys(req, "pending", []byte(`{"items":[]}`))
	if _, _, err := store.Reserve(context.Background(), storeKey, fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesWhenCompleteFails(t *testing.T) {
	store := &stubStore{failComplete: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest(`{}`, "k"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler response to be delivered, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation release")
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = store.Reserve(ctx, "a", "f", fixedTime, time.Minute)
	_, _, _ = store.Reserve(ctx, "b", "f", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d (%v)", removed, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one record left, got %d", store.Len())
	}

	state, _, err := store.Reserve(ctx, "a", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || state != StateNew {
		t.Fatalf("expected expired key to be reusable, got %v (%v)", state, err)
	}
}

type stubStore struct {
	failComplete bool
	released     bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (State, Record, error) {
	return StateNew, Record{}, nil
}

func (s *stubStore) Complete(context.Context, string, string, Record, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("complete failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Code != expected {
		t.Fatalf("expected code %s, got %s", expected, body.Code)
	}
}
