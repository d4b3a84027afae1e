package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/platform/httpx"
	"github.com/drwater/storefront/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "X-Idempotent-Replay"
	maxKeyLength = 255
)

type middlewareConfig struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
}

// Option customises Middleware.
type Option func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) Option {
	return func(c *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			c.header = name
		}
	}
}

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) Option {
	return func(c *middlewareConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *middlewareConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Middleware replays the stored response when a POST is retried with the same key and
// body. Requests without the header pass through untouched. Server errors (5xx) are not
// stored, so a retry after an upstream failure runs the handler again.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := requestctx.Logger(ctx).Named("idempotency")

			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "Idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "Unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			storeKey, fingerprint := requestKeys(r, key, body)

			state, rec, err := store.Reserve(ctx, storeKey, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "Idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Error("reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "Unable to process idempotency key", http.StatusInternalServerError))
				return
			}

			switch state {
			case StateCompleted:
				logger.Debug("replaying stored response", zap.Int("status", rec.Status))
				replay(w, rec)
				return
			case StatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "A request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			buf := &bufferedWriter{header: make(http.Header)}
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						release(ctx, store, storeKey, logger)
						panic(rec)
					}
				}()
				next.ServeHTTP(buf, r)
			}()

			if buf.statusCode() >= http.StatusInternalServerError {
				release(ctx, store, storeKey, logger)
			} else if err := store.Complete(ctx, storeKey, fingerprint, Record{
				Status: buf.statusCode(),
				Header: buf.header,
				Body:   buf.body.Bytes(),
			}, cfg.clock().UTC(), cfg.ttl); err != nil {
				logger.Warn("storing response failed", zap.Error(err))
				release(ctx, store, storeKey, logger)
			}

			if err := buf.flushTo(w); err != nil {
				logger.Debug("writing response failed", zap.Error(err))
			}
		})
	}
}

// RunCleanup removes expired records every interval until ctx is done.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC())
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

// requestKeys scopes the client key to the route and fingerprints the method, path and body.
func requestKeys(r *http.Request, key string, body []byte) (storeKey, fingerprint string) {
	storeKey = hashHex([]byte(r.URL.Path + "|" + key))
	fingerprint = hashHex([]byte(r.Method + "|" + r.URL.Path + "|" + hashHex(body)))
	return storeKey, fingerprint
}

func release(ctx context.Context, store Store, key string, logger *zap.Logger) {
	if err := store.Release(ctx, key); err != nil {
		logger.Warn("release failed", zap.Error(err))
	}
}

func replay(w http.ResponseWriter, rec Record) {
	for name, values := range rec.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := rec.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(rec.Body)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
