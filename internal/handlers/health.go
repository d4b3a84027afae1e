package handlers

import (
	"context"
	"net/http"
	"time"
)

// Readiness statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CheckResult is the outcome of one readiness check. Any status other than StatusError
// keeps the service ready.
type CheckResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ReadinessCheck inspects one dependency.
type ReadinessCheck func(ctx context.Context) CheckResult

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	clock   func() time.Time
	started time.Time
	checks  []namedCheck
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock; the first reading becomes the start time.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStartedAt sets the process start time used for uptime.
func WithHealthStartedAt(t time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.started = t
	}
}

// WithReadinessCheck registers a named check reported by /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && check != nil {
			h.checks = append(h.checks, namedCheck{name: name, check: check})
		}
	}
}

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.started.IsZero() {
		h.started = h.clock()
	}
	return h
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    StatusOK,
		"uptime":    now.Sub(h.started).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz runs every readiness check. It answers 503 only when a check reports StatusError.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	status := StatusOK
	results := make(map[string]CheckResult, len(h.checks))
	for _, c := range h.checks {
		res := c.check(r.Context())
		if res.Status == "" {
			res.Status = StatusOK
		}
		if res.Status == StatusError {
			status = StatusError
		}
		results[c.name] = res
	}

	code := http.StatusOK
	if status == StatusError {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}
