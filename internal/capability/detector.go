// Package capability decides whether hardware-accelerated 3D rendering is available.
//
// A Detector reports true until its probe has settled. Callers that render before Detect
// returns may therefore start a 3D scene and switch to the static panel once the probe
// reports false.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Probe answers whether rendering is supported.
type Probe func(ctx context.Context) (bool, error)

// ErrProbePanicked wraps a panic recovered from a probe.
var ErrProbePanicked = errors.New("capability: probe panicked")

// Static returns a probe that always reports the given answer.
func Static(supported bool) Probe {
	return func(context.Context) (bool, error) {
		return supported, nil
	}
}

// Option customises a Detector.
type Option func(*Detector)

// WithLogger attaches a logger for probe failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTimeout bounds a single probe run.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Detector runs its probe at most once and remembers the answer.
type Detector struct {
	probe     Probe
	timeout   time.Duration
	logger    *zap.Logger
	once      sync.Once
	settled   atomic.Bool
	supported atomic.Bool
}

// NewDetector constructs a detector that reports supported until Detect settles.
func NewDetector(probe Probe, opts ...Option) *Detector {
	d := &Detector{
		probe:   probe,
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
	}
	d.supported.Store(true)
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Supported returns the current answer without blocking.
func (d *Detector) Supported() bool {
	return d.supported.Load()
}

// Settled reports whether the probe has completed.
func (d *Detector) Settled() bool {
	return d.settled.Load()
}

// Detect runs the probe on first call and returns the settled answer. Probe errors, panics
// and a nil probe all settle to unsupported.
func (d *Detector) Detect(ctx context.Context) bool {
	d.once.Do(func() {
		ok, err := d.run(ctx)
		if err != nil {
			d.logger.Warn("rendering capability probe failed", zap.Error(err))
			ok = false
		}
		d.supported.Store(ok)
		d.settled.Store(true)
		d.logger.Info("rendering capability settled", zap.Bool("supported", ok))
	})
	return d.supported.Load()
}

func (d *Detector) run(ctx context.Context) (ok bool, err error) {
	if d.probe == nil {
		return false, errors.New("capability: no probe configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrProbePanicked, r)
		}
	}()
	return d.probe(ctx)
}
