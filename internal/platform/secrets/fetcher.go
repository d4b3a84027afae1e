// Package secrets resolves secret:// references against Google Secret Manager, with an
// in-memory cache and a local fallback file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/drwater/storefront/internal/platform/secrets"
)

// ErrInvalidReference is returned for references that are not secret:// URIs.
var ErrInvalidReference = errors.New("secrets: invalid reference")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (secretClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher implements config.SecretResolver.
type Fetcher struct {
	client     secretClient
	ownsClient bool
	logger     *zap.Logger
	project    string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	client       secretClient
	clientOpts   []option.ClientOption
	meter        metric.Meter
}

// Option customises NewFetcher.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *fetcherConfig) { c.logger = logger }
}

// WithDefaultProject sets the project used by short references such as secret://stripe-key.
func WithDefaultProject(project string) Option {
	return func(c *fetcherConfig) { c.project = strings.TrimSpace(project) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(c *fetcherConfig) { c.fallbackPath = strings.TrimSpace(path) }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *fetcherConfig) { c.clientOpts = append(c.clientOpts, opts...) }
}

// WithMeter overrides the OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(c *fetcherConfig) { c.meter = m }
}

func withClient(client secretClient) Option {
	return func(c *fetcherConfig) { c.client = client }
}

// NewFetcher builds a Fetcher. When the Secret Manager client cannot be created the
// fetcher still works from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		project:      strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:       cfg.logger.Named("secrets"),
		project:      cfg.project,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
	}

	latency, err := cfg.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution"),
	)
	if err != nil {
		f.logger.Warn("latency metric unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
	if err != nil {
		f.logger.Warn("secret manager unavailable; using fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the underlying client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret returns the secret payload for ref.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	name, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	cached, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, "cache")
		return cached, nil
	}

	if f.client != nil {
		value, err := f.access(ctx, name)
		if err == nil {
			f.store(name, value)
			f.record(ctx, start, "remote")
			return value, nil
		}
		if !fallbackEligible(err) {
			f.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: access %s: %w", name, err)
		}
		f.logger.Debug("falling back to local secrets", zap.String("name", name), zap.Error(err))
	}

	value, ok := f.lookupFallback(name)
	if !ok {
		f.record(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", name)
	}
	f.store(name, value)
	f.record(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	data := resp.GetPayload().GetData()
	if len(data) == 0 {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return strings.TrimSpace(string(data)), nil
}

// resourceName maps secret://projects/p/secrets/s/versions/v or secret://s to a full
// Secret Manager version name.
func (f *Fetcher) resourceName(ref string) (string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), "secret://")
	if !ok {
		if rest, ok = strings.CutPrefix(strings.TrimSpace(ref), "sm://"); !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if strings.HasPrefix(rest, "projects/") {
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets":
			return rest + "/versions/latest", nil
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions":
			return rest, nil
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
	}
	if strings.Contains(rest, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if f.project == "" {
		return "", fmt.Errorf("%w: %q needs a project", ErrInvalidReference, ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", f.project, rest), nil
}

// lookupFallback reads the fallback file, keyed by secret id with dashes replaced by
// underscores (STRIPE_SECRET_KEY=... serves projects/p/secrets/STRIPE-SECRET-KEY/...).
func (f *Fetcher) lookupFallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	parts := strings.Split(name, "/")
	if len(parts) < 4 {
		return "", false
	}
	v, ok := f.fallback[strings.ReplaceAll(parts[3], "-", "_")]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (f *Fetcher) store(name, value string) {
	f.mu.Lock()
	f.cache[name] = value
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
