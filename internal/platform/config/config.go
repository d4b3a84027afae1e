// Package config resolves runtime configuration from an explicit map, the process
// environment and an optional .env file, in that order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultRequestTimeout  = 20 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultCurrency        = "usd"
	defaultProbeTimeout    = 10 * time.Second
	defaultModelTimeout    = 15 * time.Second
	defaultPreviewSize     = 480
	defaultIdemHeader      = "Idempotency-Key"
	defaultIdemTTL         = 24 * time.Hour
	defaultIdemInterval    = time.Hour
)

// WebGLMode selects how rendering capability is decided.
type WebGLMode string

const (
	// WebGLAuto probes a headless browser once at start-up.
	WebGLAuto WebGLMode = "auto"
	// WebGLOn assumes hardware rendering is available.
	WebGLOn WebGLMode = "on"
	// WebGLOff forces the static panel for every viewer.
	WebGLOff WebGLMode = "off"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server      ServerConfig
	Checkout    CheckoutConfig
	Capability  CapabilityConfig
	Viewer      ViewerConfig
	Idempotency IdempotencyConfig
	LogLevel    string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// CheckoutConfig holds the payment credential and the session endpoint location. An
// empty StripeSecretKey is valid: checkout then fails per request while browsing works.
type CheckoutConfig struct {
	StripeSecretKey string
	Currency        string
	BaseURL         string
}

// Configured reports whether a payment credential is present.
func (c CheckoutConfig) Configured() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// CapabilityConfig controls the rendering capability probe.
type CapabilityConfig struct {
	WebGL        WebGLMode
	ChromePath   string
	ProbeTimeout time.Duration
}

// ViewerConfig tunes model loading and preview rendering.
type ViewerConfig struct {
	ModelTimeout time.Duration
	PreviewSize  int
}

// IdempotencyConfig controls replay protection on the checkout route.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists fields that are present but unusable.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the invalid field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failure to resolve a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// ErrSecretResolverNotConfigured is wrapped by SecretError when a reference is found but
// no resolver was supplied.
var ErrSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv stops Load from consulting os.LookupEnv.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load builds the configuration. A missing payment credential is not an error.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotEnv[key]
		return v, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  durationWithDefault(lookup, "STOREFRONT_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Checkout: CheckoutConfig{
			StripeSecretKey: strings.TrimSpace(stringWithDefault(lookup, "STRIPE_SECRET_KEY", "")),
			Currency:        strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BASE_URL", ""), "/"),
		},
		Capability: CapabilityConfig{
			WebGL:        WebGLMode(strings.ToLower(stringWithDefault(lookup, "STOREFRONT_WEBGL", string(WebGLAuto)))),
			ChromePath:   stringWithDefault(lookup, "STOREFRONT_CHROME_PATH", ""),
			ProbeTimeout: durationWithDefault(lookup, "STOREFRONT_PROBE_TIMEOUT", defaultProbeTimeout),
		},
		Viewer: ViewerConfig{
			ModelTimeout: durationWithDefault(lookup, "STOREFRONT_MODEL_TIMEOUT", defaultModelTimeout),
			PreviewSize:  intWithDefault(lookup, "STOREFRONT_PREVIEW_SIZE", defaultPreviewSize),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", defaultIdemHeader),
			TTL:             durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdemTTL),
			CleanupInterval: durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdemInterval),
		},
		LogLevel: stringWithDefault(lookup, "LOG_LEVEL", "info"),
	}

	if cfg.Server.Port != "" && cfg.Checkout.BaseURL == "" {
		cfg.Checkout.BaseURL = "http://127.0.0.1:" + cfg.Server.Port
	}

	key, err := resolveSecret(ctx, cfg.Checkout.StripeSecretKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Checkout.StripeSecretKey = key

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var invalid []string
	if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Capability.WebGL {
	case WebGLAuto, WebGLOn, WebGLOff:
	default:
		invalid = append(invalid, "Capability.WebGL")
	}
	if cfg.Capability.ProbeTimeout <= 0 {
		invalid = append(invalid, "Capability.ProbeTimeout")
	}
	if len(cfg.Checkout.Currency) != 3 {
		invalid = append(invalid, "Checkout.Currency")
	}
	if cfg.Viewer.PreviewSize < 16 || cfg.Viewer.PreviewSize > 2048 {
		invalid = append(invalid, "Viewer.PreviewSize")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: ErrSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

// IsSecretReference reports whether value points at Secret Manager.
func IsSecretReference(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
