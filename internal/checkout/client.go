// Package checkout drives the client side of the checkout protocol: it snapshots the cart,
// asks the session endpoint for a hosted payment page and hands the redirect to a navigator.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drwater/storefront/internal/domain"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	sessionPath       = "/api/create-checkout"
	maxLoggedBody     = 256
)

var tracer = otel.Tracer("github.com/drwater/storefront/internal/checkout")

// LineItem is one entry of the request body.
type LineItem struct {
	PriceID  string `json:"priceId"`
	Quantity int    `json:"quantity"`
}

// Request is the body posted to the session endpoint.
type Request struct {
	Items []LineItem `json:"items"`
}

// Result carries the hosted payment page URL.
type Result struct {
	URL string
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for session calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger for failed session calls.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeyGenerator overrides the Idempotency-Key generator.
func WithKeyGenerator(fn func() string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

// Client issues session creation calls against the storefront API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	newKey  func() string
}

// NewClient constructs a client targeting baseURL. An empty baseURL posts to a relative path,
// which only works with a transport that resolves it.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
		newKey:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewRequest snapshots items into a session request body.
func NewRequest(items []domain.CartItem) Request {
	req := Request{Items: make([]LineItem, 0, len(items))}
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		req.Items = append(req.Items, LineItem{PriceID: item.Product.PriceID, Quantity: item.Quantity})
	}
	return req
}

// CreateSession posts the cart snapshot and returns the redirect URL. Every failure is logged
// and reported as ok=false; exactly one request is issued per call.
func (c *Client) CreateSession(ctx context.Context, items []domain.CartItem) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	ctx, span := tracer.Start(ctx, "checkout.CreateSession")
	defer span.End()

	body := NewRequest(items)
	span.SetAttributes(attribute.Int("checkout.items", len(body.Items)))
	logger := c.logger.With(zap.Int("items", len(body.Items)))

	payload, err := json.Marshal(body)
	if err != nil {
		recordFailure(span, logger, "encode checkout request", err)
		return Result{}, false
	}

	endpoint, err := c.endpoint()
	if err != nil {
		recordFailure(span, logger, "build checkout endpoint", err)
		return Result{}, false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		recordFailure(span, logger, "build checkout request", err)
		return Result{}, false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(idempotencyHeader, c.newKey())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		recordFailure(span, logger, "checkout request failed", err)
		return Result{}, false
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, resp.Status)
		logger.Error("failed to create checkout session",
			zap.Int("status", resp.StatusCode),
			zap.String("body", drainError(resp.Body)),
		)
		return Result{}, false
	}

	var decoded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		recordFailure(span, logger, "decode checkout response", err)
		return Result{}, false
	}
	redirect := strings.TrimSpace(decoded.URL)
	if redirect == "" {
		span.SetStatus(codes.Error, "empty url")
		logger.Warn("checkout response missing url", zap.Int("status", resp.StatusCode))
		return Result{}, false
	}
	return Result{URL: redirect}, true
}

func (c *Client) endpoint() (string, error) {
	if c.baseURL == "" {
		return sessionPath, nil
	}
	return url.JoinPath(c.baseURL, sessionPath)
}

func recordFailure(span trace.Span, logger *zap.Logger, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Error(msg, zap.Error(err))
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxLoggedBody))
	return strings.TrimSpace(string(b))
}
