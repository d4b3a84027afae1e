// Package idempotency replays stored responses for retried mutating requests that carry
// an Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and should run the handler.
	StateNew State = iota
	// StateCompleted means a stored response exists and should be replayed.
	StateCompleted
	// StatePending means another request holds the key.
	StatePending
)

// Record is a stored reservation or response.
type Record struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, key, fingerprint string, rec Record, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// ErrFingerprintMismatch reports a key reused for a different request body.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func storedHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "transfer-encoding", "traceparent", "tracestate":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
