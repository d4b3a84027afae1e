package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !now.Before(rec.ExpiresAt) {
		rec = Record{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		s.records[key] = rec
		return StateNew, rec, nil
	}
	if rec.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if rec.Completed {
		return StateCompleted, cloneRecord(rec), nil
	}
	return StatePending, rec, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, rec Record, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	rec = cloneRecord(rec)
	rec.Key = key
	rec.Fingerprint = fingerprint
	rec.Completed = true
	rec.ExpiresAt = now.Add(ttl)
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live and expired records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneRecord(rec Record) Record {
	rec.Header = storedHeader(rec.Header)
	rec.Body = append([]byte(nil), rec.Body...)
	return rec
}
