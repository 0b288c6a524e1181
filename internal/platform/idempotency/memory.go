package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	fingerprint string
	completed   bool
	response    Response
	expiresAt   time.Time
}

// MemoryStore keeps reservations in process. It backs the memory storage profile and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	id := documentID(key)
	record, ok := s.records[id]
	if !ok {
		s.records[id] = memoryRecord{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return Reservation{State: ReservationStateNew}, nil
	}
	if record.fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.completed {
		return Reservation{State: ReservationStateCompleted, Response: cloneResponse(record.response)}, nil
	}
	return Reservation{State: ReservationStatePending}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if record, ok := s.records[id]; ok && record.fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = memoryRecord{
		fingerprint: fingerprint,
		completed:   true,
		response:    cloneResponse(resp),
		expiresAt:   now.Add(ttl),
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, record := range s.records {
		if !now.Before(record.expiresAt) {
			delete(s.records, id)
		}
	}
}

func cloneResponse(resp Response) Response {
	out := Response{Status: resp.Status}
	if len(resp.Headers) > 0 {
		out.Headers = make(map[string][]string, len(resp.Headers))
		for name, values := range resp.Headers {
			out.Headers[name] = append([]string(nil), values...)
		}
	}
	if len(resp.Body) > 0 {
		out.Body = append([]byte(nil), resp.Body...)
	}
	return out
}
