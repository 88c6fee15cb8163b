package intake

import (
	"context"
	"sync"
	"time"
)

// pendingMarker holds a dedupe key while the first delivery is still being
// processed; it is replaced by the created request id on success.
const pendingMarker = "pending"

// IdempotencyStore records which webhook deliveries were already turned into
// requests.
type IdempotencyStore interface {
	// Reserve claims key for ttl. When the key is already held it returns the
	// stored value and reserved=false.
	Reserve(ctx context.Context, key string, ttl time.Duration) (existing string, reserved bool, err error)
	// Complete replaces the reservation with the created request id.
	Complete(ctx context.Context, key, requestID string, ttl time.Duration) error
	// Reclaim re-reserves key only while it still holds stale (or has
	// expired). reserved=false means a concurrent delivery reclaimed it first.
	Reclaim(ctx context.Context, key, stale string, ttl time.Duration) (reserved bool, err error)
	// Release drops a reservation whose delivery failed.
	Release(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps dedupe keys in process. Expired keys are
// dropped lazily on access.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.value, false, nil
	}
	s.entries[key] = memoryEntry{value: pendingMarker, expiresAt: now.Add(ttl)}
	return "", true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key, requestID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: requestID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Reclaim(_ context.Context, key, stale string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) && e.value != stale {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: pendingMarker, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
