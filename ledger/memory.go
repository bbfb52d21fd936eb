package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps claims in process memory. It suits a single instance;
// replicas need a shared ledger such as RedisLedger.
type MemoryLedger struct {
	mu sync.Mutex
	// claims maps a key to its expiry; the zero time never expires.
	claims map[string]time.Time
	now    func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.claims[key]; ok && !expired(expires, now) {
		return false, nil
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.claims[key] = expires
	m.evictExpired(now)
	return true, nil
}

func (m *MemoryLedger) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.claims, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live claims.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpired(m.now())
	return len(m.claims)
}

func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) evictExpired(now time.Time) {
	for k, expires := range m.claims {
		if expired(expires, now) {
			delete(m.claims, k)
		}
	}
}

func expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}
