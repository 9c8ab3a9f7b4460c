package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker using an in-memory map.
type MemoryLocker struct {
	leases      map[string]*Lease
	mu          sync.Mutex
	ttlDuration time.Duration
}

// NewMemoryLocker creates a new MemoryLocker with the default TTL.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases:      make(map[string]*Lease),
		ttlDuration: DefaultTTL,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt > now && existing.Owner != owner {
			return nil, ErrHeld
		}
	}

	l := &Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.leases[key] = l
	copied := *l
	return &copied, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.leases[key]; ok && existing.Owner == owner {
		delete(m.leases, key)
	}
	return nil
}
