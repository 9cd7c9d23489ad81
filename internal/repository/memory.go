package repository

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often expired markers are purged.
const sweepEvery = time.Second

type memCount struct {
	n         int64
	expiresAt time.Time
}

type memoryStore struct {
	mu        sync.Mutex
	claims    map[string]time.Time
	counts    map[string]*memCount
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore returns an in-memory Store for local development/testing.
// It only deduplicates within a single process.
func NewMemoryStore() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{
		claims: make(map[string]time.Time),
		counts: make(map[string]*memCount),
		now:    now,
	}
}

func (m *memoryStore) Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := m.now()
	m.sweep(now)

	key := scope + "\x00" + member
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.claims[key] = now.Add(ttl)

	c, ok := m.counts[scope]
	if !ok || !now.Before(c.expiresAt) {
		c = &memCount{}
		m.counts[scope] = c
	}
	c.n++
	c.expiresAt = now.Add(ttl)
	return true, nil
}

func (m *memoryStore) Count(ctx context.Context, scope string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[scope]
	if !ok || !m.now().Before(c.expiresAt) {
		return 0, nil
	}
	return c.n, nil
}

func (m *memoryStore) Clear(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, scope)
	return nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *memoryStore) Close() error {
	return nil
}

// sweep drops expired markers. Caller holds m.mu.
func (m *memoryStore) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now
	for k, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, k)
		}
	}
	for k, c := range m.counts {
		if !now.Before(c.expiresAt) {
			delete(m.counts, k)
		}
	}
}
