package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaser process-local leaser for single-instance deployments.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{leases: make(map[string]Lease), now: time.Now}
}

func (m *MemoryLeaser) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.ExpiresAt) {
		return nil, ErrHeld
	}
	l := Lease{Key: key, Token: newToken(), AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	m.leases[key] = l
	return &l, nil
}

func (m *MemoryLeaser) Release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[l.Key]
	if !ok || cur.Token != l.Token {
		return ErrNotHeld
	}
	delete(m.leases, l.Key)
	return nil
}

// Sweep drops expired leases and returns how many were removed.
func (m *MemoryLeaser) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, l := range m.leases {
		if !now.Before(l.ExpiresAt) {
			delete(m.leases, k)
			n++
		}
	}
	return n
}

// Len number of tracked leases, expired ones included until swept.
func (m *MemoryLeaser) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}
