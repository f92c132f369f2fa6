package policy

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	settings Settings
}

// NewMemoryStore creates a settings store seeded with the given initial values.
func NewMemoryStore(arbiter string, feeRateBps uint32) *MemoryStore {
	return &MemoryStore{
		settings: Settings{Arbiter: arbiter, FeeRateBps: feeRateBps},
	}
}

func (m *MemoryStore) Get(ctx context.Context) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := m.settings
	return &cp, nil
}

func (m *MemoryStore) SetArbiter(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.Arbiter = addr
	return nil
}

func (m *MemoryStore) SetFeeRate(ctx context.Context, bps uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.FeeRateBps = bps
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
