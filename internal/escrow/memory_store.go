package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	escrows  map[uint64]*Escrow
	disputes map[uint64]*Dispute
	nextID   uint64
}

// NewMemoryStore creates a new in-memory escrow store. IDs start at zero.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:  make(map[uint64]*Escrow),
		disputes: make(map[uint64]*Dispute),
	}
}

func (m *MemoryStore) Create(ctx context.Context, escrow *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	escrow.ID = m.nextID
	m.nextID++

	cp := *escrow
	m.escrows[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	escrow, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *escrow
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, escrow *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[escrow.ID]; !ok {
		return ErrEscrowNotFound
	}
	cp := *escrow
	m.escrows[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.BuyerAddr == agentAddr || e.SellerAddr == agentAddr {
			cp := *e
			result = append(result, &cp)
		}
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID > result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) NextID(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextID, nil
}

// SumInCustody returns the total amount across escrows currently holding funds
// (funded or disputed).
func (m *MemoryStore) SumInCustody(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, e := range m.escrows {
		if e.Status == StatusFunded || e.Status == StatusDisputed {
			total += e.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) CreateDispute(ctx context.Context, dispute *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[dispute.EscrowID]; ok {
		return fmt.Errorf("dispute already exists for escrow %d", dispute.EscrowID)
	}
	cp := *dispute
	m.disputes[cp.EscrowID] = &cp
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, escrowID uint64) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dispute, ok := m.disputes[escrowID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *dispute
	return &cp, nil
}

func (m *MemoryStore) UpdateDispute(ctx context.Context, dispute *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[dispute.EscrowID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *dispute
	m.disputes[cp.EscrowID] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
