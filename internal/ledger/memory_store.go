package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		deposits: make(map[string]bool),
	}
}

// balance returns the stored balance for addr, creating a zero record if
// create is set. Callers must hold the write lock when create is true.
func (m *MemoryStore) balance(addr string, create bool) (*Balance, bool) {
	bal, ok := m.balances[addr]
	if !ok && create {
		bal = &Balance{AccountAddr: addr}
		m.balances[addr] = bal
		ok = true
	}
	return bal, ok
}

func (m *MemoryStore) append(addr, typ string, amount uint64, txHash, reference, description string) {
	m.entries = append(m.entries, &Entry{
		ID:          fmt.Sprintf("entry_%d", len(m.entries)),
		AccountAddr: addr,
		Type:        typ,
		Amount:      amount,
		TxHash:      txHash,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (m *MemoryStore) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[addr]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{AccountAddr: addr, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, addr string, amount uint64, txHash, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, _ := m.balance(addr, true)
	bal.Available += amount
	bal.TotalIn += amount
	bal.UpdatedAt = time.Now()

	m.deposits[txHash] = true
	m.append(addr, "deposit", amount, txHash, "", description)
	return nil
}

func (m *MemoryStore) Withdraw(ctx context.Context, addr string, amount uint64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balance(addr, false)
	if !ok {
		return ErrAccountNotFound
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	bal.Available -= amount
	bal.TotalOut += amount
	bal.UpdatedAt = time.Now()

	m.append(addr, "withdrawal", amount, txHash, "", "withdrawal")
	return nil
}

func (m *MemoryStore) EscrowLock(ctx context.Context, addr string, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balance(addr, false)
	if !ok {
		return ErrAccountNotFound
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}

	bal.Available -= amount
	bal.Escrowed += amount
	bal.UpdatedAt = time.Now()

	m.append(addr, "escrow_lock", amount, "", reference, "escrow_locked")
	return nil
}

func (m *MemoryStore) SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := payout + fee

	fromBal, ok := m.balance(from, false)
	if !ok {
		return ErrAccountNotFound
	}
	if fromBal.Escrowed < total {
		return ErrInsufficientBalance
	}

	// All checks passed: apply every movement under the single lock.
	fromBal.Escrowed -= total
	fromBal.TotalOut += total
	fromBal.UpdatedAt = time.Now()

	recBal, _ := m.balance(recipient, true)
	recBal.Available += payout
	recBal.TotalIn += payout
	recBal.UpdatedAt = time.Now()

	m.append(from, "escrow_payout", payout, "", reference, "escrow_paid_to_"+recipient)

	if fee > 0 {
		feeBal, _ := m.balance(feeRecipient, true)
		feeBal.Available += fee
		feeBal.TotalIn += fee
		feeBal.UpdatedAt = time.Now()

		m.append(from, "escrow_fee", fee, "", reference, "platform_fee")
	}

	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AccountAddr == addr {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[txHash], nil
}

// SumEscrowed returns the total value held in custody across all accounts.
func (m *MemoryStore) SumEscrowed(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, bal := range m.balances {
		total += bal.Escrowed
	}
	return total, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
