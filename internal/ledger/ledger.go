// Package ledger tracks account balances on the platform.
//
// Flow:
//  1. Account deposits value with the platform custodian
//  2. Platform credits the account's available balance
//  3. Escrow operations move value available -> escrowed -> counterparty
//  4. Account withdraws (platform pays out)
//
// Amounts are unsigned integers in base units (6-decimal fixed point).
// Every balance-moving operation is all-or-nothing: stores apply it under a
// single lock (memory) or a single transaction (postgres), and the ledger
// never retries a failed movement on its own.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
)

// Entry represents a ledger journal row.
type Entry struct {
	ID          string    `json:"id"`
	AccountAddr string    `json:"accountAddr"`
	Type        string    `json:"type"` // deposit, withdrawal, escrow_lock, escrow_payout, escrow_fee
	Amount      uint64    `json:"amount"`
	TxHash      string    `json:"txHash,omitempty"`
	Reference   string    `json:"reference,omitempty"` // escrow id, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents an account's balance.
type Balance struct {
	AccountAddr string    `json:"accountAddr"`
	Available   uint64    `json:"available"` // can be spent or locked
	Escrowed    uint64    `json:"escrowed"`  // held in escrow custody
	TotalIn     uint64    `json:"totalIn"`   // lifetime credits
	TotalOut    uint64    `json:"totalOut"`  // lifetime debits
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists ledger data. Implementations must apply each method
// atomically: either every balance movement in the call is observed, or none.
type Store interface {
	GetBalance(ctx context.Context, addr string) (*Balance, error)
	Credit(ctx context.Context, addr string, amount uint64, txHash, description string) error
	Withdraw(ctx context.Context, addr string, amount uint64, txHash string) error
	// EscrowLock moves amount from the account's available balance into
	// escrow custody.
	EscrowLock(ctx context.Context, addr string, amount uint64, reference string) error
	// SettleEscrow atomically pays payout to recipient and fee to feeRecipient
	// out of from's escrowed balance. payout+fee must equal the locked amount.
	SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, reference string) error
	GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)
}

// Ledger manages account balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns an account's current balance.
func (l *Ledger) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(addr))
}

// Deposit credits an account's balance. Idempotent per txHash.
func (l *Ledger) Deposit(ctx context.Context, addr string, amount uint64, txHash string) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	exists, err := l.store.HasDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}
	return l.store.Credit(ctx, strings.ToLower(addr), amount, txHash, "deposit")
}

// Withdraw debits an account's available balance.
func (l *Ledger) Withdraw(ctx context.Context, addr string, amount uint64, txHash string) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return l.store.Withdraw(ctx, strings.ToLower(addr), amount, txHash)
}

// EscrowLock moves amount from available into escrow custody.
func (l *Ledger) EscrowLock(ctx context.Context, addr string, amount uint64, reference string) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return l.store.EscrowLock(ctx, strings.ToLower(addr), amount, reference)
}

// SettleEscrow pays out a previously locked escrow amount, splitting it
// between the recipient and the fee recipient in one atomic movement.
func (l *Ledger) SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, reference string) error {
	if payout == 0 && fee == 0 {
		return ErrInvalidAmount
	}
	return l.store.SettleEscrow(ctx,
		strings.ToLower(from), strings.ToLower(recipient), strings.ToLower(feeRecipient),
		payout, fee, reference)
}

// GetHistory returns ledger entries for an account, newest first.
func (l *Ledger) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, strings.ToLower(addr), limit)
}

// CanSpend checks if an account has sufficient available balance.
func (l *Ledger) CanSpend(ctx context.Context, addr string, amount uint64) (bool, error) {
	bal, err := l.store.GetBalance(ctx, strings.ToLower(addr))
	if err != nil {
		return false, err
	}
	return bal.Available >= amount, nil
}
