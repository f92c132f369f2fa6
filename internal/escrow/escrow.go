// Package escrow implements trustless two-party escrow with arbitration.
//
// Flow:
//  1. Buyer creates an agreement with a seller → status pending
//  2. Buyer funds it → amount moved available → escrowed, status funded
//  3. Buyer releases → payout to seller, fee to platform owner, status completed
//  4. Either party disputes a funded escrow → status disputed
//  5. The arbiter resolves the dispute → payout to the winner, status completed
//
// A pending (unfunded) escrow can instead be cancelled by the buyer. Completed
// and cancelled are terminal. There is no timeout path: a funded escrow stays
// funded until the buyer or the arbiter acts.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Kaydot97/DecentralizedEscrow/internal/logging"
	"github.com/Kaydot97/DecentralizedEscrow/internal/metrics"
	"github.com/Kaydot97/DecentralizedEscrow/internal/policy"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

var (
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrUnauthorized    = errors.New("not authorized for this escrow operation")
	ErrInvalidState    = errors.New("invalid escrow status for this operation")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTransferFailed  = errors.New("transfer failed")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusPending   Status = "pending"   // Created, not yet funded
	StatusFunded    Status = "funded"    // Buyer's funds held in custody
	StatusCompleted Status = "completed" // Paid out (released or resolved)
	StatusDisputed  Status = "disputed"  // Awaiting the arbiter's ruling
	StatusCancelled Status = "cancelled" // Cancelled before funding
)

// Escrow represents a single escrow agreement.
type Escrow struct {
	ID          uint64     `json:"id"`
	BuyerAddr   string     `json:"buyerAddr"`
	SellerAddr  string     `json:"sellerAddr"`
	Amount      uint64     `json:"amount"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	FundedAt    *time.Time `json:"fundedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusCancelled
}

// IsParty returns true if addr is the buyer or the seller.
func (e *Escrow) IsParty(addr string) bool {
	addr = strings.ToLower(addr)
	return addr == e.BuyerAddr || addr == e.SellerAddr
}

// Store persists escrow and dispute data. Create assigns the escrow a dense
// sequential ID starting at zero and sets it on the record.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, id uint64) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow) error
	ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error)
	// NextID returns the ID the next Create call will assign.
	NextID(ctx context.Context) (uint64, error)

	CreateDispute(ctx context.Context, dispute *Dispute) error
	GetDispute(ctx context.Context, escrowID uint64) (*Dispute, error)
	UpdateDispute(ctx context.Context, dispute *Dispute) error
}

// LedgerService abstracts balance movements so escrow doesn't import ledger.
type LedgerService interface {
	// EscrowLock moves amount from the buyer's available balance into custody.
	EscrowLock(ctx context.Context, agentAddr string, amount uint64, reference string) error
	// SettleEscrow atomically pays payout to recipient and fee to feeRecipient
	// out of from's custody balance.
	SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, reference string) error
}

// Policy exposes the platform configuration the escrow service needs: who
// collects fees, who arbitrates, and how much a payout costs right now.
type Policy interface {
	Owner() string
	Arbiter(ctx context.Context) (string, error)
	CalculateFee(ctx context.Context, amount uint64) (uint64, error)
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	SellerAddr  string `json:"sellerAddr" binding:"required"`
	Amount      uint64 `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// Service implements the escrow state machine.
type Service struct {
	store  Store
	ledger LedgerService
	policy Policy
	events EventEmitter
	locks  sync.Map // per-escrow ID locks to serialize state transitions
}

// NewService creates a new escrow service.
func NewService(store Store, ledger LedgerService, policy Policy) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		policy: policy,
	}
}

// WithEvents adds an event emitter for realtime notifications.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// escrowLock returns a mutex for the given escrow ID.
// This serializes transitions so two callers cannot both win a race
// (e.g. release and dispute arriving at the same funded escrow).
func (s *Service) escrowLock(id uint64) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func reference(id uint64) string {
	return fmt.Sprintf("esc:%d", id)
}

// Create records a new escrow agreement between the caller (buyer) and the
// seller. No funds move until Fund.
func (s *Service) Create(ctx context.Context, buyerAddr string, req CreateRequest) (*Escrow, error) {
	buyer := strings.ToLower(buyerAddr)
	seller := strings.ToLower(req.SellerAddr)

	// A party cannot contract with itself.
	if buyer == seller {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrUnauthorized)
	}
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if len(req.Description) > validation.MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description too long", ErrInvalidInput)
	}

	now := time.Now()
	escrow := &Escrow{
		BuyerAddr:   buyer,
		SellerAddr:  seller,
		Amount:      req.Amount,
		Description: validation.SanitizeString(req.Description, validation.MaxDescriptionLength),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.EscrowsCreatedTotal.Inc()
	s.emit(EventEscrowCreated, escrow)
	return escrow, nil
}

// Fund moves the escrow amount from the buyer's available balance into
// custody. Buyer-only, pending-only.
func (s *Service) Fund(ctx context.Context, id uint64, callerAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.BuyerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusPending {
		return nil, ErrInvalidState
	}

	if err := s.ledger.EscrowLock(ctx, escrow.BuyerAddr, escrow.Amount, reference(id)); err != nil {
		metrics.TransferFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	now := time.Now()
	escrow.Status = StatusFunded
	escrow.FundedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, s.persistFailure(ctx, escrow, "funded", err)
	}

	metrics.EscrowsFundedTotal.Inc()
	s.emit(EventEscrowFunded, escrow)
	return escrow, nil
}

// Cancel voids a pending escrow. Buyer-only. Nothing was funded, so nothing
// moves.
func (s *Service) Cancel(ctx context.Context, id uint64, callerAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.BuyerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusPending {
		return nil, ErrInvalidState
	}

	now := time.Now()
	escrow.Status = StatusCancelled
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, err
	}

	metrics.EscrowsCancelledTotal.Inc()
	s.emit(EventEscrowCancelled, escrow)
	return escrow, nil
}

// Release pays a funded escrow out to the seller, minus the platform fee.
// Buyer-only. The fee uses the rate in effect at release time, not at
// creation time.
func (s *Service) Release(ctx context.Context, id uint64, callerAddr string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(callerAddr) != escrow.BuyerAddr {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusFunded {
		return nil, ErrInvalidState
	}

	if err := s.payout(ctx, escrow, escrow.SellerAddr); err != nil {
		return nil, err
	}

	now := time.Now()
	escrow.Status = StatusCompleted
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, s.persistFailure(ctx, escrow, "released", err)
	}

	metrics.EscrowsReleasedTotal.Inc()
	metrics.EscrowDuration.Observe(now.Sub(escrow.CreatedAt).Seconds())
	s.emit(EventEscrowReleased, escrow)
	return escrow, nil
}

// payout settles the escrowed amount: amount minus fee to recipient, fee to
// the platform owner, in one atomic ledger movement.
func (s *Service) payout(ctx context.Context, escrow *Escrow, recipient string) error {
	fee, err := s.policy.CalculateFee(ctx, escrow.Amount)
	if err != nil {
		return fmt.Errorf("failed to compute fee: %w", err)
	}

	err = s.ledger.SettleEscrow(ctx,
		escrow.BuyerAddr, recipient, s.policy.Owner(),
		escrow.Amount-fee, fee, reference(escrow.ID))
	if err != nil {
		metrics.TransferFailuresTotal.Inc()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	metrics.FeesCollectedTotal.Add(float64(fee))
	return nil
}

// persistFailure handles a store.Update failure after funds already moved.
// Retries once; if the record is still stale there is no safe compensation
// (the settlement has no inverse), so log for manual resolution.
func (s *Service) persistFailure(ctx context.Context, escrow *Escrow, action string, err error) error {
	if retryErr := s.store.Update(ctx, escrow); retryErr == nil {
		return nil
	}
	logging.L(ctx).Error("CRITICAL: escrow funds moved but status update failed",
		"escrow_id", escrow.ID,
		"action", action,
		"error", err)
	return fmt.Errorf("failed to update escrow after funds moved (requires manual resolution): %w", err)
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id uint64) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// NextID returns the ID the next created escrow will receive.
func (s *Service) NextID(ctx context.Context) (uint64, error) {
	return s.store.NextID(ctx)
}

// ListByAgent returns escrows involving an agent (as buyer or seller).
func (s *Service) ListByAgent(ctx context.Context, agentAddr string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAgent(ctx, strings.ToLower(agentAddr), limit)
}

func (s *Service) emit(event string, escrow *Escrow) {
	if s.events != nil {
		s.events.Emit(event, escrow)
	}
}

// arbiter resolves the configured arbiter. An unset arbiter means nobody is
// authorized to resolve, which callers surface as ErrUnauthorized.
func (s *Service) arbiter(ctx context.Context) (string, error) {
	addr, err := s.policy.Arbiter(ctx)
	if err != nil {
		if errors.Is(err, policy.ErrNoArbiter) {
			return "", ErrUnauthorized
		}
		return "", err
	}
	return addr, nil
}
