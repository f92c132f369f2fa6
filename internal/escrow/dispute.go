package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Kaydot97/DecentralizedEscrow/internal/logging"
	"github.com/Kaydot97/DecentralizedEscrow/internal/metrics"
	"github.com/Kaydot97/DecentralizedEscrow/internal/validation"
)

// Winner identifies which party a resolved dispute favors.
const (
	WinnerBuyer  = "buyer"
	WinnerSeller = "seller"
)

// Dispute represents a formal disagreement over a funded escrow. At most one
// dispute exists per escrow.
type Dispute struct {
	EscrowID   uint64     `json:"escrowId"`
	RaisedBy   string     `json:"raisedBy"` // buyer or seller address
	Reason     string     `json:"reason"`
	Resolved   bool       `json:"resolved"`
	Winner     string     `json:"winner,omitempty"` // "buyer" or "seller" once resolved
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// DisputeRequest contains the parameters for opening a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the arbiter's ruling.
type ResolveRequest struct {
	Winner string `json:"winner" binding:"required"` // "buyer" or "seller"
}

// Dispute freezes a funded escrow pending arbitration. Either party may open
// one; the funds stay in custody until the arbiter rules.
func (s *Service) Dispute(ctx context.Context, id uint64, callerAddr, reason string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !escrow.IsParty(callerAddr) {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusFunded {
		return nil, ErrInvalidState
	}

	if len(reason) > validation.MaxReasonLength {
		return nil, fmt.Errorf("%w: reason too long", ErrInvalidInput)
	}

	now := time.Now()
	dispute := &Dispute{
		EscrowID:  id,
		RaisedBy:  strings.ToLower(callerAddr),
		Reason:    validation.SanitizeString(reason, validation.MaxReasonLength),
		CreatedAt: now,
	}

	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute record: %w", err)
	}

	escrow.Status = StatusDisputed
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, fmt.Errorf("failed to update escrow status: %w", err)
	}

	metrics.DisputesOpenedTotal.Inc()
	s.emit(EventEscrowDisputed, escrow)
	return escrow, nil
}

// Resolve settles a disputed escrow in favor of the named winner. Arbiter-only.
// The winner receives the amount minus the platform fee; the fee goes to the
// owner either way. Resolution is single-use: the escrow completes and cannot
// be re-resolved.
func (s *Service) Resolve(ctx context.Context, id uint64, callerAddr string, req ResolveRequest) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	escrow, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	arbiter, err := s.arbiter(ctx)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(callerAddr, arbiter) {
		return nil, ErrUnauthorized
	}

	if escrow.Status != StatusDisputed {
		return nil, ErrInvalidState
	}

	winner := strings.ToLower(req.Winner)
	var winnerAddr string
	switch winner {
	case WinnerBuyer:
		winnerAddr = escrow.BuyerAddr
	case WinnerSeller:
		winnerAddr = escrow.SellerAddr
	default:
		return nil, fmt.Errorf("%w: winner must be %q or %q", ErrInvalidInput, WinnerBuyer, WinnerSeller)
	}

	dispute, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.payout(ctx, escrow, winnerAddr); err != nil {
		return nil, err
	}

	now := time.Now()
	dispute.Resolved = true
	dispute.Winner = winner
	dispute.ResolvedAt = &now

	escrow.Status = StatusCompleted
	escrow.ResolvedAt = &now
	escrow.UpdatedAt = now

	if err := s.store.Update(ctx, escrow); err != nil {
		return nil, s.persistFailure(ctx, escrow, "resolved", err)
	}
	// The dispute record is secondary to the escrow status; a failed write
	// here leaves the ruling queryable via the escrow itself.
	if err := s.store.UpdateDispute(ctx, dispute); err != nil {
		logging.L(ctx).Warn("dispute record update failed after resolution",
			"escrow_id", id, "winner", winner, "error", err)
	}

	metrics.DisputesResolvedTotal.WithLabelValues(winner).Inc()
	metrics.EscrowDuration.Observe(now.Sub(escrow.CreatedAt).Seconds())
	s.emit(EventEscrowResolved, escrow)
	return escrow, nil
}

// GetDispute returns the dispute for an escrow, if one exists.
func (s *Service) GetDispute(ctx context.Context, escrowID uint64) (*Dispute, error) {
	if _, err := s.store.Get(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.store.GetDispute(ctx, escrowID)
}
