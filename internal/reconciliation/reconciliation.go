// Package reconciliation audits value conservation between the escrow book
// and the ledger.
//
// Every funded or disputed escrow must be backed by an equal amount held in
// ledger custody. A drift between the two means a settlement was half-applied
// or a balance was mutated outside the escrow flow, and needs operator
// attention.
package reconciliation

import (
	"context"
	"fmt"
	"time"
)

// LedgerSummer reports the total value the ledger holds in custody.
type LedgerSummer interface {
	SumEscrowed(ctx context.Context) (uint64, error)
}

// EscrowSummer reports the total value active escrows expect to be in custody.
type EscrowSummer interface {
	SumInCustody(ctx context.Context) (uint64, error)
}

// Result holds the outcome of a conservation check.
type Result struct {
	Match          bool      `json:"match"`
	LedgerEscrowed uint64    `json:"ledgerEscrowed"`
	EscrowCustody  uint64    `json:"escrowCustody"`
	Diff           int64     `json:"diff"` // ledger minus escrow book
	CheckedAt      time.Time `json:"checkedAt"`
}

// Service performs conservation checks between ledger and escrow state.
type Service struct {
	ledger  LedgerSummer
	escrows EscrowSummer
}

// NewService creates a reconciliation service.
func NewService(ledger LedgerSummer, escrows EscrowSummer) *Service {
	return &Service{ledger: ledger, escrows: escrows}
}

// Check compares ledger custody against the sum of active escrow amounts.
func (s *Service) Check(ctx context.Context) (*Result, error) {
	start := time.Now()

	ledgerTotal, err := s.ledger.SumEscrowed(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to sum ledger custody: %w", err)
	}

	escrowTotal, err := s.escrows.SumInCustody(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("failed to sum escrow custody: %w", err)
	}

	diff := int64(ledgerTotal) - int64(escrowTotal)

	reconcileDuration.Observe(time.Since(start).Seconds())
	reconcileCustodyDrift.Set(float64(diff))

	return &Result{
		Match:          diff == 0,
		LedgerEscrowed: ledgerTotal,
		EscrowCustody:  escrowTotal,
		Diff:           diff,
		CheckedAt:      time.Now(),
	}, nil
}
