// Package policy holds the platform's mutable configuration: the arbiter
// identity and the fee rate, both owner-controlled. The owner itself is fixed
// at startup and has no setter.
package policy

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthorized  = errors.New("caller is not the platform owner")
	ErrInvalidConfig = errors.New("fee rate out of bounds")
	ErrNoArbiter     = errors.New("no arbiter configured")
)

// MaxFeeRateBps is the inclusive upper bound for the fee rate (10%).
const MaxFeeRateBps = 1000

// FeeDenominator converts basis points to a fraction.
const FeeDenominator = 10000

// Settings is the mutable portion of the platform configuration.
type Settings struct {
	Arbiter    string `json:"arbiter"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

// Store persists platform settings.
type Store interface {
	Get(ctx context.Context) (*Settings, error)
	SetArbiter(ctx context.Context, addr string) error
	SetFeeRate(ctx context.Context, bps uint32) error
}

// Service enforces owner-only access to platform settings.
type Service struct {
	owner string
	store Store
}

// NewService creates a policy service. owner is immutable for the lifetime
// of the process.
func NewService(owner string, store Store) *Service {
	return &Service{owner: strings.ToLower(owner), store: store}
}

// Owner returns the platform owner identity.
func (s *Service) Owner() string {
	return s.owner
}

// IsOwner reports whether caller is the platform owner.
func (s *Service) IsOwner(caller string) bool {
	return strings.EqualFold(caller, s.owner)
}

// Arbiter returns the currently configured arbiter, or ErrNoArbiter if unset.
func (s *Service) Arbiter(ctx context.Context) (string, error) {
	settings, err := s.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if settings.Arbiter == "" {
		return "", ErrNoArbiter
	}
	return settings.Arbiter, nil
}

// FeeRate returns the current fee rate in basis points.
func (s *Service) FeeRate(ctx context.Context) (uint32, error) {
	settings, err := s.store.Get(ctx)
	if err != nil {
		return 0, err
	}
	return settings.FeeRateBps, nil
}

// Settings returns the full mutable configuration.
func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	return s.store.Get(ctx)
}

// SetArbiter changes the arbiter. Owner-only. Any identity is accepted,
// including the owner or a party to an open escrow: choosing a trustworthy
// arbiter is the owner's decision, not a safety property enforced here.
func (s *Service) SetArbiter(ctx context.Context, caller, newArbiter string) error {
	if !s.IsOwner(caller) {
		return ErrUnauthorized
	}
	return s.store.SetArbiter(ctx, strings.ToLower(newArbiter))
}

// SetFeeRate changes the fee rate. Owner-only, bounded 0-1000 inclusive.
func (s *Service) SetFeeRate(ctx context.Context, caller string, bps uint32) error {
	if !s.IsOwner(caller) {
		return ErrUnauthorized
	}
	if bps > MaxFeeRateBps {
		return ErrInvalidConfig
	}
	return s.store.SetFeeRate(ctx, bps)
}

// CalculateFee computes the platform fee for amount using the rate in effect
// right now. Integer floor division; callers derive the payout as
// amount - fee so that payout + fee == amount exactly.
func (s *Service) CalculateFee(ctx context.Context, amount uint64) (uint64, error) {
	rate, err := s.FeeRate(ctx)
	if err != nil {
		return 0, err
	}
	return Fee(amount, rate), nil
}

// Fee computes floor(amount * rateBps / 10000). The quotient/remainder split
// keeps the result exact without overflowing uint64 on large amounts.
func Fee(amount uint64, rateBps uint32) uint64 {
	rate := uint64(rateBps)
	return amount/FeeDenominator*rate + amount%FeeDenominator*rate/FeeDenominator
}
