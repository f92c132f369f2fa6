package policy

import (
	"context"
	"errors"
	"testing"
)

const (
	testOwner   = "0xaaaa000000000000000000000000000000000001"
	testArbiter = "0xcccc000000000000000000000000000000000003"
	testOther   = "0xbbbb000000000000000000000000000000000002"
)

func newTestService(arbiter string, feeRateBps uint32) *Service {
	return NewService(testOwner, NewMemoryStore(arbiter, feeRateBps))
}

func TestSetArbiter_OwnerOnly(t *testing.T) {
	svc := newTestService("", 250)
	ctx := context.Background()

	if err := svc.SetArbiter(ctx, testOther, testArbiter); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}

	if err := svc.SetArbiter(ctx, testOwner, testArbiter); err != nil {
		t.Fatalf("owner SetArbiter failed: %v", err)
	}

	got, err := svc.Arbiter(ctx)
	if err != nil {
		t.Fatalf("Arbiter failed: %v", err)
	}
	if got != testArbiter {
		t.Errorf("expected arbiter %s, got %s", testArbiter, got)
	}
}

func TestArbiter_Unset(t *testing.T) {
	svc := newTestService("", 250)

	if _, err := svc.Arbiter(context.Background()); !errors.Is(err, ErrNoArbiter) {
		t.Errorf("expected ErrNoArbiter, got %v", err)
	}
}

func TestSetFeeRate_Bounds(t *testing.T) {
	svc := newTestService(testArbiter, 250)
	ctx := context.Background()

	if err := svc.SetFeeRate(ctx, testOther, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}

	if err := svc.SetFeeRate(ctx, testOwner, MaxFeeRateBps); err != nil {
		t.Fatalf("setting fee rate to max failed: %v", err)
	}

	if err := svc.SetFeeRate(ctx, testOwner, MaxFeeRateBps+1); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig above max, got %v", err)
	}

	rate, err := svc.FeeRate(ctx)
	if err != nil {
		t.Fatalf("FeeRate failed: %v", err)
	}
	if rate != MaxFeeRateBps {
		t.Errorf("rejected update mutated rate: got %d", rate)
	}

	if err := svc.SetFeeRate(ctx, testOwner, 0); err != nil {
		t.Errorf("setting fee rate to zero failed: %v", err)
	}
}

func TestFee_Exact(t *testing.T) {
	tests := []struct {
		amount  uint64
		rateBps uint32
		want    uint64
	}{
		{1_000_000, 250, 25_000},
		{15_000, 250, 375},
		{100, 250, 2},  // floor(100*250/10000) = floor(2.5)
		{39, 250, 0},   // floor(0.975)
		{1, 1000, 0},   // floor(0.1)
		{10, 1000, 1},  // exactly 10%
		{999, 0, 0},    // zero rate
		{0, 1000, 0},   // zero amount
		{18_446_744_073_709_551_615, 1000, 1_844_674_407_370_955_161}, // max uint64 must not overflow
	}

	for _, tt := range tests {
		if got := Fee(tt.amount, tt.rateBps); got != tt.want {
			t.Errorf("Fee(%d, %d) = %d, want %d", tt.amount, tt.rateBps, got, tt.want)
		}
	}
}

func TestFee_PayoutConservation(t *testing.T) {
	// payout = amount - fee must reassemble to amount for any rate in range.
	amounts := []uint64{1, 39, 100, 9_999, 10_000, 123_456_789, 1 << 62}
	for _, amount := range amounts {
		for _, rate := range []uint32{0, 1, 250, 999, 1000} {
			fee := Fee(amount, rate)
			if fee > amount {
				t.Fatalf("Fee(%d, %d) = %d exceeds amount", amount, rate, fee)
			}
			payout := amount - fee
			if payout+fee != amount {
				t.Errorf("conservation violated: %d + %d != %d", payout, fee, amount)
			}
		}
	}
}

func TestIsOwner_CaseInsensitive(t *testing.T) {
	svc := NewService("0xAAAA000000000000000000000000000000000001", NewMemoryStore("", 0))
	if !svc.IsOwner(testOwner) {
		t.Error("expected lowercase caller to match mixed-case owner")
	}
	if svc.Owner() != testOwner {
		t.Errorf("expected owner normalized to lowercase, got %s", svc.Owner())
	}
}
