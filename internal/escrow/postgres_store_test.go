package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kaydot97/DecentralizedEscrow/internal/testutil"
)

func TestPostgresStore_EscrowRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	next, err := store.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if next != 0 {
		t.Fatalf("expected first ID 0 on a fresh database, got %d", next)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Escrow{
		BuyerAddr:   buyer,
		SellerAddr:  seller,
		Amount:      1_000_000,
		Description: "translation job",
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if e.ID != 0 {
		t.Errorf("expected assigned ID 0, got %d", e.ID)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BuyerAddr != buyer || got.Amount != 1_000_000 || got.Status != StatusPending {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Description != "translation job" {
		t.Errorf("description mismatch: %q", got.Description)
	}
	if got.FundedAt != nil || got.ResolvedAt != nil {
		t.Error("expected nil timestamps on a pending escrow")
	}

	fundedAt := now.Add(time.Minute)
	got.Status = StatusFunded
	got.FundedAt = &fundedAt
	got.UpdatedAt = fundedAt
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ = store.Get(ctx, e.ID)
	if got.Status != StatusFunded || got.FundedAt == nil {
		t.Errorf("update not persisted: %+v", got)
	}

	next, _ = store.NextID(ctx)
	if next != 1 {
		t.Errorf("expected next ID 1, got %d", next)
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := store.Get(ctx, 12345); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
	if err := store.Update(ctx, &Escrow{ID: 12345, Status: StatusFunded, UpdatedAt: time.Now()}); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound on update, got %v", err)
	}
	if _, err := store.GetDispute(ctx, 12345); !errors.Is(err, ErrDisputeNotFound) {
		t.Errorf("expected ErrDisputeNotFound, got %v", err)
	}
}

func TestPostgresStore_DisputeRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Escrow{
		BuyerAddr: buyer, SellerAddr: seller, Amount: 500,
		Status: StatusFunded, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	d := &Dispute{
		EscrowID:  e.ID,
		RaisedBy:  seller,
		Reason:    "payment overdue",
		CreatedAt: now,
	}
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatalf("CreateDispute failed: %v", err)
	}

	// Unique per escrow: a second record must be rejected by the constraint.
	if err := store.CreateDispute(ctx, d); err == nil {
		t.Error("expected duplicate dispute insert to fail")
	}

	got, err := store.GetDispute(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if got.RaisedBy != seller || got.Reason != "payment overdue" || got.Resolved {
		t.Errorf("round trip mismatch: %+v", got)
	}

	resolvedAt := now.Add(time.Hour)
	got.Resolved = true
	got.Winner = WinnerSeller
	got.ResolvedAt = &resolvedAt
	if err := store.UpdateDispute(ctx, got); err != nil {
		t.Fatalf("UpdateDispute failed: %v", err)
	}

	got, _ = store.GetDispute(ctx, e.ID)
	if !got.Resolved || got.Winner != WinnerSeller || got.ResolvedAt == nil {
		t.Errorf("resolution not persisted: %+v", got)
	}
}

func TestPostgresStore_ListByAgent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := &Escrow{
			BuyerAddr: buyer, SellerAddr: seller, Amount: uint64(100 * (i + 1)),
			Status: StatusPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	escrows, err := store.ListByAgent(ctx, seller, 2)
	if err != nil {
		t.Fatalf("ListByAgent failed: %v", err)
	}
	if len(escrows) != 2 {
		t.Fatalf("expected 2 escrows with limit 2, got %d", len(escrows))
	}
	if escrows[0].ID < escrows[1].ID {
		t.Error("expected newest first ordering")
	}

	escrows, _ = store.ListByAgent(ctx, outside, 10)
	if len(escrows) != 0 {
		t.Errorf("expected no escrows for outsider, got %d", len(escrows))
	}
}
