package escrow

import (
	"context"
	"sync"
	"testing"
)

// Two callers racing on the same funded escrow: exactly one transition wins,
// and the amount is paid out exactly once.
func TestConcurrentReleaseAndDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	var wg sync.WaitGroup
	var releaseErr, disputeErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, releaseErr = f.svc.Release(ctx, e.ID, buyer)
	}()
	go func() {
		defer wg.Done()
		_, disputeErr = f.svc.Dispute(ctx, e.ID, seller, "racing the release")
	}()
	wg.Wait()

	if (releaseErr == nil) == (disputeErr == nil) {
		t.Fatalf("expected exactly one winner: release=%v dispute=%v", releaseErr, disputeErr)
	}

	fresh, err := f.svc.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	total := f.available(t, buyer) + f.available(t, seller) + f.available(t, owner)
	if releaseErr == nil {
		if fresh.Status != StatusCompleted {
			t.Errorf("release won but status is %s", fresh.Status)
		}
		if total != 2_000_000 {
			t.Errorf("value not conserved after release: %d", total)
		}
	} else {
		if fresh.Status != StatusDisputed {
			t.Errorf("dispute won but status is %s", fresh.Status)
		}
		// Funds are still in custody, not in anyone's available balance.
		if total != 1_000_000 {
			t.Errorf("custody leaked during dispute: available total %d", total)
		}
	}
}

func TestConcurrentDoubleRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Release(ctx, e.ID, buyer)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful release, got %d", succeeded)
	}

	// A double payout would push the seller past 975_000.
	if got := f.available(t, seller); got != 975_000 {
		t.Errorf("expected seller available 975000, got %d", got)
	}
}
