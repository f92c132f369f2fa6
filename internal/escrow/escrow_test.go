package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Kaydot97/DecentralizedEscrow/internal/ledger"
	"github.com/Kaydot97/DecentralizedEscrow/internal/policy"
)

const (
	owner   = "0xaaaa000000000000000000000000000000000001"
	buyer   = "0xbbbb000000000000000000000000000000000002"
	seller  = "0xcccc000000000000000000000000000000000003"
	arbiter = "0xdddd000000000000000000000000000000000004"
	outside = "0xeeee000000000000000000000000000000000005"
)

type fixture struct {
	svc    *Service
	ledger *ledger.Ledger
	policy *policy.Service
}

// newFixture wires the escrow service to a real in-memory ledger and policy
// at 250 bps, with the buyer holding 2 units of spendable balance.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := ledger.New(ledger.NewMemoryStore())
	p := policy.NewService(owner, policy.NewMemoryStore(arbiter, 250))
	svc := NewService(NewMemoryStore(), l, p)

	if err := l.Deposit(context.Background(), buyer, 2_000_000, "0xseed"); err != nil {
		t.Fatalf("seeding buyer balance failed: %v", err)
	}
	return &fixture{svc: svc, ledger: l, policy: p}
}

func (f *fixture) create(t *testing.T, amount uint64) *Escrow {
	t.Helper()
	e, err := f.svc.Create(context.Background(), buyer, CreateRequest{
		SellerAddr: seller,
		Amount:     amount,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return e
}

func (f *fixture) fund(t *testing.T, id uint64) *Escrow {
	t.Helper()
	e, err := f.svc.Fund(context.Background(), id, buyer)
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	return e
}

func (f *fixture) available(t *testing.T, addr string) uint64 {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetBalance(%s) failed: %v", addr, err)
	}
	return bal.Available
}

func TestHappyPathRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	if e.Status != StatusPending {
		t.Fatalf("expected pending after create, got %s", e.Status)
	}
	if e.ID != 0 {
		t.Errorf("expected first escrow ID 0, got %d", e.ID)
	}

	e = f.fund(t, e.ID)
	if e.Status != StatusFunded {
		t.Fatalf("expected funded, got %s", e.Status)
	}
	if got := f.available(t, buyer); got != 1_000_000 {
		t.Errorf("expected buyer available 1000000 after funding, got %d", got)
	}

	e, err := f.svc.Release(ctx, e.ID, buyer)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if e.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", e.Status)
	}

	// 250 bps of 1_000_000 = 25_000 fee
	if got := f.available(t, seller); got != 975_000 {
		t.Errorf("expected seller available 975000, got %d", got)
	}
	if got := f.available(t, owner); got != 25_000 {
		t.Errorf("expected owner available 25000, got %d", got)
	}

	// Conservation: buyer spent exactly the escrow amount.
	total := f.available(t, buyer) + f.available(t, seller) + f.available(t, owner)
	if total != 2_000_000 {
		t.Errorf("value not conserved: total %d", total)
	}
}

func TestDisputeSellerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	e, err := f.svc.Dispute(ctx, e.ID, seller, "buyer ghosted after delivery")
	if err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	if e.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", e.Status)
	}

	d, err := f.svc.GetDispute(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if d.RaisedBy != seller {
		t.Errorf("expected dispute raised by seller, got %s", d.RaisedBy)
	}
	if d.Resolved {
		t.Error("new dispute must not be resolved")
	}

	e, err = f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: WinnerSeller})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if e.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", e.Status)
	}

	if got := f.available(t, seller); got != 975_000 {
		t.Errorf("expected seller available 975000, got %d", got)
	}
	if got := f.available(t, owner); got != 25_000 {
		t.Errorf("expected owner available 25000, got %d", got)
	}

	d, _ = f.svc.GetDispute(ctx, e.ID)
	if !d.Resolved || d.Winner != WinnerSeller {
		t.Errorf("dispute record not updated: %+v", d)
	}
}

func TestDisputeBuyerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	if _, err := f.svc.Dispute(ctx, e.ID, buyer, "nothing delivered"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	if _, err := f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: WinnerBuyer}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Buyer is refunded minus the fee: 1_000_000 remaining + 975_000 back.
	if got := f.available(t, buyer); got != 1_975_000 {
		t.Errorf("expected buyer available 1975000, got %d", got)
	}
	if got := f.available(t, seller); got != 0 {
		t.Errorf("expected seller to receive nothing, got %d", got)
	}
	if got := f.available(t, owner); got != 25_000 {
		t.Errorf("expected owner fee 25000, got %d", got)
	}
}

func TestCancelPendingEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 500_000)

	if _, err := f.svc.Cancel(ctx, e.ID, seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller cancel, got %v", err)
	}

	e, err := f.svc.Cancel(ctx, e.ID, buyer)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if e.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", e.Status)
	}

	// Nothing was funded, so the balance is untouched.
	if got := f.available(t, buyer); got != 2_000_000 {
		t.Errorf("cancel moved funds: buyer available %d", got)
	}

	if _, err := f.svc.Fund(ctx, e.ID, buyer); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState funding a cancelled escrow, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, buyer, CreateRequest{SellerAddr: buyer, Amount: 100}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for self-dealing, got %v", err)
	}

	if _, err := f.svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero amount, got %v", err)
	}

	long := strings.Repeat("x", 257)
	if _, err := f.svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 100, Description: long}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for oversized description, got %v", err)
	}
}

func TestFundChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)

	if _, err := f.svc.Fund(ctx, e.ID, seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller fund, got %v", err)
	}

	f.fund(t, e.ID)

	if _, err := f.svc.Fund(ctx, e.ID, buyer); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double fund, got %v", err)
	}
}

func TestFundInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 5_000_000) // more than the seeded 2_000_000

	_, err := f.svc.Fund(ctx, e.ID, buyer)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// The failed transfer must leave the escrow fundable and balances intact.
	fresh, _ := f.svc.Get(ctx, e.ID)
	if fresh.Status != StatusPending {
		t.Errorf("failed fund mutated status: %s", fresh.Status)
	}
	if got := f.available(t, buyer); got != 2_000_000 {
		t.Errorf("failed fund moved funds: buyer available %d", got)
	}
}

func TestAuthorizationBeforeState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Pending escrow: an outsider calling release must see Unauthorized,
	// not the state error a buyer would see.
	e := f.create(t, 100_000)
	if _, err := f.svc.Release(ctx, e.ID, outside); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for outsider on pending escrow, got %v", err)
	}
	if _, err := f.svc.Release(ctx, e.ID, buyer); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for buyer releasing pending escrow, got %v", err)
	}

	// Funded escrow: outsider dispute is Unauthorized; outsider cancel too.
	f.fund(t, e.ID)
	if _, err := f.svc.Dispute(ctx, e.ID, outside, "reason"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for outsider dispute, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, e.ID, outside); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for outsider cancel, got %v", err)
	}
}

func TestUnknownEscrowIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// NotFound wins over authorization: there is nothing to be authorized on.
	if _, err := f.svc.Fund(ctx, 999, outside); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := f.svc.Get(ctx, 999); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := f.svc.GetDispute(ctx, 999); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestDisputeChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 100_000)

	if _, err := f.svc.Dispute(ctx, e.ID, buyer, "too early"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState disputing a pending escrow, got %v", err)
	}

	f.fund(t, e.ID)

	long := strings.Repeat("x", 513)
	if _, err := f.svc.Dispute(ctx, e.ID, buyer, long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized reason, got %v", err)
	}

	if _, err := f.svc.Dispute(ctx, e.ID, buyer, "first"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	// One dispute per escrow: a second attempt hits the state guard.
	if _, err := f.svc.Dispute(ctx, e.ID, seller, "second"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second dispute, got %v", err)
	}

	d, err := f.svc.GetDispute(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if d.Reason != "first" {
		t.Errorf("second dispute overwrote the record: %q", d.Reason)
	}
}

func TestResolveChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	// Not yet disputed: the arbiter hits the state guard, everyone else the
	// authorization guard.
	if _, err := f.svc.Resolve(ctx, e.ID, buyer, ResolveRequest{Winner: WinnerBuyer}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-arbiter resolve, got %v", err)
	}
	if _, err := f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: WinnerBuyer}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState resolving undisputed escrow, got %v", err)
	}

	if _, err := f.svc.Dispute(ctx, e.ID, buyer, "bad delivery"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	if _, err := f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: "owner"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for invalid winner, got %v", err)
	}

	if _, err := f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: WinnerSeller}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Resolution is single-use.
	if _, err := f.svc.Resolve(ctx, e.ID, arbiter, ResolveRequest{Winner: WinnerBuyer}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second resolve, got %v", err)
	}
}

func TestResolveWithoutArbiter(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore())
	p := policy.NewService(owner, policy.NewMemoryStore("", 250)) // no arbiter
	svc := NewService(NewMemoryStore(), l, p)
	ctx := context.Background()

	if err := l.Deposit(ctx, buyer, 1_000_000, "0xseed2"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	e, err := svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 1_000_000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Fund(ctx, e.ID, buyer); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if _, err := svc.Dispute(ctx, e.ID, buyer, "stuck"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	// Nobody can resolve while the arbiter is unset, not even the owner.
	if _, err := svc.Resolve(ctx, e.ID, owner, ResolveRequest{Winner: WinnerBuyer}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized with no arbiter, got %v", err)
	}
}

func TestFeeRateAppliedAtPayoutTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)

	// Rate changes after funding; the payout uses the new rate.
	if err := f.policy.SetFeeRate(ctx, owner, 500); err != nil {
		t.Fatalf("SetFeeRate failed: %v", err)
	}

	if _, err := f.svc.Release(ctx, e.ID, buyer); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if got := f.available(t, seller); got != 950_000 {
		t.Errorf("expected seller available 950000 at 500 bps, got %d", got)
	}
	if got := f.available(t, owner); got != 50_000 {
		t.Errorf("expected owner fee 50000, got %d", got)
	}
}

func TestZeroFeeRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.policy.SetFeeRate(ctx, owner, 0); err != nil {
		t.Fatalf("SetFeeRate failed: %v", err)
	}

	e := f.create(t, 1_000_000)
	f.fund(t, e.ID)
	if _, err := f.svc.Release(ctx, e.ID, buyer); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if got := f.available(t, seller); got != 1_000_000 {
		t.Errorf("expected full payout at zero fee, got %d", got)
	}
	if got := f.available(t, owner); got != 0 {
		t.Errorf("expected no fee at zero rate, got %d", got)
	}
}

func TestNextIDIsDense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next, err := f.svc.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if next != 0 {
		t.Errorf("expected first ID 0, got %d", next)
	}

	e0 := f.create(t, 100)
	e1 := f.create(t, 200)
	if e0.ID != 0 || e1.ID != 1 {
		t.Errorf("IDs not dense: %d, %d", e0.ID, e1.ID)
	}

	next, _ = f.svc.NextID(ctx)
	if next != 2 {
		t.Errorf("expected next ID 2, got %d", next)
	}
}

func TestListByAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, 100)
	f.create(t, 200)

	escrows, err := f.svc.ListByAgent(ctx, buyer, 10)
	if err != nil {
		t.Fatalf("ListByAgent failed: %v", err)
	}
	if len(escrows) != 2 {
		t.Fatalf("expected 2 escrows for buyer, got %d", len(escrows))
	}
	if escrows[0].ID != 1 {
		t.Errorf("expected newest first, got ID %d", escrows[0].ID)
	}

	escrows, _ = f.svc.ListByAgent(ctx, outside, 10)
	if len(escrows) != 0 {
		t.Errorf("expected no escrows for outsider, got %d", len(escrows))
	}
}

// failingLedger declines settlements to exercise the release failure path.
type failingLedger struct {
	lockErr   error
	settleErr error
}

func (f *failingLedger) EscrowLock(ctx context.Context, addr string, amount uint64, ref string) error {
	return f.lockErr
}

func (f *failingLedger) SettleEscrow(ctx context.Context, from, recipient, feeRecipient string, payout, fee uint64, ref string) error {
	return f.settleErr
}

func TestReleaseTransferFailureLeavesStateFunded(t *testing.T) {
	p := policy.NewService(owner, policy.NewMemoryStore(arbiter, 250))
	fl := &failingLedger{settleErr: errors.New("ledger unavailable")}
	svc := NewService(NewMemoryStore(), fl, p)
	ctx := context.Background()

	e, err := svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 100_000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Fund(ctx, e.ID, buyer); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}

	if _, err := svc.Release(ctx, e.ID, buyer); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	fresh, _ := svc.Get(ctx, e.ID)
	if fresh.Status != StatusFunded {
		t.Errorf("failed release mutated status: %s", fresh.Status)
	}

	// The escrow stays releasable once the ledger recovers.
	fl.settleErr = nil
	if _, err := svc.Release(ctx, e.ID, buyer); err != nil {
		t.Errorf("retry after ledger recovery failed: %v", err)
	}
}

func TestCallerAddressCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 100_000)

	mixed := "0xBBBB000000000000000000000000000000000002"
	if _, err := f.svc.Fund(ctx, e.ID, mixed); err != nil {
		t.Errorf("mixed-case buyer address rejected: %v", err)
	}
}
