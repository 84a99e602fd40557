package blockgate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishpay/dishpay/internal/clearance"
	"github.com/dishpay/dishpay/internal/deduction"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/notify"
	"github.com/dishpay/dishpay/internal/syncutil"
)

type fixedHold int

func (h fixedHold) HoldHours(context.Context, string) (int, error) {
	return int(h), nil
}

type fixture struct {
	gate       *Service
	clearances *clearance.Service
	debts      *deduction.Service
	ledger     *ledger.Ledger
}

func newFixture(t *testing.T, holdHours int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(ledger.NewMemoryStore(), ledger.NewMemoryAuditLogger(), &syncutil.ShardedMutex{}, logger)
	clr := clearance.NewService(clearance.NewMemoryStore(), led, fixedHold(holdHours), notify.NewMemoryNotifier(), logger)
	debts := deduction.NewService(deduction.NewMemoryStore(), led, logger)
	return &fixture{
		gate:       NewService(NewMemoryStore(), clr, debts, led, logger),
		clearances: clr,
		debts:      debts,
		ledger:     led,
	}
}

// creditAndHold simulates a completed order: an unwithdrawable credit
// plus its clearance record.
func (f *fixture) creditAndHold(t *testing.T, tenantID, cookID, orderID string, amount money.Cents) {
	t.Helper()
	ctx := context.Background()
	var entryID string
	err := f.ledger.WithWalletLock(tenantID, cookID, func() error {
		e, err := f.ledger.Append(ctx, &ledger.Entry{
			TenantID: tenantID,
			CookID:   cookID,
			OrderID:  orderID,
			Kind:     ledger.KindPaymentCredit,
			Amount:   amount,
		})
		if err != nil {
			return err
		}
		entryID = e.ID
		return nil
	})
	require.NoError(t, err)
	_, err = f.clearances.Create(ctx, tenantID, cookID, orderID, amount, entryID, time.Now())
	require.NoError(t, err)
}

func filed(order, complaint string) FiledEvent {
	return FiledEvent{ComplaintID: complaint, TenantID: "t1", CookID: "cook1", OrderID: order}
}

func TestFiledPausesHoldingClearance(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)

	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.True(t, r.Paused)
	assert.Equal(t, "cmp_1", r.ComplaintID)
}

func TestFiledFlagsClearedClearance(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	_, err := f.clearances.ProcessEligible(ctx)
	require.NoError(t, err)

	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.True(t, r.Flagged)
	assert.False(t, r.Paused)
}

func TestFiledWithoutClearanceIsNoop(t *testing.T) {
	f := newFixture(t, 48)
	assert.NoError(t, f.gate.OnComplaintFiled(context.Background(), filed("order_unknown", "cmp_1")))
}

func TestSecondComplaintLeavesBlockUntouched(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)

	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_2")))

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.Equal(t, "cmp_1", r.ComplaintID)
}

func TestDismissResumesPausedClearance(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	err := f.gate.OnComplaintResolved(ctx, ResolvedEvent{ComplaintID: "cmp_1", Resolution: ResolutionDismiss})
	require.NoError(t, err)

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, r.Paused)
	assert.False(t, r.Cancelled)
}

func TestOpenComplaintBlocksResume(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_2")))

	// First complaint closes, but cmp_2 is still open.
	err := f.gate.OnComplaintResolved(ctx, ResolvedEvent{ComplaintID: "cmp_1", Resolution: ResolutionDismiss})
	require.NoError(t, err)

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.True(t, r.Paused)

	// Closing the last open complaint unblocks.
	err = f.gate.OnComplaintResolved(ctx, ResolvedEvent{ComplaintID: "cmp_2", Resolution: ResolutionWarning})
	require.NoError(t, err)

	r, err = f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, r.Paused)
}

func TestRefundWhileHoldingCancelsClearance(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	err := f.gate.OnComplaintResolved(ctx, ResolvedEvent{ComplaintID: "cmp_1", Resolution: ResolutionFullRefund})
	require.NoError(t, err)

	// The credit is gone and no debt was queued: the money never left the hold.
	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)

	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), owed)
}

func TestRefundAfterClearDebitsWallet(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	_, err := f.clearances.ProcessEligible(ctx)
	require.NoError(t, err)

	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))
	err = f.gate.OnComplaintResolved(ctx, ResolvedEvent{
		ComplaintID: "cmp_1", Resolution: ResolutionPartialRefund, RefundAmount: 2000,
	})
	require.NoError(t, err)

	// Cook never withdrew, so the refund comes straight out of the wallet.
	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(3000), bal.Withdrawable)

	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), owed)

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, r.Flagged)
}

func TestRefundAfterWithdrawalQueuesDebt(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	_, err := f.clearances.ProcessEligible(ctx)
	require.NoError(t, err)

	// Cook withdraws everything before the complaint lands.
	err = f.ledger.WithWalletLock("t1", "cook1", func() error {
		_, err := f.ledger.Append(ctx, &ledger.Entry{
			TenantID: "t1", CookID: "cook1",
			Kind: ledger.KindWithdrawal, Amount: 5000,
		})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))
	err = f.gate.OnComplaintResolved(ctx, ResolvedEvent{ComplaintID: "cmp_1", Resolution: ResolutionFullRefund})
	require.NoError(t, err)

	// Nothing left to debit; the full amount becomes a queued debt.
	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), owed)
}

func TestZeroRefundCreatesNoDebt(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	err := f.gate.OnComplaintResolved(ctx, ResolvedEvent{
		ComplaintID: "cmp_1", Resolution: ResolutionPartialRefund, RefundAmount: 0,
	})
	require.NoError(t, err)

	// A zero partial refund unblocks without touching money.
	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, r.Paused)
	assert.False(t, r.Cancelled)

	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), owed)
}

func TestResolveUnknownComplaint(t *testing.T) {
	f := newFixture(t, 48)
	err := f.gate.OnComplaintResolved(context.Background(), ResolvedEvent{ComplaintID: "nope", Resolution: ResolutionDismiss})
	assert.ErrorIs(t, err, ErrComplaintNotFound)
}

func TestResolveUnknownResolution(t *testing.T) {
	f := newFixture(t, 48)
	err := f.gate.OnComplaintResolved(context.Background(), ResolvedEvent{ComplaintID: "cmp_1", Resolution: "shrug"})
	assert.ErrorIs(t, err, ErrUnknownResolution)
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	f.creditAndHold(t, "t1", "cook1", "order1", 5000)
	require.NoError(t, f.gate.OnComplaintFiled(ctx, filed("order1", "cmp_1")))

	ev := ResolvedEvent{ComplaintID: "cmp_1", Resolution: ResolutionFullRefund}
	require.NoError(t, f.gate.OnComplaintResolved(ctx, ev))
	require.NoError(t, f.gate.OnComplaintResolved(ctx, ev))

	// One cancellation, one reversal: balance stays at zero, not negative.
	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)
}
