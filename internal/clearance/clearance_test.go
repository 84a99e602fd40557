package clearance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	svc      *Service
	store    *MemoryStore
	ledger   *ledger.Ledger
	notifier *notify.MemoryNotifier
}

func newFixture(t *testing.T, holdHours int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(ledger.NewMemoryStore(), ledger.NewMemoryAuditLogger(), &syncutil.ShardedMutex{}, logger)
	store := NewMemoryStore()
	notifier := notify.NewMemoryNotifier()
	return &fixture{
		svc:      NewService(store, led, fixedHold(holdHours), notifier, logger),
		store:    store,
		ledger:   led,
		notifier: notifier,
	}
}

// credit writes an unwithdrawable payment credit and returns its entry id.
func (f *fixture) credit(t *testing.T, tenantID, cookID, orderID string, amount money.Cents) string {
	t.Helper()
	var id string
	err := f.ledger.WithWalletLock(tenantID, cookID, func() error {
		e, err := f.ledger.Append(context.Background(), &ledger.Entry{
			TenantID: tenantID,
			CookID:   cookID,
			OrderID:  orderID,
			Kind:     ledger.KindPaymentCredit,
			Amount:   amount,
		})
		if err != nil {
			return err
		}
		id = e.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestCreateSnapshotsHoldDuration(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()
	completedAt := time.Now().Add(-time.Hour)

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	r, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, completedAt)
	require.NoError(t, err)

	assert.Equal(t, 48, r.HoldHours)
	assert.Equal(t, completedAt.Add(48*time.Hour), r.WithdrawableAt)
	assert.False(t, r.Cleared)
	assert.False(t, r.Paused)
}

func TestCreateIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	r1, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)
	r2, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, r1.ID, r2.ID)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	paused, err := f.svc.Pause(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.Equal(t, "cmp_1", paused.ComplaintID)
	// Close to the full hold: 48h minus test runtime.
	assert.InDelta(t, 48*3600, paused.RemainingSeconds, 5)

	// Countdown must not advance while paused.
	time.Sleep(10 * time.Millisecond)

	resumed, err := f.svc.Resume(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.Empty(t, resumed.ComplaintID)
	assert.WithinDuration(t,
		time.Now().Add(time.Duration(paused.RemainingSeconds)*time.Second),
		resumed.WithdrawableAt, 2*time.Second)
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	first, err := f.svc.Pause(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)
	second, err := f.svc.Pause(ctx, "t1", "order1", "cmp_2")
	require.NoError(t, err)

	// The stored remaining time from the first pause survives.
	assert.Equal(t, first.RemainingSeconds, second.RemainingSeconds)
	assert.Equal(t, "cmp_1", second.ComplaintID)
}

func TestPausePastDueIsNoop(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	r, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.True(t, r.WithdrawableAt.Before(time.Now()))

	paused, err := f.svc.Pause(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)
	assert.False(t, paused.Paused)
}

func TestResumeRequiresPause(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	_, err = f.svc.Resume(ctx, "t1", "order1")
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestCancelReversesCredit(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	require.Equal(t, money.Cents(5000), bal.Unwithdrawable)

	cancelled, err := f.svc.Cancel(ctx, "t1", "order1", "full refund")
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	// The credit leaves the balance entirely.
	bal, err = f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)

	// A cancelled record no longer counts as the live record for the order.
	_, err = f.svc.GetByOrder(ctx, "t1", "order1")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// Cancelling again finds nothing to cancel.
	_, err = f.svc.Cancel(ctx, "t1", "order1", "again")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCancelClearedFails(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	_, err = f.svc.ProcessEligible(ctx)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "t1", "order1", "too late")
	assert.ErrorIs(t, err, ErrAlreadyCleared)
}

func TestProcessEligibleClearsAndNotifiesOncePerCook(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	e1 := f.credit(t, "t1", "cook1", "order1", 3000)
	e2 := f.credit(t, "t1", "cook1", "order2", 2000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 3000, e1, time.Now())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "t1", "cook1", "order2", 2000, e2, time.Now())
	require.NoError(t, err)

	n, err := f.svc.ProcessEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), bal.Withdrawable)
	assert.Equal(t, money.Cents(0), bal.Unwithdrawable)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "funds_withdrawable", events[0].Type)
	assert.Equal(t, money.Cents(5000), events[0].Amount)
	assert.Len(t, events[0].Orders, 2)

	// A second sweep finds nothing.
	n, err = f.svc.ProcessEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessEligibleSkipsPaused(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	r, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)

	_, err = f.svc.Pause(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)

	// Even well past the original deadline, a paused record stays held.
	eligible, err := f.store.ListEligible(ctx, r.WithdrawableAt.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestBlockedTotals(t *testing.T) {
	f := newFixture(t, 48)
	ctx := context.Background()

	e1 := f.credit(t, "t1", "cook1", "order1", 3000)
	e2 := f.credit(t, "t1", "cook2", "order2", 2000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 3000, e1, time.Now())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "t1", "cook2", "order2", 2000, e2, time.Now())
	require.NoError(t, err)

	_, err = f.svc.Pause(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)
	_, err = f.svc.Pause(ctx, "t1", "order2", "cmp_2")
	require.NoError(t, err)

	total, err := f.svc.BlockedTotal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), total)

	cookTotal, err := f.svc.BlockedTotalForCook(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(3000), cookTotal)
}

func TestFlagAndUnflag(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	entryID := f.credit(t, "t1", "cook1", "order1", 5000)
	_, err := f.svc.Create(ctx, "t1", "cook1", "order1", 5000, entryID, time.Now())
	require.NoError(t, err)
	_, err = f.svc.ProcessEligible(ctx)
	require.NoError(t, err)

	flagged, err := f.svc.Flag(ctx, "t1", "order1", "cmp_1")
	require.NoError(t, err)
	assert.True(t, flagged.Flagged)

	// Flagged funds count against the cook's withdrawable headroom.
	blocked, err := f.svc.BlockedTotalForCook(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), blocked)

	unflagged, err := f.svc.Unflag(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.False(t, unflagged.Flagged)

	blocked, err = f.svc.BlockedTotalForCook(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), blocked)
}
