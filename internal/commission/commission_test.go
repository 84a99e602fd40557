package commission

import (
	"context"
	"errors"
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

type fixedRate int

func (r fixedRate) CommissionPercent(context.Context, string, string) (int, error) {
	return int(r), nil
}

type fixedHold int

func (h fixedHold) HoldHours(context.Context, string) (int, error) {
	return int(h), nil
}

type fixture struct {
	svc        *Service
	ledger     *ledger.Ledger
	store      *ledger.MemoryStore
	debts      *deduction.Service
	clearances *clearance.Service
}

func newFixture(t *testing.T, rate int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewMemoryStore()
	led := ledger.New(store, ledger.NewMemoryAuditLogger(), &syncutil.ShardedMutex{}, logger)
	debts := deduction.NewService(deduction.NewMemoryStore(), led, logger)
	clr := clearance.NewService(clearance.NewMemoryStore(), led, fixedHold(48), notify.NewMemoryNotifier(), logger)
	return &fixture{
		svc:        NewService(fixedRate(rate), debts, led, clr, logger),
		ledger:     led,
		store:      store,
		debts:      debts,
		clearances: clr,
	}
}

func event(order string, subtotal, fee money.Cents) OrderCompletedEvent {
	return OrderCompletedEvent{
		OrderID:     order,
		TenantID:    "t1",
		CookID:      "cook1",
		Subtotal:    subtotal,
		DeliveryFee: fee,
		CompletedAt: time.Now(),
	}
}

func (f *fixture) entriesByKind(t *testing.T, kind ledger.Kind) []*ledger.Entry {
	t.Helper()
	all, err := f.store.ListAllByWallet(context.Background(), "t1", "cook1")
	require.NoError(t, err)
	var out []*ledger.Entry
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestCommissionFloorsInCookFavor(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	split, err := f.svc.OnOrderCompleted(ctx, event("order1", 1001, 200))
	require.NoError(t, err)

	// floor(1001 * 10 / 100) = 100, never 101.
	assert.Equal(t, money.Cents(100), split.Commission)
	// Delivery fee is never commissioned.
	assert.Equal(t, money.Cents(1101), split.CookNet)
	assert.Equal(t, money.Cents(1101), split.Credited)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1101), bal.Unwithdrawable)
	assert.Equal(t, money.Cents(0), bal.Withdrawable)

	// The hold is sized to the credited amount.
	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1101), r.Amount)
	assert.Equal(t, split.ClearanceID, r.ID)
}

func TestZeroRateStillWritesCommissionEntry(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	split, err := f.svc.OnOrderCompleted(ctx, event("order1", 1000, 0))
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), split.Commission)

	entries := f.entriesByKind(t, ledger.KindCommission)
	require.Len(t, entries, 1)
	assert.Equal(t, money.Cents(0), entries[0].Amount)
}

func TestDebtsInterceptCreditBeforeWallet(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.debts.CreateDeduction(ctx, "t1", "cook1", "old_order", 300, "refund after withdrawal", "complaint")
	require.NoError(t, err)

	// subtotal 1000 at 10% leaves net 900; 300 goes to the debt first.
	split, err := f.svc.OnOrderCompleted(ctx, event("order1", 1000, 0))
	require.NoError(t, err)
	assert.Equal(t, money.Cents(300), split.Deducted)
	assert.Equal(t, money.Cents(600), split.Credited)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(600), bal.Total)

	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), owed)

	r, err := f.clearances.GetByOrder(ctx, "t1", "order1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(600), r.Amount)
}

func TestFullDeductionLeavesNoHold(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.debts.CreateDeduction(ctx, "t1", "cook1", "old_order", 2000, "refund after withdrawal", "complaint")
	require.NoError(t, err)

	split, err := f.svc.OnOrderCompleted(ctx, event("order1", 1000, 0))
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1000), split.Deducted)
	assert.Equal(t, money.Cents(0), split.Credited)
	assert.Empty(t, split.ClearanceID)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)

	_, err = f.clearances.GetByOrder(ctx, "t1", "order1")
	assert.ErrorIs(t, err, clearance.ErrRecordNotFound)

	owed, err := f.debts.OutstandingTotal(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1000), owed)
}

func TestRepeatedCompletionIsNoop(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	first, err := f.svc.OnOrderCompleted(ctx, event("order1", 1000, 100))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.svc.OnOrderCompleted(ctx, event("order1", 1000, 100))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.CreditEntryID, second.CreditEntryID)

	bal, err := f.ledger.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1000), bal.Total)

	assert.Len(t, f.entriesByKind(t, ledger.KindPaymentCredit), 1)
	assert.Len(t, f.entriesByKind(t, ledger.KindCommission), 1)
}

func TestRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.OnOrderCompleted(ctx, OrderCompletedEvent{TenantID: "t1", CookID: "cook1"})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = f.svc.OnOrderCompleted(ctx, event("order1", -5, 0))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

type flakyHolds struct {
	inner    Holds
	failures int
}

func (h *flakyHolds) Create(ctx context.Context, tenantID, cookID, orderID string, amount money.Cents, creditEntryID string, completedAt time.Time) (*clearance.Record, error) {
	if h.failures > 0 {
		h.failures--
		return nil, errors.New("clearance store unavailable")
	}
	return h.inner.Create(ctx, tenantID, cookID, orderID, amount, creditEntryID, completedAt)
}

func TestRetryAfterHoldFailureStillOpensHold(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(ledger.NewMemoryStore(), ledger.NewMemoryAuditLogger(), &syncutil.ShardedMutex{}, logger)
	debts := deduction.NewService(deduction.NewMemoryStore(), led, logger)
	clr := clearance.NewService(clearance.NewMemoryStore(), led, fixedHold(0), notify.NewMemoryNotifier(), logger)
	svc := NewService(fixedRate(10), debts, led, &flakyHolds{inner: clr, failures: 1}, logger)
	ctx := context.Background()

	// The credit lands but the hold does not.
	_, err := svc.OnOrderCompleted(ctx, event("order1", 10000, 0))
	require.Error(t, err)

	// The retry hits the duplicate backstop and must still end with a
	// hold, or the credit stays unwithdrawable forever.
	split, err := svc.OnOrderCompleted(ctx, event("order1", 10000, 0))
	require.NoError(t, err)
	assert.True(t, split.Duplicate)
	assert.NotEmpty(t, split.ClearanceID)

	cleared, err := clr.ProcessEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	bal, err := led.GetBalance(ctx, "t1", "cook1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(9000), bal.Withdrawable)
	assert.Equal(t, money.Cents(0), bal.Unwithdrawable)
}
