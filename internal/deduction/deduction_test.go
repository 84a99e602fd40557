package deduction

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/syncutil"
)

func newService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(ledger.NewMemoryStore(), ledger.NewMemoryAuditLogger(), &syncutil.ShardedMutex{}, logger)
	return NewService(NewMemoryStore(), led, logger), led
}

func TestApplyDeductionsFIFO(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()

	d1, err := svc.CreateDeduction(ctx, "t1", "c1", "o1", 1000, "refund after withdrawal", "complaint")
	require.NoError(t, err)
	d2, err := svc.CreateDeduction(ctx, "t1", "c1", "o2", 500, "refund after withdrawal", "complaint")
	require.NoError(t, err)

	// Payment of 1200 settles the oldest debt fully and chips 200 off the
	// second, leaving nothing for the wallet beyond the remainder.
	var deducted, remainder money.Cents
	err = led.WithWalletLock("t1", "c1", func() error {
		var err error
		deducted, remainder, err = svc.ApplyDeductions(ctx, "t1", "c1", 1200, "o3")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1200), deducted)
	assert.Equal(t, money.Cents(0), remainder)

	first, err := svc.store.Get(ctx, d1.ID)
	require.NoError(t, err)
	assert.True(t, first.Settled())
	require.NotNil(t, first.SettledAt)

	second, err := svc.store.Get(ctx, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(300), second.Remaining)
	assert.Nil(t, second.SettledAt)

	total, err := svc.OutstandingTotal(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(300), total)
}

func TestApplyDeductionsLeavesRemainder(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()

	_, err := svc.CreateDeduction(ctx, "t1", "c1", "o1", 400, "partial refund", "complaint")
	require.NoError(t, err)

	var deducted, remainder money.Cents
	err = led.WithWalletLock("t1", "c1", func() error {
		var err error
		deducted, remainder, err = svc.ApplyDeductions(ctx, "t1", "c1", 1000, "o2")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(400), deducted)
	assert.Equal(t, money.Cents(600), remainder)

	total, _ := svc.OutstandingTotal(ctx, "t1", "c1")
	assert.Equal(t, money.Cents(0), total)
}

func TestApplyDeductionsNoDebts(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()

	var deducted, remainder money.Cents
	err := led.WithWalletLock("t1", "c1", func() error {
		var err error
		deducted, remainder, err = svc.ApplyDeductions(ctx, "t1", "c1", 900, "o1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), deducted)
	assert.Equal(t, money.Cents(900), remainder)
}

func TestZeroAmountsAreNoops(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.CreateDeduction(ctx, "t1", "c1", "o1", 0, "zero", "manual")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = svc.CreateDeduction(ctx, "t1", "c1", "o1", -50, "negative", "manual")
	require.NoError(t, err)
	assert.Nil(t, d)

	deducted, remainder, err := svc.ApplyDeductions(ctx, "t1", "c1", 0, "o2")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), deducted)
	assert.Equal(t, money.Cents(0), remainder)
}

func TestDeductionWritesTransparencyEntries(t *testing.T) {
	svc, led := newService(t)
	ctx := context.Background()

	_, err := svc.CreateDeduction(ctx, "t1", "c1", "o1", 700, "refund", "complaint")
	require.NoError(t, err)

	err = led.WithWalletLock("t1", "c1", func() error {
		_, _, err := svc.ApplyDeductions(ctx, "t1", "c1", 700, "o2")
		return err
	})
	require.NoError(t, err)

	entries, _, _, err := led.History(ctx, "t1", "c1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindRefundDeduction, entries[0].Kind)
	assert.Equal(t, money.Cents(700), entries[0].Amount)
	assert.Equal(t, "o2", entries[0].OrderID)
	assert.Equal(t, "refund", entries[0].Meta["reason"])

	// Transparency entries never move the balance.
	bal, err := led.GetBalance(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)
}
