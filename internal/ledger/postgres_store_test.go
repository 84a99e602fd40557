package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/syncutil"
	"github.com/dishpay/dishpay/internal/testutil"
)

// Integration tests against a real PostgreSQL. Skipped unless
// POSTGRES_URL is set.

func newPostgresLedger(t *testing.T) (*Ledger, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(NewPostgresStore(db), NewPostgresAuditLogger(db), &syncutil.ShardedMutex{}, logger)
	return l, cleanup
}

func TestPostgresAppendAndBalance(t *testing.T) {
	l, cleanup := newPostgresLedger(t)
	defer cleanup()
	ctx := context.Background()

	entry := mustAppend(t, l, &Entry{
		TenantID: "t1", CookID: "c1", OrderID: "o1",
		Kind: KindPaymentCredit, Amount: 5000,
		Meta: map[string]string{"source": "order_completion"},
	})

	got, err := l.store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), got.Amount)
	assert.Equal(t, "order_completion", got.Meta["source"])
	assert.Equal(t, money.Currency, got.Currency)

	bal, err := l.GetBalance(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(5000), bal.Total)
	assert.Equal(t, money.Cents(5000), bal.Unwithdrawable)
}

func TestPostgresWithdrawableFlip(t *testing.T) {
	l, cleanup := newPostgresLedger(t)
	defer cleanup()
	ctx := context.Background()

	entry := mustAppend(t, l, &Entry{
		TenantID: "t1", CookID: "c1", OrderID: "o1",
		Kind: KindPaymentCredit, Amount: 3000,
	})

	err := l.WithWalletLock("t1", "c1", func() error {
		_, err := l.MarkWithdrawable(ctx, entry.ID, time.Now())
		return err
	})
	require.NoError(t, err)

	bal, err := l.GetBalance(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(3000), bal.Withdrawable)
	assert.Equal(t, money.Cents(0), bal.Unwithdrawable)
}

func TestPostgresHistoryPagination(t *testing.T) {
	l, cleanup := newPostgresLedger(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustAppend(t, l, &Entry{TenantID: "t1", CookID: "c1",
			Kind: KindPaymentCredit, Amount: money.Cents(1000 * (i + 1))})
	}

	page, cursor, hasMore, err := l.History(ctx, "t1", "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, hasMore)
	assert.Equal(t, money.Cents(3000), page[0].Amount)

	page, _, hasMore, err = l.History(ctx, "t1", "c1", cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.False(t, hasMore)
	assert.Equal(t, money.Cents(1000), page[0].Amount)
}

func TestPostgresReverseAndAudit(t *testing.T) {
	l, cleanup := newPostgresLedger(t)
	defer cleanup()
	ctx := context.Background()

	entry := mustAppend(t, l, &Entry{
		TenantID: "t1", CookID: "c1", OrderID: "o1",
		Kind: KindPaymentCredit, Amount: 2000, IsWithdrawable: true,
	})

	err := l.WithWalletLock("t1", "c1", func() error {
		_, err := l.Reverse(ctx, entry.ID, "order refunded")
		return err
	})
	require.NoError(t, err)

	bal, err := l.GetBalance(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), bal.Total)

	audits, err := l.audit.QueryAudit(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
}

func TestPostgresCreditEntryForOrder(t *testing.T) {
	l, cleanup := newPostgresLedger(t)
	defer cleanup()
	ctx := context.Background()

	mustAppend(t, l, &Entry{TenantID: "t1", CookID: "c1", OrderID: "o1",
		Kind: KindPaymentCredit, Amount: 1500})

	got, err := l.CreditEntryForOrder(ctx, "t1", "o1")
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1500), got.Amount)

	_, err = l.CreditEntryForOrder(ctx, "t1", "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
