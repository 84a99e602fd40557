// Package ledger tracks cook wallet balances on the platform.
//
// Flow:
//  1. A completed order credits the cook's wallet (unwithdrawable)
//  2. The clearance sweep flips the credit to withdrawable after the hold
//  3. A withdrawal reserves funds before the external transfer runs
//  4. A failed transfer reverses the withdrawal entry, restoring funds
//
// The append-only entry set is the single source of truth. The balance
// row per (tenant, cook) is a materialized cache recomputed from the
// entries after every mutating operation; it is never the only record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dishpay/dishpay/internal/idgen"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/pagination"
	"github.com/dishpay/dishpay/internal/syncutil"
)

var (
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrInvalidKind         = errors.New("invalid ledger entry kind")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyReversed     = errors.New("ledger entry already reversed")
)

// Kind identifies what a ledger entry represents. The set is closed:
// balance folding matches exhaustively, so a new kind is a compile-time
// decision, not a stringly-typed runtime surprise.
type Kind string

const (
	KindPaymentCredit      Kind = "payment_credit"
	KindCommission         Kind = "commission"
	KindWithdrawal         Kind = "withdrawal"
	KindRefundDeduction    Kind = "refund_deduction"
	KindClearanceReversal  Kind = "clearance_reversal"
	KindBecameWithdrawable Kind = "became_withdrawable"
	KindWalletPayment      Kind = "wallet_payment"
)

func validKind(k Kind) bool {
	switch k {
	case KindPaymentCredit, KindCommission, KindWithdrawal, KindRefundDeduction,
		KindClearanceReversal, KindBecameWithdrawable, KindWalletPayment:
		return true
	}
	return false
}

// EntryStatus is the lifecycle status of an entry. Entries are immutable
// except the completed→reversed flip used only by transfer-failure
// compensation and clearance cancellation.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusReversed  EntryStatus = "reversed"
	StatusPending   EntryStatus = "pending"
)

// Entry is an immutable, append-only wallet transaction record.
type Entry struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenantId"`
	CookID         string            `json:"cookId"`
	OrderID        string            `json:"orderId,omitempty"`
	SourceTxID     string            `json:"sourceTxId,omitempty"`
	Kind           Kind              `json:"kind"`
	Amount         money.Cents       `json:"amount"`
	Currency       string            `json:"currency"`
	IsWithdrawable bool              `json:"isWithdrawable"`
	WithdrawableAt *time.Time        `json:"withdrawableAt,omitempty"`
	Status         EntryStatus       `json:"status"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Balance is the materialized per-(tenant, cook) snapshot. Invariant:
// Total == Withdrawable + Unwithdrawable, all non-negative, and all equal
// to a pure recomputation over the entry set.
type Balance struct {
	TenantID       string      `json:"tenantId"`
	CookID         string      `json:"cookId"`
	Total          money.Cents `json:"total"`
	Withdrawable   money.Cents `json:"withdrawable"`
	Unwithdrawable money.Cents `json:"unwithdrawable"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Store persists ledger entries and the balance cache.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	ListByWallet(ctx context.Context, tenantID, cookID string, before *pagination.Cursor, limit int) ([]*Entry, error)
	ListAllByWallet(ctx context.Context, tenantID, cookID string) ([]*Entry, error)
	CreditEntryForOrder(ctx context.Context, tenantID, orderID string) (*Entry, error)
	HasWithdrawalSince(ctx context.Context, tenantID, cookID string, since time.Time) (bool, error)
	GetBalance(ctx context.Context, tenantID, cookID string) (*Balance, error)
	UpsertBalance(ctx context.Context, b *Balance) error
}

// Ledger manages cook wallet balances.
type Ledger struct {
	store  Store
	audit  AuditLogger
	locks  *syncutil.ShardedMutex
	logger *slog.Logger
}

// New creates a new ledger over the given store. The sharded mutex is
// shared with every service that mutates wallet state for the same
// (tenant, cook) pair.
func New(store Store, audit AuditLogger, locks *syncutil.ShardedMutex, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, audit: audit, locks: locks, logger: logger}
}

// WithWalletLock runs fn while holding the wallet lock for the pair.
// All balance-mutating call paths go through this; inner ledger methods
// assume the caller holds the lock and never re-acquire it.
func (l *Ledger) WithWalletLock(tenantID, cookID string, fn func() error) error {
	unlock := l.locks.Lock(syncutil.WalletKey(tenantID, cookID))
	defer unlock()
	return fn()
}

// Append validates and persists a new entry, then recomputes the balance
// cache. Caller must hold the wallet lock.
func (l *Ledger) Append(ctx context.Context, e *Entry) (*Entry, error) {
	if !validKind(e.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if e.Amount < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, e.Amount)
	}
	if e.TenantID == "" || e.CookID == "" {
		return nil, fmt.Errorf("ledger entry requires tenant and cook ids")
	}

	if e.ID == "" {
		e.ID = idgen.WithPrefix("led_")
	}
	if e.Currency == "" {
		e.Currency = money.Currency
	}
	if e.Status == "" {
		e.Status = StatusCompleted
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	before, err := l.store.GetBalance(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}

	if err := l.store.Append(ctx, e); err != nil {
		return nil, err
	}

	after, err := l.Recompute(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}

	l.logAudit(ctx, e, "append", before, after, string(e.Kind))
	return e, nil
}

// GetBalance returns the cached balance, lazily zero for unseen pairs.
func (l *Ledger) GetBalance(ctx context.Context, tenantID, cookID string) (*Balance, error) {
	return l.store.GetBalance(ctx, tenantID, cookID)
}

// Recompute folds the full entry set for the pair into a fresh balance
// and upserts the cache row. Any cache corruption is self-healing: the
// fold is the truth. Caller must hold the wallet lock.
func (l *Ledger) Recompute(ctx context.Context, tenantID, cookID string) (*Balance, error) {
	entries, err := l.store.ListAllByWallet(ctx, tenantID, cookID)
	if err != nil {
		return nil, err
	}

	bal := FoldBalance(tenantID, cookID, entries)
	if err := l.store.UpsertBalance(ctx, bal); err != nil {
		return nil, err
	}
	return bal, nil
}

// FoldBalance computes a balance as a pure function of the entry set.
//
// Credit entries count toward withdrawable or unwithdrawable depending on
// their flag; debit kinds subtract from withdrawable. Commission,
// refund_deduction, became_withdrawable and clearance_reversal entries
// are transparency records: their amounts are already netted into the
// credit/debit entries they annotate, so the fold skips them. Reversed
// and pending entries are excluded entirely, which is what makes the
// reversed flip a complete compensation.
func FoldBalance(tenantID, cookID string, entries []*Entry) *Balance {
	bal := &Balance{TenantID: tenantID, CookID: cookID, UpdatedAt: time.Now()}
	for _, e := range entries {
		if e.Status != StatusCompleted {
			continue
		}
		switch e.Kind {
		case KindPaymentCredit:
			if e.IsWithdrawable {
				bal.Withdrawable += e.Amount
			} else {
				bal.Unwithdrawable += e.Amount
			}
		case KindWithdrawal, KindWalletPayment:
			bal.Withdrawable -= e.Amount
		case KindCommission, KindRefundDeduction, KindBecameWithdrawable, KindClearanceReversal:
			// Transparency records; amounts already reflected elsewhere.
		}
	}
	bal.Total = bal.Withdrawable + bal.Unwithdrawable
	return bal
}

// MarkWithdrawable flips the originating credit entry to withdrawable and
// recomputes. Used only by the clearance sweep. Caller must hold the
// wallet lock.
func (l *Ledger) MarkWithdrawable(ctx context.Context, entryID string, at time.Time) (*Entry, error) {
	e, err := l.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.IsWithdrawable {
		return e, nil
	}

	before, err := l.store.GetBalance(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}

	e.IsWithdrawable = true
	e.WithdrawableAt = &at
	if err := l.store.Update(ctx, e); err != nil {
		return nil, err
	}

	after, err := l.Recompute(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}
	l.logAudit(ctx, e, "mark_withdrawable", before, after, "clearance matured")
	return e, nil
}

// Reverse flips an entry completed→reversed, removing it from the fold.
// This is the narrow mutation reserved for transfer-failure compensation
// and clearance cancellation. Caller must hold the wallet lock.
func (l *Ledger) Reverse(ctx context.Context, entryID, reason string) (*Entry, error) {
	e, err := l.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusReversed {
		return nil, ErrAlreadyReversed
	}

	before, err := l.store.GetBalance(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}

	e.Status = StatusReversed
	if err := l.store.Update(ctx, e); err != nil {
		return nil, err
	}

	after, err := l.Recompute(ctx, e.TenantID, e.CookID)
	if err != nil {
		return nil, err
	}
	l.logAudit(ctx, e, "reverse", before, after, reason)
	return e, nil
}

// PayFromWallet debits withdrawable funds for an on-platform payment
// (cook pays a platform invoice from wallet balance).
func (l *Ledger) PayFromWallet(ctx context.Context, tenantID, cookID, reference string, amount money.Cents) (*Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	var entry *Entry
	err := l.WithWalletLock(tenantID, cookID, func() error {
		bal, err := l.store.GetBalance(ctx, tenantID, cookID)
		if err != nil {
			return err
		}
		if bal.Withdrawable < amount {
			return ErrInsufficientBalance
		}
		entry, err = l.Append(ctx, &Entry{
			TenantID:   tenantID,
			CookID:     cookID,
			SourceTxID: reference,
			Kind:       KindWalletPayment,
			Amount:     amount,
		})
		return err
	})
	return entry, err
}

// History returns entries for a wallet, newest first, as one cursor
// page. An empty cursor starts from the most recent entry; the returned
// cursor resumes where the page ended.
func (l *Ledger) History(ctx context.Context, tenantID, cookID, cursor string, limit int) ([]*Entry, string, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}
	entries, err := l.store.ListByWallet(ctx, tenantID, cookID, before, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	entries, next, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return entries, next, hasMore, nil
}

// CreditEntryForOrder returns the non-reversed payment credit for an
// order, or ErrEntryNotFound. Used as the commission splitter's
// idempotency backstop and by the block gate.
func (l *Ledger) CreditEntryForOrder(ctx context.Context, tenantID, orderID string) (*Entry, error) {
	return l.store.CreditEntryForOrder(ctx, tenantID, orderID)
}

// HasWithdrawalSince reports whether the cook withdrew funds after the
// given instant. The block gate uses this to decide whether a refund
// needs a debt-queue entry (the payout already left the platform).
func (l *Ledger) HasWithdrawalSince(ctx context.Context, tenantID, cookID string, since time.Time) (bool, error) {
	return l.store.HasWithdrawalSince(ctx, tenantID, cookID, since)
}

func (l *Ledger) logAudit(ctx context.Context, e *Entry, op string, before, after *Balance, reason string) {
	if l.audit == nil {
		return
	}
	err := l.audit.LogAudit(ctx, &AuditEntry{
		TenantID:  e.TenantID,
		CookID:    e.CookID,
		Operation: op,
		Amount:    e.Amount,
		Reference: e.ID,
		Before:    balanceSnapshot(before),
		After:     balanceSnapshot(after),
		Reason:    reason,
	})
	if err != nil && l.logger != nil {
		l.logger.Warn("audit write failed", "operation", op, "entry", e.ID, "error", err)
	}
}
