// Package clearance delays withdrawability of order credits to absorb
// refund risk.
//
// Flow:
//  1. A completed order creates a Record holding the credit for a
//     snapshotted number of hours
//  2. An open complaint pauses the countdown; resolution resumes it
//  3. A refund resolution cancels the record — the amount never becomes
//     withdrawable
//  4. The periodic sweep clears matured records and flips the originating
//     ledger credit to withdrawable
//
// A record that already cleared before a complaint arrives cannot be
// paused; the block gate flags it for manual review instead.
package clearance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dishpay/dishpay/internal/idgen"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/metrics"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/notify"
)

var (
	ErrRecordNotFound = errors.New("clearance record not found")
	ErrNotPaused      = errors.New("clearance record is not paused")
	ErrAlreadyCleared = errors.New("clearance record already cleared")
	ErrCancelled      = errors.New("clearance record is cancelled")
)

// Record is the per-order hold state machine. HoldHours is snapshotted
// at creation: later admin changes to the tenant default never touch
// existing records.
type Record struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenantId"`
	CookID           string      `json:"cookId"`
	OrderID          string      `json:"orderId"`
	Amount           money.Cents `json:"amount"`
	CreditEntryID    string      `json:"creditEntryId"`
	HoldHours        int         `json:"holdHours"`
	CompletedAt      time.Time   `json:"completedAt"`
	WithdrawableAt   time.Time   `json:"withdrawableAt"`
	Cleared          bool        `json:"cleared"`
	Paused           bool        `json:"paused"`
	Cancelled        bool        `json:"cancelled"`
	Flagged          bool        `json:"flaggedForReview"`
	PausedAt         *time.Time  `json:"pausedAt,omitempty"`
	RemainingSeconds int64       `json:"remainingSecondsAtPause,omitempty"`
	ComplaintID      string      `json:"complaintId,omitempty"`
	BlockedAt        *time.Time  `json:"blockedAt,omitempty"`
	UnblockedAt      *time.Time  `json:"unblockedAt,omitempty"`
	ClearedAt        *time.Time  `json:"clearedAt,omitempty"`
	CancelledAt      *time.Time  `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Blocked reports whether the record carries an active complaint block.
func (r *Record) Blocked() bool {
	return r.Paused || r.Flagged
}

// Store persists clearance records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// GetByOrder returns the single non-cancelled record for the order,
	// or ErrRecordNotFound.
	GetByOrder(ctx context.Context, tenantID, orderID string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	// ListEligible returns records due for clearing at the given instant:
	// not cleared, not cancelled, not paused, withdrawable_at <= now.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	// SumBlocked totals amounts on paused or flagged records per tenant.
	SumBlocked(ctx context.Context, tenantID string) (money.Cents, error)
	SumBlockedForCook(ctx context.Context, tenantID, cookID string) (money.Cents, error)
}

// Wallet abstracts the ledger operations the clearance engine performs.
type Wallet interface {
	WithWalletLock(tenantID, cookID string, fn func() error) error
	Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)
	MarkWithdrawable(ctx context.Context, entryID string, at time.Time) (*ledger.Entry, error)
	Reverse(ctx context.Context, entryID, reason string) (*ledger.Entry, error)
}

// HoldPolicy supplies the hold duration snapshotted onto new records.
type HoldPolicy interface {
	HoldHours(ctx context.Context, tenantID string) (int, error)
}

// Service implements clearance business logic.
type Service struct {
	store    Store
	wallet   Wallet
	policy   HoldPolicy
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewService creates a new clearance service.
func NewService(store Store, wallet Wallet, policy HoldPolicy, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, wallet: wallet, policy: policy, notifier: notifier, logger: logger}
}

// Create opens a hold for a credited order. The tenant's hold duration
// is read once here and snapshotted. A zero hold makes the record
// eligible immediately; the next sweep clears it. Creating against an
// order that already has a live record returns the existing record.
func (s *Service) Create(ctx context.Context, tenantID, cookID, orderID string, amount money.Cents, creditEntryID string, completedAt time.Time) (*Record, error) {
	if existing, err := s.store.GetByOrder(ctx, tenantID, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	holdHours, err := s.policy.HoldHours(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve hold duration: %w", err)
	}

	now := time.Now()
	r := &Record{
		ID:             idgen.WithPrefix("clr_"),
		TenantID:       tenantID,
		CookID:         cookID,
		OrderID:        orderID,
		Amount:         amount,
		CreditEntryID:  creditEntryID,
		HoldHours:      holdHours,
		CompletedAt:    completedAt,
		WithdrawableAt: completedAt.Add(time.Duration(holdHours) * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create clearance record: %w", err)
	}

	s.logger.Info("clearance created",
		"clearance", r.ID, "tenant", tenantID, "cook", cookID, "order", orderID,
		"amount", amount.String(), "hold_hours", holdHours, "withdrawable_at", r.WithdrawableAt)
	return r, nil
}

// Pause freezes the countdown for an open complaint. Pausing a record
// that is already past due does nothing (too late to pause); pausing an
// already-paused record is a no-op and never corrupts the stored
// remaining time.
func (s *Service) Pause(ctx context.Context, tenantID, orderID, complaintID string) (*Record, error) {
	r, err := s.store.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if r.Cleared {
		return nil, ErrAlreadyCleared
	}
	if r.Paused {
		return r, nil
	}

	now := time.Now()
	remaining := r.WithdrawableAt.Sub(now)
	if remaining <= 0 {
		return r, nil
	}

	r.Paused = true
	r.PausedAt = &now
	r.RemainingSeconds = int64(remaining / time.Second)
	r.ComplaintID = complaintID
	r.BlockedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	metrics.ClearancesTotal.WithLabelValues("paused").Inc()
	s.logger.Info("clearance paused",
		"clearance", r.ID, "order", orderID, "complaint", complaintID,
		"remaining_seconds", r.RemainingSeconds)
	return r, nil
}

// Resume restarts the countdown with the time that was left at pause:
// a record paused with 2 hours remaining becomes withdrawable exactly
// 2 hours after the resume instant. The block gate only calls this once
// every complaint on the order is closed.
func (s *Service) Resume(ctx context.Context, tenantID, orderID string) (*Record, error) {
	r, err := s.store.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if !r.Paused {
		return nil, ErrNotPaused
	}

	now := time.Now()
	r.WithdrawableAt = now.Add(time.Duration(r.RemainingSeconds) * time.Second)
	r.Paused = false
	r.PausedAt = nil
	r.RemainingSeconds = 0
	r.ComplaintID = ""
	r.UnblockedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	metrics.ClearancesTotal.WithLabelValues("resumed").Inc()
	s.logger.Info("clearance resumed",
		"clearance", r.ID, "order", orderID, "withdrawable_at", r.WithdrawableAt)
	return r, nil
}

// Cancel terminates the hold because the order was refunded. The amount
// is permanently excluded from the wallet: the originating credit entry
// is reversed out of the balance fold and a reversal record is appended
// for the audit trail.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, reason string) (*Record, error) {
	r, err := s.store.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if r.Cancelled {
		return r, nil
	}
	if r.Cleared {
		return nil, ErrAlreadyCleared
	}

	err = s.wallet.WithWalletLock(r.TenantID, r.CookID, func() error {
		now := time.Now()
		r.Cancelled = true
		r.Paused = false
		r.CancelledAt = &now
		r.UpdatedAt = now
		if err := s.store.Update(ctx, r); err != nil {
			return err
		}

		if _, err := s.wallet.Reverse(ctx, r.CreditEntryID, reason); err != nil && !errors.Is(err, ledger.ErrAlreadyReversed) {
			return err
		}
		_, err := s.wallet.Append(ctx, &ledger.Entry{
			TenantID:   r.TenantID,
			CookID:     r.CookID,
			OrderID:    r.OrderID,
			SourceTxID: r.CreditEntryID,
			Kind:       ledger.KindClearanceReversal,
			Amount:     r.Amount,
			Meta:       map[string]string{"reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cancel clearance %s: %w", r.ID, err)
	}

	metrics.ClearancesTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("clearance cancelled",
		"clearance", r.ID, "order", orderID, "amount", r.Amount.String(), "reason", reason)
	return r, nil
}

// Flag marks an already-cleared record for manual review. Funds left the
// hold state before the complaint arrived, so they cannot be paused.
func (s *Service) Flag(ctx context.Context, tenantID, orderID, complaintID string) (*Record, error) {
	r, err := s.store.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if r.Flagged {
		return r, nil
	}

	now := time.Now()
	r.Flagged = true
	r.ComplaintID = complaintID
	r.BlockedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	metrics.ClearancesTotal.WithLabelValues("flagged").Inc()
	s.logger.Info("clearance flagged for review",
		"clearance", r.ID, "order", orderID, "complaint", complaintID)
	return r, nil
}

// Unflag clears a review flag after a complaint closes.
func (s *Service) Unflag(ctx context.Context, tenantID, orderID string) (*Record, error) {
	r, err := s.store.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if !r.Flagged {
		return r, nil
	}

	now := time.Now()
	r.Flagged = false
	r.ComplaintID = ""
	r.UnblockedAt = &now
	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetByOrder returns the live record for an order.
func (s *Service) GetByOrder(ctx context.Context, tenantID, orderID string) (*Record, error) {
	return s.store.GetByOrder(ctx, tenantID, orderID)
}

// BlockedTotal returns the tenant-wide blocked-or-flagged amount.
func (s *Service) BlockedTotal(ctx context.Context, tenantID string) (money.Cents, error) {
	return s.store.SumBlocked(ctx, tenantID)
}

// BlockedTotalForCook returns the blocked-or-flagged amount for one cook.
// The withdrawal gate subtracts this from the withdrawable balance.
func (s *Service) BlockedTotalForCook(ctx context.Context, tenantID, cookID string) (money.Cents, error) {
	return s.store.SumBlockedForCook(ctx, tenantID, cookID)
}

// ProcessEligible clears every matured record. All eligibility
// comparisons use a single "now" captured at entry so records cannot
// flap between eligible and ineligible mid-run. Notifications are
// consolidated: one per cook covering all orders cleared in this pass.
func (s *Service) ProcessEligible(ctx context.Context) (int, error) {
	now := time.Now()

	eligible, err := s.store.ListEligible(ctx, now, 500)
	if err != nil {
		return 0, fmt.Errorf("list eligible clearances: %w", err)
	}

	type cookTotals struct {
		tenantID string
		cookID   string
		total    money.Cents
		orders   []string
	}
	totals := make(map[string]*cookTotals)

	cleared := 0
	for _, rec := range eligible {
		r := rec
		err := s.wallet.WithWalletLock(r.TenantID, r.CookID, func() error {
			// Re-read under lock: a complaint may have paused or a refund
			// cancelled the record since listing.
			fresh, err := s.store.Get(ctx, r.ID)
			if err != nil {
				return err
			}
			if fresh.Cleared || fresh.Cancelled || fresh.Paused || fresh.WithdrawableAt.After(now) {
				return nil
			}
			r = fresh

			clearedAt := time.Now()
			r.Cleared = true
			r.ClearedAt = &clearedAt
			r.UpdatedAt = clearedAt
			if err := s.store.Update(ctx, r); err != nil {
				return err
			}

			if _, err := s.wallet.MarkWithdrawable(ctx, r.CreditEntryID, clearedAt); err != nil {
				return err
			}
			if _, err := s.wallet.Append(ctx, &ledger.Entry{
				TenantID:   r.TenantID,
				CookID:     r.CookID,
				OrderID:    r.OrderID,
				SourceTxID: r.CreditEntryID,
				Kind:       ledger.KindBecameWithdrawable,
				Amount:     r.Amount,
			}); err != nil {
				return err
			}

			key := r.TenantID + "/" + r.CookID
			ct, ok := totals[key]
			if !ok {
				ct = &cookTotals{tenantID: r.TenantID, cookID: r.CookID}
				totals[key] = ct
			}
			ct.total += r.Amount
			ct.orders = append(ct.orders, r.OrderID)
			cleared++
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to clear matured record",
				"clearance", r.ID, "order", r.OrderID, "error", err)
			continue
		}
	}

	// Notify after all balance mutations committed, one message per cook.
	for _, ct := range totals {
		s.notifier.FundsWithdrawable(ct.tenantID, ct.cookID, ct.total, ct.orders)
	}

	if cleared > 0 {
		metrics.ClearancesTotal.WithLabelValues("cleared").Add(float64(cleared))
		s.logger.Info("clearance sweep done", "cleared", cleared, "cooks", len(totals))
	}
	return cleared, nil
}
