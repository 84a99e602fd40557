// Package blockgate translates complaint lifecycle events into clearance
// operations and refund clawbacks.
//
// A filed complaint blocks the order's payout: the clearance countdown is
// paused while holding, or the record is flagged for review if the funds
// already cleared. Resolution either unblocks (dismiss, warning) or claws
// the money back (refund, suspension): a held clearance is cancelled, a
// cleared one is recovered from the wallet or, when the cook already
// withdrew, through the debt queue.
package blockgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dishpay/dishpay/internal/clearance"
	"github.com/dishpay/dishpay/internal/deduction"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/money"
)

var complaintEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dishpay",
	Subsystem: "blockgate",
	Name:      "complaint_events_total",
	Help:      "Total complaint events processed by type and action taken.",
}, []string{"event", "action"})

func init() {
	prometheus.MustRegister(complaintEventsTotal)
}

var (
	ErrComplaintNotFound = errors.New("complaint not found")
	ErrAlreadyResolved   = errors.New("complaint already resolved")
	ErrUnknownResolution = errors.New("unknown complaint resolution")
)

// ComplaintStatus is the lifecycle status of a complaint.
type ComplaintStatus string

const (
	ComplaintOpen     ComplaintStatus = "open"
	ComplaintResolved ComplaintStatus = "resolved"
)

// Resolution is how a complaint was closed.
type Resolution string

const (
	ResolutionDismiss       Resolution = "dismiss"
	ResolutionWarning       Resolution = "warning"
	ResolutionPartialRefund Resolution = "partial_refund"
	ResolutionFullRefund    Resolution = "full_refund"
	ResolutionSuspend       Resolution = "suspend"
)

// Monetary reports whether the resolution carries a refund.
func (r Resolution) Monetary() bool {
	switch r {
	case ResolutionPartialRefund, ResolutionFullRefund, ResolutionSuspend:
		return true
	}
	return false
}

func validResolution(r Resolution) bool {
	switch r {
	case ResolutionDismiss, ResolutionWarning, ResolutionPartialRefund,
		ResolutionFullRefund, ResolutionSuspend:
		return true
	}
	return false
}

// Complaint mirrors the complaint subsystem's lifecycle as far as the
// payout engine needs it: which order is contested and whether the
// complaint is still open.
type Complaint struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	CookID       string          `json:"cookId"`
	OrderID      string          `json:"orderId"`
	Status       ComplaintStatus `json:"status"`
	Resolution   Resolution      `json:"resolution,omitempty"`
	RefundAmount money.Cents     `json:"refundAmount,omitempty"`
	FiledAt      time.Time       `json:"filedAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}

// Store persists the gate's view of complaints.
type Store interface {
	Create(ctx context.Context, c *Complaint) error
	Get(ctx context.Context, id string) (*Complaint, error)
	Update(ctx context.Context, c *Complaint) error
	// CountOpenByOrder counts complaints still open on the order. Resume
	// is only allowed when this reaches zero.
	CountOpenByOrder(ctx context.Context, tenantID, orderID string) (int, error)
}

// Clearances is the clearance surface the gate drives.
type Clearances interface {
	GetByOrder(ctx context.Context, tenantID, orderID string) (*clearance.Record, error)
	Pause(ctx context.Context, tenantID, orderID, complaintID string) (*clearance.Record, error)
	Resume(ctx context.Context, tenantID, orderID string) (*clearance.Record, error)
	Cancel(ctx context.Context, tenantID, orderID, reason string) (*clearance.Record, error)
	Flag(ctx context.Context, tenantID, orderID, complaintID string) (*clearance.Record, error)
	Unflag(ctx context.Context, tenantID, orderID string) (*clearance.Record, error)
	BlockedTotal(ctx context.Context, tenantID string) (money.Cents, error)
}

// Debts records refund debts for later offsetting.
type Debts interface {
	CreateDeduction(ctx context.Context, tenantID, cookID, orderID string, amount money.Cents, reason, source string) (*deduction.Deduction, error)
}

// Wallet is the ledger surface used to decide and execute clawbacks.
type Wallet interface {
	CreditEntryForOrder(ctx context.Context, tenantID, orderID string) (*ledger.Entry, error)
	HasWithdrawalSince(ctx context.Context, tenantID, cookID string, since time.Time) (bool, error)
	PayFromWallet(ctx context.Context, tenantID, cookID, reference string, amount money.Cents) (*ledger.Entry, error)
}

// Service implements the payment block gate.
type Service struct {
	store      Store
	clearances Clearances
	debts      Debts
	wallet     Wallet
	logger     *slog.Logger
}

// NewService creates a new block gate.
func NewService(store Store, clearances Clearances, debts Debts, wallet Wallet, logger *slog.Logger) *Service {
	return &Service{store: store, clearances: clearances, debts: debts, wallet: wallet, logger: logger}
}

// FiledEvent is the complaint-filed notification from the complaint
// subsystem.
type FiledEvent struct {
	ComplaintID string    `json:"complaintId" binding:"required"`
	TenantID    string    `json:"tenantId" binding:"required"`
	CookID      string    `json:"cookId" binding:"required"`
	OrderID     string    `json:"orderId" binding:"required"`
	FiledAt     time.Time `json:"filedAt"`
}

// ResolvedEvent is the complaint-resolved notification. RefundAmount is
// optional; when zero on a full refund or suspension, the full clearance
// amount is assumed.
type ResolvedEvent struct {
	ComplaintID  string      `json:"complaintId" binding:"required"`
	Resolution   Resolution  `json:"resolution" binding:"required"`
	RefundAmount money.Cents `json:"refundAmount"`
}

// OnComplaintFiled blocks the order's payout. No live clearance record
// means the order was never credited: nothing to block. A record already
// blocked by another complaint is left untouched (single active block
// per order).
func (s *Service) OnComplaintFiled(ctx context.Context, ev FiledEvent) error {
	if ev.FiledAt.IsZero() {
		ev.FiledAt = time.Now()
	}

	if existing, err := s.store.Get(ctx, ev.ComplaintID); err == nil {
		s.logger.Debug("complaint already recorded", "complaint", existing.ID)
		return nil
	} else if !errors.Is(err, ErrComplaintNotFound) {
		return err
	}

	if err := s.store.Create(ctx, &Complaint{
		ID:       ev.ComplaintID,
		TenantID: ev.TenantID,
		CookID:   ev.CookID,
		OrderID:  ev.OrderID,
		Status:   ComplaintOpen,
		FiledAt:  ev.FiledAt,
	}); err != nil {
		return fmt.Errorf("record complaint: %w", err)
	}

	r, err := s.clearances.GetByOrder(ctx, ev.TenantID, ev.OrderID)
	if errors.Is(err, clearance.ErrRecordNotFound) {
		complaintEventsTotal.WithLabelValues("filed", "no_clearance").Inc()
		s.logger.Info("complaint on order without clearance",
			"complaint", ev.ComplaintID, "order", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case r.Blocked():
		complaintEventsTotal.WithLabelValues("filed", "already_blocked").Inc()
		s.logger.Info("order already blocked by another complaint",
			"complaint", ev.ComplaintID, "order", ev.OrderID, "blocking_complaint", r.ComplaintID)
		return nil
	case r.Cleared:
		// Funds already left the hold state; they can only be flagged.
		_, err = s.clearances.Flag(ctx, ev.TenantID, ev.OrderID, ev.ComplaintID)
		complaintEventsTotal.WithLabelValues("filed", "flagged").Inc()
	default:
		_, err = s.clearances.Pause(ctx, ev.TenantID, ev.OrderID, ev.ComplaintID)
		complaintEventsTotal.WithLabelValues("filed", "paused").Inc()
	}
	return err
}

// OnComplaintResolved unblocks or claws back, depending on the
// resolution. Resume only happens when every complaint on the order is
// closed; a second open complaint keeps the block in place.
func (s *Service) OnComplaintResolved(ctx context.Context, ev ResolvedEvent) error {
	if !validResolution(ev.Resolution) {
		return fmt.Errorf("%w: %q", ErrUnknownResolution, ev.Resolution)
	}

	cmp, err := s.store.Get(ctx, ev.ComplaintID)
	if err != nil {
		return err
	}
	if cmp.Status == ComplaintResolved {
		s.logger.Debug("complaint already resolved", "complaint", cmp.ID)
		return nil
	}

	now := time.Now()
	cmp.Status = ComplaintResolved
	cmp.Resolution = ev.Resolution
	cmp.RefundAmount = ev.RefundAmount
	cmp.ResolvedAt = &now
	if err := s.store.Update(ctx, cmp); err != nil {
		return fmt.Errorf("update complaint: %w", err)
	}

	r, err := s.clearances.GetByOrder(ctx, cmp.TenantID, cmp.OrderID)
	if errors.Is(err, clearance.ErrRecordNotFound) {
		complaintEventsTotal.WithLabelValues("resolved", "no_clearance").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	refund := s.refundAmount(ev, r)
	if ev.Resolution.Monetary() && refund > 0 {
		return s.clawBack(ctx, cmp, r, refund)
	}
	return s.unblock(ctx, cmp, r)
}

// refundAmount resolves the money to recover. A full refund or a
// suspension without an explicit amount recovers the whole clearance; a
// partial refund recovers exactly what the event names.
func (s *Service) refundAmount(ev ResolvedEvent, r *clearance.Record) money.Cents {
	if ev.RefundAmount > 0 {
		return ev.RefundAmount
	}
	if ev.Resolution == ResolutionFullRefund || ev.Resolution == ResolutionSuspend {
		return r.Amount
	}
	return 0
}

func (s *Service) unblock(ctx context.Context, cmp *Complaint, r *clearance.Record) error {
	open, err := s.store.CountOpenByOrder(ctx, cmp.TenantID, cmp.OrderID)
	if err != nil {
		return err
	}
	if open > 0 {
		complaintEventsTotal.WithLabelValues("resolved", "still_blocked").Inc()
		s.logger.Info("order keeps block, other complaints open",
			"complaint", cmp.ID, "order", cmp.OrderID, "open", open)
		return nil
	}

	switch {
	case r.Flagged:
		_, err = s.clearances.Unflag(ctx, cmp.TenantID, cmp.OrderID)
		complaintEventsTotal.WithLabelValues("resolved", "unflagged").Inc()
	case r.Paused:
		_, err = s.clearances.Resume(ctx, cmp.TenantID, cmp.OrderID)
		complaintEventsTotal.WithLabelValues("resolved", "resumed").Inc()
	default:
		complaintEventsTotal.WithLabelValues("resolved", "noop").Inc()
	}
	return err
}

// clawBack recovers a refund from the cook. A clearance still holding is
// cancelled outright: the money never becomes withdrawable. A cleared
// one is recovered from the wallet, or through the debt queue when the
// cook already withdrew funds after the original credit.
func (s *Service) clawBack(ctx context.Context, cmp *Complaint, r *clearance.Record, refund money.Cents) error {
	reason := fmt.Sprintf("complaint %s resolved: %s", cmp.ID, cmp.Resolution)

	if !r.Cleared {
		_, err := s.clearances.Cancel(ctx, cmp.TenantID, cmp.OrderID, reason)
		if err != nil {
			return fmt.Errorf("cancel clearance for refund: %w", err)
		}
		complaintEventsTotal.WithLabelValues("resolved", "cancelled").Inc()
		return nil
	}

	if r.Flagged {
		if _, err := s.clearances.Unflag(ctx, cmp.TenantID, cmp.OrderID); err != nil {
			return err
		}
	}

	credit, err := s.wallet.CreditEntryForOrder(ctx, cmp.TenantID, cmp.OrderID)
	if err != nil {
		return fmt.Errorf("locate credit for order %s: %w", cmp.OrderID, err)
	}

	withdrew, err := s.wallet.HasWithdrawalSince(ctx, cmp.TenantID, cmp.CookID, credit.CreatedAt)
	if err != nil {
		return err
	}
	if withdrew {
		// The payout already left the platform; queue a debt that will
		// offset the cook's future credits.
		if _, err := s.debts.CreateDeduction(ctx, cmp.TenantID, cmp.CookID, cmp.OrderID, refund, reason, "complaint"); err != nil {
			return err
		}
		complaintEventsTotal.WithLabelValues("resolved", "deduction_created").Inc()
		s.logger.Info("refund debt queued",
			"complaint", cmp.ID, "order", cmp.OrderID, "amount", refund.String())
		return nil
	}

	// Funds are still in the wallet: debit them directly.
	_, err = s.wallet.PayFromWallet(ctx, cmp.TenantID, cmp.CookID, cmp.ID, refund)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		// Balance drained between checks; fall back to the debt queue.
		if _, derr := s.debts.CreateDeduction(ctx, cmp.TenantID, cmp.CookID, cmp.OrderID, refund, reason, "complaint"); derr != nil {
			return derr
		}
		complaintEventsTotal.WithLabelValues("resolved", "deduction_created").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("debit refund from wallet: %w", err)
	}
	complaintEventsTotal.WithLabelValues("resolved", "wallet_debited").Inc()
	s.logger.Info("refund recovered from wallet",
		"complaint", cmp.ID, "order", cmp.OrderID, "amount", refund.String())
	return nil
}

// BlockedTotal returns the tenant's blocked-or-flagged amount.
func (s *Service) BlockedTotal(ctx context.Context, tenantID string) (money.Cents, error) {
	return s.clearances.BlockedTotal(ctx, tenantID)
}

// BlockingRecord returns the clearance record blocking an order, if any.
func (s *Service) BlockingRecord(ctx context.Context, tenantID, orderID string) (*clearance.Record, error) {
	r, err := s.clearances.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if !r.Blocked() {
		return nil, clearance.ErrRecordNotFound
	}
	return r, nil
}
