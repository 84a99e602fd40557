// Package deduction implements the FIFO debt queue for refunds issued
// after a payout was already withdrawn.
//
// Flow:
//  1. A refund lands on an order whose payout already left the platform
//  2. The refund flow records a debt (PendingDeduction) for the cook
//  3. Every future credit is offset against outstanding debts, oldest
//     first, before the cook's wallet balance increases
//
// The offset happens strictly before the credit reaches the wallet, so a
// cook can never hold withdrawable funds while still owing the platform
// from the same debt.
package deduction

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
)

var (
	ErrDeductionNotFound = errors.New("deduction not found")
	ErrAlreadySettled    = errors.New("deduction already settled")
)

// Deduction is one debt row. Remaining decreases monotonically to zero;
// once zero, SettledAt is set and the row is immutable history.
type Deduction struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	CookID    string      `json:"cookId"`
	OrderID   string      `json:"orderId"`
	Original  money.Cents `json:"original"`
	Remaining money.Cents `json:"remaining"`
	Reason    string      `json:"reason"`
	Source    string      `json:"source"`
	SettledAt *time.Time  `json:"settledAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Settled reports whether the debt is fully recovered.
func (d *Deduction) Settled() bool {
	return d.Remaining == 0
}

// Store persists deduction rows.
type Store interface {
	Create(ctx context.Context, d *Deduction) error
	Get(ctx context.Context, id string) (*Deduction, error)
	Update(ctx context.Context, d *Deduction) error
	// ListOutstanding returns unsettled debts for the pair ordered
	// oldest-first. Creation order defines FIFO priority.
	ListOutstanding(ctx context.Context, tenantID, cookID string) ([]*Deduction, error)
	OutstandingTotal(ctx context.Context, tenantID, cookID string) (money.Cents, error)
}

// EntryAppender records deduction events in the wallet ledger.
type EntryAppender interface {
	Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)
}

// Service implements debt-queue business logic.
type Service struct {
	store  Store
	ledger EntryAppender
	logger *slog.Logger
}

// NewService creates a new deduction service.
func NewService(store Store, ledger EntryAppender, logger *slog.Logger) *Service {
	return &Service{store: store, ledger: ledger, logger: logger}
}

// CreateDeduction inserts a new debt row. Zero and negative amounts are
// never recorded; the call is a silent no-op returning nil.
func (s *Service) CreateDeduction(ctx context.Context, tenantID, cookID, orderID string, amount money.Cents, reason, source string) (*Deduction, error) {
	if amount <= 0 {
		return nil, nil
	}

	d := &Deduction{
		ID:        idgen.WithPrefix("ded_"),
		TenantID:  tenantID,
		CookID:    cookID,
		OrderID:   orderID,
		Original:  amount,
		Remaining: amount,
		Reason:    reason,
		Source:    source,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create deduction: %w", err)
	}

	s.logger.Info("deduction created",
		"deduction", d.ID, "tenant", tenantID, "cook", cookID,
		"order", orderID, "amount", amount.String(), "reason", reason)
	return d, nil
}

// ApplyDeductions offsets a payment against outstanding debts for the
// pair, oldest first. It returns the total deducted and the payment left
// over, which is what actually becomes the cook's credit.
//
// Caller must hold the wallet lock for the pair; that lock serializes
// concurrent credit events, so FIFO order here is creation order, not
// arrival order.
func (s *Service) ApplyDeductions(ctx context.Context, tenantID, cookID string, payment money.Cents, sourceOrderID string) (deducted, remainder money.Cents, err error) {
	if payment <= 0 {
		return 0, money.ClampZero(payment), nil
	}

	debts, err := s.store.ListOutstanding(ctx, tenantID, cookID)
	if err != nil {
		return 0, 0, fmt.Errorf("list outstanding deductions: %w", err)
	}

	remainder = payment
	for _, debt := range debts {
		if remainder == 0 {
			break
		}

		take := money.Min(remainder, debt.Remaining)
		debt.Remaining -= take
		if debt.Remaining == 0 {
			now := time.Now()
			debt.SettledAt = &now
		}
		if err := s.store.Update(ctx, debt); err != nil {
			return deducted, remainder, fmt.Errorf("update deduction %s: %w", debt.ID, err)
		}

		// Transparency record: the amount withheld from this credit.
		if _, err := s.ledger.Append(ctx, &ledger.Entry{
			TenantID:   tenantID,
			CookID:     cookID,
			OrderID:    sourceOrderID,
			SourceTxID: debt.ID,
			Kind:       ledger.KindRefundDeduction,
			Amount:     take,
			Meta: map[string]string{
				"debtOrderId": debt.OrderID,
				"reason":      debt.Reason,
			},
		}); err != nil {
			return deducted, remainder, fmt.Errorf("record deduction entry: %w", err)
		}

		deducted += take
		remainder -= take

		s.logger.Info("deduction applied",
			"deduction", debt.ID, "tenant", tenantID, "cook", cookID,
			"taken", take.String(), "debt_remaining", debt.Remaining.String(),
			"settled", debt.Settled())
	}

	if deducted > 0 {
		metrics.DeductionsSettledCents.Add(float64(deducted))
	}
	return deducted, remainder, nil
}

// OutstandingTotal returns the total debt still owed by the pair.
func (s *Service) OutstandingTotal(ctx context.Context, tenantID, cookID string) (money.Cents, error) {
	return s.store.OutstandingTotal(ctx, tenantID, cookID)
}
