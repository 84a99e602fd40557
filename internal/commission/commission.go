// Package commission turns a completed order into ledger credits: the
// platform's cut and the cook's net, offset against any outstanding
// debts before the wallet balance increases.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dishpay/dishpay/internal/clearance"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/metrics"
	"github.com/dishpay/dishpay/internal/money"
)

var ErrInvalidOrder = errors.New("invalid order event")

// OrderCompletedEvent is the trigger from the order subsystem.
type OrderCompletedEvent struct {
	OrderID     string      `json:"orderId" binding:"required"`
	TenantID    string      `json:"tenantId" binding:"required"`
	CookID      string      `json:"cookId" binding:"required"`
	Subtotal    money.Cents `json:"subtotal"`
	DeliveryFee money.Cents `json:"deliveryFee"`
	CompletedAt time.Time   `json:"completedAt"`
}

// Split is the outcome of crediting one completed order.
type Split struct {
	OrderID        string      `json:"orderId"`
	CommissionRate int         `json:"commissionRate"`
	Commission     money.Cents `json:"commission"`
	CookNet        money.Cents `json:"cookNet"`
	Deducted       money.Cents `json:"deducted"`
	Credited       money.Cents `json:"credited"`
	CreditEntryID  string      `json:"creditEntryId"`
	ClearanceID    string      `json:"clearanceId,omitempty"`
	Duplicate      bool        `json:"duplicate,omitempty"`
}

// Rates resolves the commission percentage charged on a cook's orders.
type Rates interface {
	CommissionPercent(ctx context.Context, tenantID, cookID string) (int, error)
}

// Debts offsets credits against the outstanding debt queue.
type Debts interface {
	ApplyDeductions(ctx context.Context, tenantID, cookID string, payment money.Cents, sourceOrderID string) (deducted, remainder money.Cents, err error)
}

// Wallet is the ledger surface the splitter writes to.
type Wallet interface {
	WithWalletLock(tenantID, cookID string, fn func() error) error
	Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)
	CreditEntryForOrder(ctx context.Context, tenantID, orderID string) (*ledger.Entry, error)
}

// Holds opens the clearance hold for a credited order.
type Holds interface {
	Create(ctx context.Context, tenantID, cookID, orderID string, amount money.Cents, creditEntryID string, completedAt time.Time) (*clearance.Record, error)
}

// Service implements the commission splitter.
type Service struct {
	rates  Rates
	debts  Debts
	wallet Wallet
	holds  Holds
	logger *slog.Logger
}

// NewService creates a new commission splitter.
func NewService(rates Rates, debts Debts, wallet Wallet, holds Holds, logger *slog.Logger) *Service {
	return &Service{rates: rates, debts: debts, wallet: wallet, holds: holds, logger: logger}
}

// OnOrderCompleted splits a completed order's money and credits the cook.
//
// The commission rate is looked up at completion time, never at order
// creation. Rounding always favors the cook: the commission is floored,
// never rounded up, and the delivery fee is never commissioned. The
// cook's net is offset against outstanding debts before it touches the
// wallet, and the clearance hold is sized to the post-deduction net.
//
// The order status transition guards against double processing; this
// method keeps a backstop by refusing to credit an order that already
// has a payment credit entry.
func (s *Service) OnOrderCompleted(ctx context.Context, ev OrderCompletedEvent) (*Split, error) {
	if ev.OrderID == "" || ev.TenantID == "" || ev.CookID == "" {
		return nil, fmt.Errorf("%w: missing ids", ErrInvalidOrder)
	}
	if ev.Subtotal < 0 || ev.DeliveryFee < 0 {
		return nil, fmt.Errorf("%w: negative amounts", ErrInvalidOrder)
	}
	if ev.CompletedAt.IsZero() {
		ev.CompletedAt = time.Now()
	}

	rate, err := s.rates.CommissionPercent(ctx, ev.TenantID, ev.CookID)
	if err != nil {
		return nil, fmt.Errorf("resolve commission rate: %w", err)
	}

	commission := money.Commission(ev.Subtotal, rate)
	cookNet := ev.Subtotal - commission + ev.DeliveryFee

	split := &Split{
		OrderID:        ev.OrderID,
		CommissionRate: rate,
		Commission:     commission,
		CookNet:        cookNet,
	}

	err = s.wallet.WithWalletLock(ev.TenantID, ev.CookID, func() error {
		if existing, err := s.wallet.CreditEntryForOrder(ctx, ev.TenantID, ev.OrderID); err == nil {
			split.Duplicate = true
			split.CreditEntryID = existing.ID
			split.Credited = existing.Amount
			return nil
		} else if !errors.Is(err, ledger.ErrEntryNotFound) {
			return err
		}

		deducted, remainder, err := s.debts.ApplyDeductions(ctx, ev.TenantID, ev.CookID, cookNet, ev.OrderID)
		if err != nil {
			return fmt.Errorf("apply deductions: %w", err)
		}
		split.Deducted = deducted
		split.Credited = remainder

		// The credit entry is written even when debts consumed everything:
		// a zero-amount credit anchors order-level idempotency.
		credit, err := s.wallet.Append(ctx, &ledger.Entry{
			TenantID: ev.TenantID,
			CookID:   ev.CookID,
			OrderID:  ev.OrderID,
			Kind:     ledger.KindPaymentCredit,
			Amount:   remainder,
			Meta: map[string]string{
				"subtotal":       ev.Subtotal.String(),
				"deliveryFee":    ev.DeliveryFee.String(),
				"commissionRate": fmt.Sprintf("%d", rate),
				"deducted":       deducted.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("credit cook: %w", err)
		}
		split.CreditEntryID = credit.ID

		// A zero commission entry is still written: every order carries a
		// visible commission record.
		if _, err := s.wallet.Append(ctx, &ledger.Entry{
			TenantID: ev.TenantID,
			CookID:   ev.CookID,
			OrderID:  ev.OrderID,
			Kind:     ledger.KindCommission,
			Amount:   commission,
			Meta:     map[string]string{"commissionRate": fmt.Sprintf("%d", rate)},
		}); err != nil {
			return fmt.Errorf("record commission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The hold is ensured even on the duplicate path: a retry after a
	// transient clearance failure must still end with a record to mature
	// the credit, or the funds stay unwithdrawable forever. Create
	// returns the live record when one already exists.
	if split.Credited > 0 {
		hold, err := s.holds.Create(ctx, ev.TenantID, ev.CookID, ev.OrderID, split.Credited, split.CreditEntryID, ev.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("open clearance hold: %w", err)
		}
		split.ClearanceID = hold.ID
	}

	if split.Duplicate {
		s.logger.Info("order already credited, skipping",
			"order", ev.OrderID, "tenant", ev.TenantID, "entry", split.CreditEntryID)
		return split, nil
	}

	metrics.OrdersCreditedTotal.Inc()
	s.logger.Info("order credited",
		"order", ev.OrderID, "tenant", ev.TenantID, "cook", ev.CookID,
		"rate", rate, "commission", commission.String(),
		"deducted", split.Deducted.String(), "credited", split.Credited.String())
	return split, nil
}
