package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dishpay/dishpay/internal/idgen"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/metrics"
	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
)

// Wallet is the ledger surface the gate reserves against.
type Wallet interface {
	WithWalletLock(tenantID, cookID string, fn func() error) error
	GetBalance(ctx context.Context, tenantID, cookID string) (*ledger.Balance, error)
	Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)
	Reverse(ctx context.Context, entryID, reason string) (*ledger.Entry, error)
}

// Blocks exposes complaint-blocked amounts that reduce what a cook may
// withdraw.
type Blocks interface {
	BlockedTotalForCook(ctx context.Context, tenantID, cookID string) (money.Cents, error)
}

// Limits resolves the tenant's withdrawal constraints.
type Limits interface {
	MinWithdrawal(ctx context.Context, tenantID string) (money.Cents, error)
	DailyLimit(ctx context.Context, tenantID string) (money.Cents, error)
}

// Gate validates and reserves withdrawal requests.
type Gate struct {
	store  Store
	wallet Wallet
	blocks Blocks
	limits Limits
	// loc is the platform's fixed operating timezone. The daily limit
	// window is midnight-to-midnight in this zone, never UTC or server
	// local time, so limit resets stay stable across deployment regions.
	loc    *time.Location
	logger *slog.Logger
}

// NewGate creates a new withdrawal gate.
func NewGate(store Store, wallet Wallet, blocks Blocks, limits Limits, loc *time.Location, logger *slog.Logger) *Gate {
	return &Gate{store: store, wallet: wallet, blocks: blocks, limits: limits, loc: loc, logger: logger}
}

// dayWindow returns the [midnight, next midnight) window containing now
// in the operating timezone.
func (g *Gate) dayWindow(now time.Time) (time.Time, time.Time) {
	local := now.In(g.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	return start, start.Add(24 * time.Hour)
}

// AvailableToWithdraw returns what the cook could request right now:
// the withdrawable balance minus complaint-blocked funds, capped by the
// remaining daily-limit headroom, never negative.
func (g *Gate) AvailableToWithdraw(ctx context.Context, tenantID, cookID string) (money.Cents, error) {
	bal, err := g.wallet.GetBalance(ctx, tenantID, cookID)
	if err != nil {
		return 0, err
	}
	blocked, err := g.blocks.BlockedTotalForCook(ctx, tenantID, cookID)
	if err != nil {
		return 0, err
	}

	limit, err := g.limits.DailyLimit(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	from, to := g.dayWindow(time.Now())
	today, err := g.store.SumForWindow(ctx, tenantID, cookID, from, to)
	if err != nil {
		return 0, err
	}

	avail := money.Min(bal.Withdrawable-blocked, limit-today)
	return money.ClampZero(avail), nil
}

// Submit validates the request and atomically reserves the funds: the
// withdrawable balance drops before the external transfer even runs.
// Any check failure returns a typed rejection without mutating state.
func (g *Gate) Submit(ctx context.Context, tenantID, cookID string, amount money.Cents, dest momo.Destination) (*Request, error) {
	min, err := g.limits.MinWithdrawal(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if amount < min {
		metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, min)
	}
	if !amount.IsWholeShillings() {
		metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotWholeUnit, amount)
	}

	limit, err := g.limits.DailyLimit(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var req *Request
	err = g.wallet.WithWalletLock(tenantID, cookID, func() error {
		bal, err := g.wallet.GetBalance(ctx, tenantID, cookID)
		if err != nil {
			return err
		}
		blocked, err := g.blocks.BlockedTotalForCook(ctx, tenantID, cookID)
		if err != nil {
			return err
		}
		if amount > bal.Withdrawable-blocked {
			return fmt.Errorf("%w: requested %s, available %s",
				ErrInsufficientFunds, amount, money.ClampZero(bal.Withdrawable-blocked))
		}

		from, to := g.dayWindow(time.Now())
		today, err := g.store.SumForWindow(ctx, tenantID, cookID, from, to)
		if err != nil {
			return err
		}
		if today+amount > limit {
			return fmt.Errorf("%w: %s already requested today, limit %s",
				ErrDailyLimitExceeded, today, limit)
		}

		// Optimistic reservation: the withdrawal entry debits the balance
		// now; a failed transfer reverses it later.
		entry, err := g.wallet.Append(ctx, &ledger.Entry{
			TenantID: tenantID,
			CookID:   cookID,
			Kind:     ledger.KindWithdrawal,
			Amount:   amount,
			Meta:     map[string]string{"msisdn": dest.Msisdn, "provider": dest.Provider},
		})
		if err != nil {
			return err
		}

		now := time.Now()
		req = &Request{
			ID:             idgen.WithPrefix("wdr_"),
			TenantID:       tenantID,
			CookID:         cookID,
			Amount:         amount,
			Destination:    dest,
			IdempotencyKey: uuid.New().String(),
			LedgerEntryID:  entry.ID,
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := g.store.CreateRequest(ctx, req); err != nil {
			// No request row means no executor will ever touch this
			// reservation; release it before surfacing the error.
			if _, rerr := g.wallet.Reverse(ctx, entry.ID, "withdrawal request not persisted"); rerr != nil {
				return fmt.Errorf("create withdrawal request: %v (release reservation: %w)", err, rerr)
			}
			return fmt.Errorf("create withdrawal request: %w", err)
		}
		return nil
	})
	if err != nil {
		if req == nil {
			metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("submitted").Inc()
	g.logger.Info("withdrawal submitted",
		"request", req.ID, "tenant", tenantID, "cook", cookID,
		"amount", amount.String(), "msisdn", dest.Msisdn)
	return req, nil
}

// Get returns one request.
func (g *Gate) Get(ctx context.Context, id string) (*Request, error) {
	return g.store.GetRequest(ctx, id)
}

// OpenTasks returns unresolved manual payout escalations for a tenant.
func (g *Gate) OpenTasks(ctx context.Context, tenantID string, limit int) ([]*ManualPayoutTask, error) {
	if limit <= 0 {
		limit = 50
	}
	return g.store.ListOpenTasks(ctx, tenantID, limit)
}
