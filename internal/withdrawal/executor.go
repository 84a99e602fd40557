package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dishpay/dishpay/internal/idgen"
	"github.com/dishpay/dishpay/internal/ledger"
	"github.com/dishpay/dishpay/internal/metrics"
	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
	"github.com/dishpay/dishpay/internal/notify"
)

// Executor runs the external transfer for reserved withdrawal requests.
type Executor struct {
	store    Store
	wallet   Wallet
	gateway  momo.Client
	notifier notify.Notifier
	// timeout bounds each gateway call. The wallet lock is never held
	// across this window.
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates a new transfer executor.
func NewExecutor(store Store, wallet Wallet, gateway momo.Client, notifier notify.Notifier, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{store: store, wallet: wallet, gateway: gateway, notifier: notifier, timeout: timeout, logger: logger}
}

// Process executes the transfer for one pending request. A request in
// any other status is returned untouched: duplicate processing attempts
// are a logged no-op, never an error, and the external call runs at
// most once per claim.
func (e *Executor) Process(ctx context.Context, requestID string) (*Request, error) {
	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		e.logger.Info("skipping withdrawal, not pending", "request", r.ID, "status", r.Status)
		return r, nil
	}

	// Claim the request. Losing the race means another worker owns it.
	r, err = e.store.CASStatus(ctx, requestID, StatusPending, StatusProcessing)
	if errors.Is(err, ErrStatusConflict) {
		fresh, ferr := e.store.GetRequest(ctx, requestID)
		if ferr != nil {
			return nil, ferr
		}
		e.logger.Info("withdrawal claimed elsewhere", "request", requestID, "status", fresh.Status)
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.gateway.InitiateTransfer(callCtx, momo.TransferRequest{
		Amount:         r.Amount,
		Currency:       money.Currency,
		Destination:    r.Destination,
		Reference:      r.ID,
		IdempotencyKey: r.IdempotencyKey,
	})

	switch {
	case err == nil:
		metrics.TransferCallsTotal.WithLabelValues("success").Inc()
		return e.complete(ctx, r, result.ExternalID, result.RawResponse)

	case errors.Is(err, momo.ErrUnavailable):
		// The call never reached the gateway. Release the claim so the
		// next sweep retries once the provider recovers.
		metrics.TransferCallsTotal.WithLabelValues("unavailable").Inc()
		if r, err = e.store.CASStatus(ctx, r.ID, StatusProcessing, StatusPending); err != nil {
			return nil, err
		}
		e.logger.Warn("gateway unavailable, withdrawal requeued", "request", r.ID)
		return r, nil

	case errors.Is(err, momo.ErrTimeout):
		// No definitive answer: the money may still arrive. Keep the
		// reservation and park for verification.
		metrics.TransferCallsTotal.WithLabelValues("timeout").Inc()
		r.Status = StatusPendingVerification
		r.UpdatedAt = time.Now()
		if uerr := e.store.UpdateRequest(ctx, r); uerr != nil {
			return nil, uerr
		}
		metrics.WithdrawalsTotal.WithLabelValues("pending_verification").Inc()
		e.logger.Warn("transfer timed out, awaiting verification", "request", r.ID)
		return r, nil

	default:
		metrics.TransferCallsTotal.WithLabelValues("error").Inc()
		raw := ""
		var gwErr *momo.GatewayError
		if errors.As(err, &gwErr) {
			raw = gwErr.RawResponse
		}
		return e.fail(ctx, r, err.Error(), raw)
	}
}

// Verify polls the gateway for a parked request. Safe to call
// repeatedly: a request that is not awaiting verification is returned
// untouched, and a still-pending gateway answer changes nothing.
func (e *Executor) Verify(ctx context.Context, requestID string) (*Request, error) {
	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPendingVerification {
		return r, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.gateway.VerifyTransfer(callCtx, r.externalRef())
	if err != nil {
		e.logger.Warn("verification poll failed", "request", r.ID, "error", err)
		return r, nil
	}

	switch result.Status {
	case momo.VerifySuccessful:
		return e.complete(ctx, r, r.ExternalID, result.RawResponse)
	case momo.VerifyFailed:
		return e.fail(ctx, r, "transfer failed on verification", result.RawResponse)
	default:
		e.logger.Info("transfer still pending at gateway", "request", r.ID)
		return r, nil
	}
}

// ProcessAllPending executes every pending request, oldest first. Each
// item is re-fetched inside Process, so overlapping sweeps cannot
// double-execute.
func (e *Executor) ProcessAllPending(ctx context.Context) (int, error) {
	pending, err := e.store.ListByStatus(ctx, StatusPending, 100)
	if err != nil {
		return 0, fmt.Errorf("list pending withdrawals: %w", err)
	}

	processed := 0
	for _, r := range pending {
		if _, err := e.Process(ctx, r.ID); err != nil {
			e.logger.Warn("withdrawal processing failed", "request", r.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// VerifyAllPending polls every parked request, oldest first.
func (e *Executor) VerifyAllPending(ctx context.Context) (int, error) {
	parked, err := e.store.ListByStatus(ctx, StatusPendingVerification, 100)
	if err != nil {
		return 0, fmt.Errorf("list withdrawals pending verification: %w", err)
	}

	verified := 0
	for _, r := range parked {
		if _, err := e.Verify(ctx, r.ID); err != nil {
			e.logger.Warn("withdrawal verification failed", "request", r.ID, "error", err)
			continue
		}
		verified++
	}
	return verified, nil
}

func (e *Executor) complete(ctx context.Context, r *Request, externalID, raw string) (*Request, error) {
	now := time.Now()
	r.Status = StatusCompleted
	r.ExternalID = externalID
	r.RawResponse = raw
	r.CompletedAt = &now
	r.UpdatedAt = now
	if err := e.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	e.logger.Info("withdrawal completed",
		"request", r.ID, "amount", r.Amount.String(), "external_id", externalID)
	e.notifier.WithdrawalSucceeded(r.TenantID, r.CookID, r.Amount, externalID)
	return r, nil
}

// fail restores the reserved funds, escalates to a manual payout task
// and only then marks the request failed. The reversal of the
// withdrawal entry is the restoration; the extra reversal-kind entry is
// the audit record of the compensation. The terminal flip comes last:
// an error anywhere before it parks the request for verification so
// the sweep re-drives the failure handling instead of leaving a Failed
// request with funds still reserved.
func (e *Executor) fail(ctx context.Context, r *Request, reason, raw string) (*Request, error) {
	err := e.wallet.WithWalletLock(r.TenantID, r.CookID, func() error {
		if _, err := e.wallet.Reverse(ctx, r.LedgerEntryID, "transfer failed: "+reason); err != nil {
			if errors.Is(err, ledger.ErrAlreadyReversed) {
				// An earlier attempt already compensated.
				return nil
			}
			return err
		}
		_, err := e.wallet.Append(ctx, &ledger.Entry{
			TenantID:   r.TenantID,
			CookID:     r.CookID,
			SourceTxID: r.LedgerEntryID,
			Kind:       ledger.KindClearanceReversal,
			Amount:     r.Amount,
			Meta:       map[string]string{"reason": "transfer failed", "requestId": r.ID},
		})
		return err
	})
	if err != nil {
		return nil, e.parkForRetry(ctx, r, fmt.Errorf("restore reserved funds for %s: %w", r.ID, err))
	}

	now := time.Now()
	task := &ManualPayoutTask{
		ID:          idgen.WithPrefix("task_"),
		TenantID:    r.TenantID,
		CookID:      r.CookID,
		RequestID:   r.ID,
		Amount:      r.Amount,
		Destination: r.Destination,
		Reason:      reason,
		RawResponse: raw,
		CreatedAt:   now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, e.parkForRetry(ctx, r, fmt.Errorf("create manual payout task for %s: %w", r.ID, err))
	}

	r.Status = StatusFailed
	r.FailureReason = reason
	r.RawResponse = raw
	r.UpdatedAt = now
	if err := e.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	metrics.ManualPayoutTasksTotal.Inc()
	e.logger.Error("withdrawal failed, funds restored",
		"request", r.ID, "amount", r.Amount.String(), "reason", reason, "task", task.ID)
	e.notifier.WithdrawalFailed(r.TenantID, r.CookID, r.Amount, reason)
	e.notifier.OpsEscalation(r.TenantID, r.CookID, r.Amount,
		fmt.Sprintf("manual payout needed for request %s: %s", r.ID, reason))
	return r, nil
}

// parkForRetry moves a request whose failure handling broke midway to
// pending_verification. The verification sweep will see the transfer
// failed at the gateway and call fail again; compensation and task
// creation are idempotent, so the retry finishes what this pass could
// not.
func (e *Executor) parkForRetry(ctx context.Context, r *Request, cause error) error {
	if r.Status != StatusPendingVerification {
		r.Status = StatusPendingVerification
		r.UpdatedAt = time.Now()
		if uerr := e.store.UpdateRequest(ctx, r); uerr != nil {
			return fmt.Errorf("%w (park for retry: %v)", cause, uerr)
		}
	}
	e.logger.Warn("withdrawal failure handling incomplete, parked for retry",
		"request", r.ID, "error", cause)
	return cause
}
