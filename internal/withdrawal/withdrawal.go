// Package withdrawal moves cook earnings out of the platform.
//
// Flow:
//  1. The gate validates a request against balance, minimum and daily
//     limit, and reserves the funds with a withdrawal ledger entry
//  2. The executor claims the request and calls the mobile-money gateway
//     with a stable idempotency key
//  3. Success completes the request; a timeout parks it for verification;
//     a definitive failure restores the reserved funds and escalates to a
//     manual payout task
//
// The reservation happens under the wallet lock before the external call;
// the call itself always runs unlocked.
package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/dishpay/dishpay/internal/momo"
	"github.com/dishpay/dishpay/internal/money"
)

var (
	ErrRequestNotFound    = errors.New("withdrawal request not found")
	ErrBelowMinimum       = errors.New("amount below minimum withdrawal")
	ErrNotWholeUnit       = errors.New("amount must be a whole currency unit")
	ErrInsufficientFunds  = errors.New("insufficient withdrawable balance")
	ErrDailyLimitExceeded = errors.New("daily withdrawal limit exceeded")
	ErrStatusConflict     = errors.New("withdrawal status changed concurrently")
)

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusPendingVerification means the gateway call timed out: the
	// money may still arrive, so the reservation is kept until a
	// verification poll resolves the outcome.
	StatusPendingVerification Status = "pending_verification"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CountsTowardDailyLimit reports whether a request in this status
// consumes daily-limit headroom. Failed requests release their amount
// back into the day's budget.
func (s Status) CountsTowardDailyLimit() bool {
	return s != StatusFailed
}

// Request is one payout attempt. Amount is always a whole currency unit.
type Request struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenantId"`
	CookID         string           `json:"cookId"`
	Amount         money.Cents      `json:"amount"`
	Destination    momo.Destination `json:"destination"`
	IdempotencyKey string           `json:"-"`
	// LedgerEntryID is the withdrawal entry that reserved the funds.
	LedgerEntryID string      `json:"ledgerEntryId"`
	ExternalID    string      `json:"externalId,omitempty"`
	RawResponse   string      `json:"-"`
	Status        Status      `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

// externalRef is the id used to poll the gateway: the gateway's own id
// once known, otherwise our transfer reference.
func (r *Request) externalRef() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	return r.ID
}

// ManualPayoutTask is the escalation record for a failed transfer. It is
// resolved by a human operator, never auto-retried.
type ManualPayoutTask struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenantId"`
	CookID      string           `json:"cookId"`
	RequestID   string           `json:"requestId"`
	Amount      money.Cents      `json:"amount"`
	Destination momo.Destination `json:"destination"`
	Reason      string           `json:"reason"`
	RawResponse string           `json:"rawResponse,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	ResolvedAt  *time.Time       `json:"resolvedAt,omitempty"`
}

// Store persists withdrawal requests and escalation tasks.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	// CASStatus transitions a request from one status to another only if
	// it is still in the expected status, returning ErrStatusConflict
	// otherwise. This is the claim that keeps overlapping sweeps from
	// double-executing a transfer.
	CASStatus(ctx context.Context, id string, from, to Status) (*Request, error)
	// ListByStatus returns requests in the status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Request, error)
	// SumForWindow totals request amounts created inside [from, to) that
	// still count toward the daily limit.
	SumForWindow(ctx context.Context, tenantID, cookID string, from, to time.Time) (money.Cents, error)

	CreateTask(ctx context.Context, t *ManualPayoutTask) error
	ListOpenTasks(ctx context.Context, tenantID string, limit int) ([]*ManualPayoutTask, error)
}
