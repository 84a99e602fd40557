// Package momo is the client boundary to the external mobile-money
// transfer gateway.
//
// The gateway contract is narrow: initiate a transfer with a stable
// idempotency key, and verify a previously initiated transfer by its
// external id. A call that times out is not a failure: the money may
// still arrive, so the caller parks the withdrawal for verification
// instead of compensating.
package momo

import (
	"context"
	"errors"
	"fmt"

	"github.com/dishpay/dishpay/internal/money"
)

// ErrTimeout means the gateway gave no definitive answer within the call
// deadline. The transfer may or may not have executed.
var ErrTimeout = errors.New("transfer gateway timeout")

// ErrUnavailable means the call never reached the gateway (circuit
// open). The transfer definitively did not execute; the caller should
// retry later rather than compensate.
var ErrUnavailable = errors.New("transfer gateway unavailable")

// GatewayError is a definitive rejection from the gateway.
type GatewayError struct {
	StatusCode  int
	Code        string
	RawResponse string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway rejected transfer: %s (http %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("gateway rejected transfer: http %d", e.StatusCode)
}

// Destination is a mobile-money account.
type Destination struct {
	Msisdn   string `json:"msisdn"`
	Provider string `json:"provider"`
}

// TransferRequest initiates one outbound payout.
type TransferRequest struct {
	Amount money.Cents
	// Currency is an ISO code, normally money.Currency.
	Currency    string
	Destination Destination
	// Reference is our stable external transfer reference.
	Reference string
	// IdempotencyKey makes retried submissions execute at most once
	// gateway-side.
	IdempotencyKey string
}

// TransferResult is a definitive gateway acceptance.
type TransferResult struct {
	ExternalID  string
	RawResponse string
}

// VerifyStatus is the gateway-side state of an initiated transfer.
type VerifyStatus string

const (
	VerifySuccessful VerifyStatus = "successful"
	VerifyFailed     VerifyStatus = "failed"
	VerifyPending    VerifyStatus = "pending"
)

// VerifyResult is the outcome of a verification poll.
type VerifyResult struct {
	Status      VerifyStatus
	RawResponse string
}

// Client talks to the transfer gateway. InitiateTransfer returns
// ErrTimeout when no definitive answer arrived, a *GatewayError on
// rejection, or the result on acceptance. VerifyTransfer is safe to call
// repeatedly.
type Client interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	VerifyTransfer(ctx context.Context, externalID string) (*VerifyResult, error)
}
