package momo

import (
	"context"
	"errors"

	"github.com/dishpay/dishpay/internal/circuitbreaker"
)

// BreakerClient wraps a Client with a per-provider circuit breaker.
// When a provider's circuit is open, InitiateTransfer returns
// ErrUnavailable without touching the gateway, so a flapping provider
// can't drag every pending withdrawal into failure compensation.
type BreakerClient struct {
	inner   Client
	breaker *circuitbreaker.Breaker
}

// NewBreakerClient wraps the given client.
func NewBreakerClient(inner Client, breaker *circuitbreaker.Breaker) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: breaker}
}

func (c *BreakerClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	key := req.Destination.Provider

	if !c.breaker.Allow(key) {
		return nil, ErrUnavailable
	}

	res, err := c.inner.InitiateTransfer(ctx, req)
	if err == nil {
		c.breaker.RecordSuccess(key)
		return res, nil
	}

	// Timeouts and gateway-side errors count against the circuit.
	// Definitive business rejections (4xx) do not: the gateway is
	// healthy, it just said no to this transfer.
	var gerr *GatewayError
	switch {
	case errors.Is(err, ErrTimeout):
		c.breaker.RecordFailure(key)
	case errors.As(err, &gerr) && gerr.StatusCode >= 500:
		c.breaker.RecordFailure(key)
	case errors.As(err, &gerr):
		c.breaker.RecordSuccess(key)
	default:
		c.breaker.RecordFailure(key)
	}
	return nil, err
}

// VerifyTransfer polls are read-only and cheap; they bypass the breaker.
func (c *BreakerClient) VerifyTransfer(ctx context.Context, externalID string) (*VerifyResult, error) {
	return c.inner.VerifyTransfer(ctx, externalID)
}

// Compile-time assertion that BreakerClient implements Client.
var _ Client = (*BreakerClient)(nil)
