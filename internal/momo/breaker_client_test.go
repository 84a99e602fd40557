package momo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishpay/dishpay/internal/circuitbreaker"
)

func TestBreakerOpensAfterGatewayOutage(t *testing.T) {
	inner := &MockClient{
		InitiateFunc: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
			return nil, ErrTimeout
		},
	}
	c := NewBreakerClient(inner, circuitbreaker.New(3, time.Minute))

	req := TransferRequest{Amount: 1000, Destination: Destination{Provider: "mpesa"}, Reference: "wdr_1"}
	for i := 0; i < 3; i++ {
		_, err := c.InitiateTransfer(context.Background(), req)
		assert.ErrorIs(t, err, ErrTimeout)
	}

	// Circuit tripped: the gateway is no longer called.
	calls := len(inner.InitiateCalls())
	_, err := c.InitiateTransfer(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, inner.InitiateCalls(), calls)
}

func TestBreakerIsPerProvider(t *testing.T) {
	inner := &MockClient{
		InitiateFunc: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
			if req.Destination.Provider == "mpesa" {
				return nil, ErrTimeout
			}
			return &TransferResult{ExternalID: req.Reference + "-ext"}, nil
		},
	}
	c := NewBreakerClient(inner, circuitbreaker.New(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, _ = c.InitiateTransfer(context.Background(), TransferRequest{Destination: Destination{Provider: "mpesa"}})
	}
	_, err := c.InitiateTransfer(context.Background(), TransferRequest{Destination: Destination{Provider: "mpesa"}})
	assert.ErrorIs(t, err, ErrUnavailable)

	res, err := c.InitiateTransfer(context.Background(), TransferRequest{Destination: Destination{Provider: "airtel"}, Reference: "wdr_2"})
	require.NoError(t, err)
	assert.Equal(t, "wdr_2-ext", res.ExternalID)
}

func TestBusinessRejectionsDoNotTrip(t *testing.T) {
	inner := &MockClient{
		InitiateFunc: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
			return nil, &GatewayError{StatusCode: 422, Code: "insufficient_float"}
		},
	}
	c := NewBreakerClient(inner, circuitbreaker.New(2, time.Minute))

	req := TransferRequest{Destination: Destination{Provider: "mpesa"}}
	for i := 0; i < 5; i++ {
		var gerr *GatewayError
		_, err := c.InitiateTransfer(context.Background(), req)
		assert.ErrorAs(t, err, &gerr)
	}
	assert.Len(t, inner.InitiateCalls(), 5)
}
