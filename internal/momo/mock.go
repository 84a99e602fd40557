package momo

import (
	"context"
	"sync"
)

// MockClient is a scriptable gateway for tests and demo mode. The zero
// value accepts every transfer.
type MockClient struct {
	mu sync.Mutex

	// InitiateFunc, when set, overrides the default accept behavior.
	InitiateFunc func(ctx context.Context, req TransferRequest) (*TransferResult, error)
	// VerifyFunc, when set, overrides the default successful answer.
	VerifyFunc func(ctx context.Context, externalID string) (*VerifyResult, error)

	initiateCalls []TransferRequest
	verifyCalls   []string
}

func (m *MockClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	m.initiateCalls = append(m.initiateCalls, req)
	fn := m.InitiateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &TransferResult{
		ExternalID:  req.Reference + "-ext",
		RawResponse: `{"status":"accepted"}`,
	}, nil
}

func (m *MockClient) VerifyTransfer(ctx context.Context, externalID string) (*VerifyResult, error) {
	m.mu.Lock()
	m.verifyCalls = append(m.verifyCalls, externalID)
	fn := m.VerifyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, externalID)
	}
	return &VerifyResult{Status: VerifySuccessful, RawResponse: `{"status":"successful"}`}, nil
}

// InitiateCalls returns a copy of every initiate request seen.
func (m *MockClient) InitiateCalls() []TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransferRequest, len(m.initiateCalls))
	copy(out, m.initiateCalls)
	return out
}

// VerifyCalls returns a copy of every verified external id.
func (m *MockClient) VerifyCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.verifyCalls))
	copy(out, m.verifyCalls)
	return out
}

// Compile-time assertion that MockClient implements Client.
var _ Client = (*MockClient)(nil)
