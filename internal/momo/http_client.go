package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dishpay/dishpay/internal/retry"
)

// HTTPClient is the production gateway client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a gateway client. The timeout bounds every call;
// exceeding it surfaces as ErrTimeout, never as an open-ended hang.
func NewHTTPClient(baseURL, apiKey, secret string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type transferPayload struct {
	Amount      amountPayload `json:"amount"`
	Destination Destination   `json:"destination"`
	Reference   string        `json:"reference"`
}

type amountPayload struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code"`
}

func (c *HTTPClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	payload, err := json.Marshal(transferPayload{
		Amount: amountPayload{
			Value:    req.Amount.String(),
			Currency: req.Currency,
		},
		Destination: req.Destination,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.SetBasicAuth(c.apiKey, c.secret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("transfer call timed out", "reference", req.Reference)
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("transfer call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transfer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var tr transferResponse
		_ = json.Unmarshal(raw, &tr)
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: tr.Code, RawResponse: string(raw)}
	}

	var tr transferResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	if tr.ID == "" {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: "missing_external_id", RawResponse: string(raw)}
	}

	c.logger.Info("transfer initiated",
		"reference", req.Reference, "external_id", tr.ID, "status", tr.Status)
	return &TransferResult{ExternalID: tr.ID, RawResponse: string(raw)}, nil
}

// VerifyTransfer polls the gateway for a transfer's status. The poll is
// read-only, so transient transport failures are retried within the
// call deadline; definitive gateway answers are not.
func (c *HTTPClient) VerifyTransfer(ctx context.Context, externalID string) (*VerifyResult, error) {
	var raw []byte
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transfers/"+externalID, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build verify request: %w", err))
		}
		httpReq.SetBasicAuth(c.apiKey, c.secret)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if isTimeout(err) {
				return retry.Permanent(ErrTimeout)
			}
			return fmt.Errorf("verify call: %w", err)
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read verify response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return &GatewayError{StatusCode: resp.StatusCode, RawResponse: string(raw)}
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(&GatewayError{StatusCode: resp.StatusCode, RawResponse: string(raw)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tr transferResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	result := &VerifyResult{RawResponse: string(raw)}
	switch tr.Status {
	case "successful", "completed":
		result.Status = VerifySuccessful
	case "failed", "rejected", "cancelled":
		result.Status = VerifyFailed
	default:
		result.Status = VerifyPending
	}
	return result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Compile-time assertion that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
