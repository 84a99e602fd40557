package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishpay/dishpay/internal/config"
	"github.com/dishpay/dishpay/internal/momo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                      "0",
		Env:                       "development",
		LogLevel:                  "error",
		LogFormat:                 "text",
		CommissionPercent:         15,
		HoldHours:                 48,
		MinWithdrawal:             1000,
		DailyLimit:                50000,
		OperatingTZ:               "Africa/Nairobi",
		GatewayTimeout:            5 * time.Second,
		ClearanceSweepInterval:    time.Minute,
		TransferSweepInterval:     time.Minute,
		VerificationSweepInterval: time.Minute,
	}
}

// newTestServer creates an in-memory server with a mock gateway
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithGateway(&momo.MockClient{}))
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run() marks it so
	w = doJSON(t, s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOrderCompletionToBalance(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/internal/orders/completed", gin.H{
		"orderId":     "o1",
		"tenantId":    "t1",
		"cookId":      "c1",
		"subtotal":    100000,
		"deliveryFee": 20000,
		"completedAt": time.Now().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Resubmitting the same order is a no-op
	w = doJSON(t, s, http.MethodPost, "/v1/internal/orders/completed", gin.H{
		"orderId":     "o1",
		"tenantId":    "t1",
		"cookId":      "c1",
		"subtotal":    100000,
		"deliveryFee": 20000,
		"completedAt": time.Now().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/tenants/t1/cooks/c1/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balance struct {
			Total          int64 `json:"total"`
			Withdrawable   int64 `json:"withdrawable"`
			Unwithdrawable int64 `json:"unwithdrawable"`
		} `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// 15% of 1000.00 = 150.00 commission, net 850.00 + 200.00 delivery fee
	assert.Equal(t, int64(105000), resp.Balance.Total)
	assert.Equal(t, int64(0), resp.Balance.Withdrawable)
	assert.Equal(t, int64(105000), resp.Balance.Unwithdrawable)
}

func TestComplaintBlocksClearance(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/internal/orders/completed", gin.H{
		"orderId":     "o1",
		"tenantId":    "t1",
		"cookId":      "c1",
		"subtotal":    50000,
		"completedAt": time.Now().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, "/v1/internal/complaints/filed", gin.H{
		"complaintId": "cmp_1",
		"tenantId":    "t1",
		"cookId":      "c1",
		"orderId":     "o1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/v1/tenants/t1/orders/o1/clearance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Clearance struct {
			Paused      bool   `json:"paused"`
			ComplaintID string `json:"complaintId"`
		} `json:"clearance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Clearance.Paused)
	assert.Equal(t, "cmp_1", resp.Clearance.ComplaintID)
}

func TestWithdrawalRejectionsOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// No funds at all: below-minimum check fires first
	w := doJSON(t, s, http.MethodPost, "/v1/tenants/t1/cooks/c1/withdrawals", gin.H{
		"amount":   50000,
		"msisdn":   "254712345678",
		"provider": "mpesa",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Malformed msisdn is rejected before any business check
	w = doJSON(t, s, http.MethodPost, "/v1/tenants/t1/cooks/c1/withdrawals", gin.H{
		"amount":   100000,
		"msisdn":   "12345",
		"provider": "mpesa",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown provider
	w = doJSON(t, s, http.MethodPost, "/v1/tenants/t1/cooks/c1/withdrawals", gin.H{
		"amount":   100000,
		"msisdn":   "254712345678",
		"provider": "hawala",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedIDParamRejected(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/v1/tenants/bad%3Bid/cooks/c1/balance", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/v1/tenants/t1/settings", gin.H{
		"commissionPercent": 10,
		"holdHours":         24,
		"minWithdrawal":     50000,
		"dailyLimit":        2000000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/v1/tenants/t1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Settings struct {
			CommissionPercent int `json:"commissionPercent"`
			HoldHours         int `json:"holdHours"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Settings.CommissionPercent)
	assert.Equal(t, 24, resp.Settings.HoldHours)

	// An untouched tenant still sees platform defaults
	w = doJSON(t, s, http.MethodGet, "/v1/tenants/t2/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 15, resp.Settings.CommissionPercent)
}

func TestSweepTriggerEndpoints(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/v1/internal/sweeps/clearance",
		"/v1/internal/sweeps/transfers",
		"/v1/internal/sweeps/verification",
	} {
		w := doJSON(t, s, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, fmt.Sprintf("%s: %s", path, w.Body.String()))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dishpay_")
}
