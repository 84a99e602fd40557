package momo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitiateTransferSuccess(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transfers", r.URL.Path)
		gotKey = r.Header.Get("Idempotence-Key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ext_123","status":"accepted"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", "secret", 5*time.Second, discardLogger())
	result, err := c.InitiateTransfer(context.Background(), TransferRequest{
		Amount:         20000,
		Currency:       "KES",
		Destination:    Destination{Msisdn: "254700000001", Provider: "mpesa"},
		Reference:      "wdr_abc",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ext_123", result.ExternalID)
	assert.Equal(t, "idem-1", gotKey)
	assert.NotEmpty(t, gotAuth)
}

func TestInitiateTransferRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":"insufficient_float"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", "secret", 5*time.Second, discardLogger())
	_, err := c.InitiateTransfer(context.Background(), TransferRequest{Reference: "wdr_abc"})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
	assert.Equal(t, "insufficient_float", gwErr.Code)
	assert.Contains(t, gwErr.RawResponse, "insufficient_float")
}

func TestInitiateTransferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"id":"ext_123"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", "secret", 20*time.Millisecond, discardLogger())
	_, err := c.InitiateTransfer(context.Background(), TransferRequest{Reference: "wdr_abc"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestVerifyTransferStatusMapping(t *testing.T) {
	cases := []struct {
		body string
		want VerifyStatus
	}{
		{`{"id":"ext_1","status":"successful"}`, VerifySuccessful},
		{`{"id":"ext_1","status":"completed"}`, VerifySuccessful},
		{`{"id":"ext_1","status":"failed"}`, VerifyFailed},
		{`{"id":"ext_1","status":"rejected"}`, VerifyFailed},
		{`{"id":"ext_1","status":"processing"}`, VerifyPending},
	}

	for _, tc := range cases {
		body := tc.body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/transfers/ext_1", r.URL.Path)
			w.Write([]byte(body))
		}))

		c := NewHTTPClient(srv.URL, "key", "secret", 5*time.Second, discardLogger())
		result, err := c.VerifyTransfer(context.Background(), "ext_1")
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Status, "body %s", body)
		srv.Close()
	}
}
