package bml

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvpay/bml-connect/internal/signature"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		MerchantID: "M-001",
		APIKey:     "secret",
		TestMode:   true,
		BaseURL:    srv.URL,
	}, log.New(io.Discard, "", 0))
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c, srv
}

func TestCreateSession(t *testing.T) {
	var received map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/initialize", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transactionId": "T1",
			"paymentUrl":    "https://pay.example/T1",
			"amount":        100.00,
			"currency":      "MVR",
		})
	}))

	session, err := c.CreateSession(context.Background(), map[string]string{
		"amount":   "100.00",
		"currency": "MVR",
		"orderId":  "42",
	})

	require.NoError(t, err)
	assert.Equal(t, "T1", session.TransactionID)
	assert.Equal(t, "https://pay.example/T1", session.PaymentURL)
	assert.Equal(t, 100.00, session.Amount)

	assert.Equal(t, "M-001", received["merchantId"])
	assert.Equal(t, "1700000000", received["timestamp"])
	assert.True(t, signature.Verify(received, received["signature"], "secret"))
}

func TestCreateSessionSurfacesRemoteMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "merchant not active"})
	}))

	_, err := c.CreateSession(context.Background(), map[string]string{"amount": "10"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "merchant not active", apiErr.Message)
}

func TestCreateSessionMalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))

	_, err := c.CreateSession(context.Background(), map[string]string{"amount": "10"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
}

func TestCheckStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/status", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "T1", body["transactionId"])
		assert.True(t, signature.Verify(body, body["signature"], "secret"))

		_ = json.NewEncoder(w).Encode(map[string]string{"transactionId": "T1", "status": "SUCCESS"})
	}))

	status, err := c.CheckStatus(context.Background(), "T1")

	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", status.Status)
}

func TestCheckStatusTransportError(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := c.CheckStatus(context.Background(), "T1")

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
}

func TestCancelSessionBestEffort(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/cancel", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	assert.NoError(t, c.CancelSession(context.Background(), "T1"))
}

func TestCancelSessionAcceptsAny2xx(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, c.CancelSession(context.Background(), "T1"))
}

func TestVerifyInbound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	payload := map[string]any{"orderId": 42, "status": "SUCCESS", "transactionId": "T1"}
	sig := signature.Sign(map[string]string{
		"orderId":       "42",
		"status":        "SUCCESS",
		"transactionId": "T1",
	}, "secret")

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	assert.True(t, c.VerifyInbound(body, sig))
	assert.False(t, c.VerifyInbound(body, "bogus"))
	assert.False(t, c.VerifyInbound(body, ""))
	assert.False(t, c.VerifyInbound([]byte("not json"), sig))

	tampered, _ := json.Marshal(map[string]any{"orderId": 42, "status": "FAILED", "transactionId": "T1"})
	assert.False(t, c.VerifyInbound(tampered, sig))
}

func TestEnvironmentSelection(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	test := NewClient(Config{TestMode: true}, logger)
	assert.Equal(t, testBaseURL, test.baseURL())

	live := NewClient(Config{TestMode: false}, logger)
	assert.Equal(t, liveBaseURL, live.baseURL())
}
