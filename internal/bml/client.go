// Package bml is the HTTP client for the BML Connect merchant API.
package bml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/mvpay/bml-connect/internal/signature"
)

// Merchant API base URLs, selected by the test-mode flag.
const (
	testBaseURL = "https://api.uat.merchants.bankofmaldives.com.mv/public"
	liveBaseURL = "https://api.merchants.bankofmaldives.com.mv/public"
)

const requestTimeout = 30 * time.Second

// APIError is a non-success response from the merchant API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bml api error (HTTP %d): %s", e.StatusCode, e.Message)
}

// TransportError wraps a network-level failure reaching the merchant API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bml %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config carries the merchant credentials and environment selection.
type Config struct {
	MerchantID string
	APIKey     string
	TestMode   bool
	// BaseURL overrides the environment-selected endpoint. Tests only.
	BaseURL string
}

// Session is the remote side of a created payment session.
type Session struct {
	TransactionID string  `json:"transactionId"`
	PaymentURL    string  `json:"paymentUrl"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// Status is the remote transaction state as reported by the status endpoint.
type Status struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// Client talks to the BML Connect merchant API. It performs no retries;
// retry policy belongs to the reconciliation sweep.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
	now    func() time.Time
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	if c.cfg.TestMode {
		return testBaseURL
	}
	return liveBaseURL
}

// CreateSession initializes a payment session for the given request fields
// (amount, currency, orderId, language, redirect/cancel/notification URLs).
// Merchant id, timestamp, and signature are injected here.
func (c *Client) CreateSession(ctx context.Context, fields map[string]string) (*Session, error) {
	signed := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		signed[k] = v
	}
	signed["merchantId"] = c.cfg.MerchantID
	signed["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	signed["signature"] = signature.Sign(signed, c.cfg.APIKey)

	var session Session
	if err := c.post(ctx, "/payment/initialize", signed, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CheckStatus queries the current remote state of one transaction.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (*Status, error) {
	signed := map[string]string{
		"merchantId":    c.cfg.MerchantID,
		"transactionId": transactionID,
		"timestamp":     strconv.FormatInt(c.now().Unix(), 10),
	}
	signed["signature"] = signature.Sign(signed, c.cfg.APIKey)

	var status Status
	if err := c.post(ctx, "/payment/status", signed, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelSession asks the processor to cancel a pending session. Cancellation
// is advisory: the endpoint is not guaranteed by every processor deployment,
// any 2xx counts as success, and the response body is ignored.
func (c *Client) CancelSession(ctx context.Context, transactionID string) error {
	signed := map[string]string{
		"merchantId":    c.cfg.MerchantID,
		"transactionId": transactionID,
		"timestamp":     strconv.FormatInt(c.now().Unix(), 10),
	}
	signed["signature"] = signature.Sign(signed, c.cfg.APIKey)

	return c.post(ctx, "/payment/cancel", signed, nil)
}

// VerifyInbound checks a webhook body against its X-Signature header value.
func (c *Client) VerifyInbound(payload []byte, headerSignature string) bool {
	if headerSignature == "" {
		return false
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false
	}
	fields := signature.CanonicalFields(decoded)
	return signature.Verify(fields, headerSignature, c.cfg.APIKey)
}

func (c *Client) post(ctx context.Context, path string, body map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Op: "encode " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: "build " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("[BML] %s transport error: %v", path, err)
		return &TransportError{Op: "post " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "unknown API error"}
		var remote struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&remote); err == nil && remote.Message != "" {
			apiErr.Message = remote.Message
		}
		c.logger.Printf("[BML] %s failed: %v", path, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Printf("[BML] %s returned malformed JSON: %v", path, err)
		return &APIError{StatusCode: resp.StatusCode, Message: "invalid JSON response from API"}
	}
	return nil
}
