package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// InboundVerifier checks a webhook body against its signature header.
type InboundVerifier interface {
	VerifyInbound(payload []byte, headerSignature string) bool
}

// handleWebhook processes an asynchronous payment notification. The
// signature must verify before any state change; on failure the remote
// caller learns nothing beyond a generic 400.
func handleWebhook(verifier InboundVerifier, engine Reconciler, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable payload")
			return
		}

		if !verifier.VerifyInbound(body, r.Header.Get("X-Signature")) {
			logger.Printf("[Webhook] signature verification failed")
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		orderID := fieldString(payload, "orderId")
		status := fieldString(payload, "status")
		if orderID == "" || status == "" {
			writeError(w, http.StatusBadRequest, "missing orderId or status")
			return
		}

		if err := engine.Apply(r.Context(), orderID, status); err != nil {
			logger.Printf("[Webhook] apply %s for order %s failed: %v", status, orderID, err)
			// Unknown references are permanent; everything else gets a 5xx
			// so the processor redelivers.
			if errors.Is(err, postgres.ErrTransactionNotFound) || errors.Is(err, orders.ErrOrderNotFound) {
				writeError(w, http.StatusBadRequest, "unknown order reference")
				return
			}
			writeError(w, http.StatusInternalServerError, "notification could not be processed")
			return
		}

		writeSuccess(w, nil)
	}
}

// fieldString reads a payload field that may arrive as a JSON string or
// number (order ids are numeric upstream).
func fieldString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
