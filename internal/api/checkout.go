package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/mvpay/bml-connect/internal/gateway"
	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
	"github.com/mvpay/bml-connect/internal/validation"
)

// handleCheckout starts a payment session and returns the processor redirect.
// Validation problems are surfaced to the payer; transport and API failures
// become a generic message with full detail in the log.
func handleCheckout(gw *gateway.Gateway, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			OrderID string `json:"orderId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
			writeError(w, http.StatusBadRequest, "orderId is required")
			return
		}

		result, err := gw.ProcessPayment(r.Context(), req.OrderID)
		if err != nil {
			var verr *validation.Error
			switch {
			case errors.As(err, &verr):
				writeError(w, http.StatusBadRequest, verr.Error())
			case errors.Is(err, orders.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			case errors.Is(err, postgres.ErrDuplicateTransaction):
				writeError(w, http.StatusConflict, "a payment session already exists for this order")
			case errors.Is(err, gateway.ErrDisabled):
				writeError(w, http.StatusServiceUnavailable, "payment method is not available")
			default:
				logger.Printf("[Checkout] payment error for order %s: %v", req.OrderID, err)
				writeError(w, http.StatusBadGateway, "unable to process payment, please try again")
			}
			return
		}

		writeSuccess(w, map[string]any{
			"result":        "success",
			"redirect":      result.Redirect,
			"transactionId": result.TransactionID,
		})
	}
}
