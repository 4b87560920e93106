package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mvpay/bml-connect/internal/config"
	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

// Reconciler is the slice of the reconciliation engine the handlers need.
type Reconciler interface {
	Apply(ctx context.Context, orderID, remoteStatus string) error
	CancelPending(ctx context.Context, orderID string) error
	Refresh(ctx context.Context, transactionID string) (*postgres.Transaction, error)
}

// TransactionReader serves the admin visibility endpoints.
type TransactionReader interface {
	FindByOrder(ctx context.Context, orderID string) (*postgres.Transaction, error)
	List(ctx context.Context, filter postgres.ListFilter) ([]postgres.Transaction, int, error)
}

// requireAdmin rejects requests without the configured admin token. No
// anonymous access to any admin surface.
func requireAdmin(cfg config.AdminConfig, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token == "" || r.Header.Get("X-Admin-Token") != cfg.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleAdminNonce issues a short-lived nonce for state-changing admin
// actions.
func handleAdminNonce(cfg config.AdminConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeSuccess(w, map[string]string{"nonce": CreateNonce(cfg.Token, cfg.NonceTTL)})
	}
}

// handleRefreshStatus re-runs the status-check path for one transaction and
// returns its updated state. Nonce-protected on top of the admin token.
func handleRefreshStatus(cfg config.AdminConfig, engine Reconciler, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			TransactionID string `json:"transactionId"`
			Nonce         string `json:"nonce"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionID == "" {
			writeError(w, http.StatusBadRequest, "transactionId is required")
			return
		}
		if !VerifyNonce(cfg.Token, req.Nonce) {
			writeError(w, http.StatusForbidden, "invalid or expired nonce")
			return
		}

		txn, err := engine.Refresh(r.Context(), req.TransactionID)
		if err != nil {
			if errors.Is(err, postgres.ErrTransactionNotFound) {
				writeError(w, http.StatusNotFound, "transaction not found")
				return
			}
			logger.Printf("[Admin] refresh %s failed: %v", req.TransactionID, err)
			writeError(w, http.StatusBadGateway, "status check failed")
			return
		}

		writeSuccess(w, transactionJSON(txn))
	}
}

// handleTransactionsReport pages through the ledger with date-range and
// status filters.
func handleTransactionsReport(txns TransactionReader, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		q := r.URL.Query()
		now := time.Now()

		start := now.AddDate(0, 0, -30)
		if raw := q.Get("start_date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
				return
			}
			start = parsed
		}
		end := now
		if raw := q.Get("end_date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
				return
			}
			// Inclusive end date.
			end = parsed.AddDate(0, 0, 1)
		}

		filter := postgres.ListFilter{
			Start:  start,
			End:    end,
			Status: postgres.Status(strings.ToUpper(q.Get("status"))),
		}
		if page, err := strconv.Atoi(q.Get("page")); err == nil {
			filter.Page = page
		}
		if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
			filter.PerPage = perPage
		}

		list, total, err := txns.List(r.Context(), filter)
		if err != nil {
			logger.Printf("[Admin] transactions report failed: %v", err)
			writeError(w, http.StatusInternalServerError, "report query failed")
			return
		}

		rows := make([]map[string]any, 0, len(list))
		for i := range list {
			rows = append(rows, transactionJSON(&list[i]))
		}
		writeSuccess(w, map[string]any{"total": total, "transactions": rows})
	}
}

// handleOrderRoutes serves /api/orders/{id}/transaction and
// /api/orders/{id}/cancel.
func handleOrderRoutes(txns TransactionReader, orderSvc orders.Service, engine Reconciler, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/orders/")

		if orderID, ok := strings.CutSuffix(path, "/transaction"); ok && r.Method == http.MethodGet {
			txn, err := txns.FindByOrder(r.Context(), orderID)
			if err != nil {
				if errors.Is(err, postgres.ErrTransactionNotFound) {
					writeError(w, http.StatusNotFound, "no transaction found for this order")
					return
				}
				logger.Printf("[Admin] transaction lookup for order %s failed: %v", orderID, err)
				writeError(w, http.StatusInternalServerError, "lookup failed")
				return
			}
			writeSuccess(w, transactionJSON(txn))
			return
		}

		if orderID, ok := strings.CutSuffix(path, "/cancel"); ok && r.Method == http.MethodPost {
			if err := orderSvc.MarkCancelled(r.Context(), orderID); err != nil {
				logger.Printf("[Admin] cancel order %s failed: %v", orderID, err)
				writeError(w, http.StatusInternalServerError, "cancel failed")
				return
			}
			if err := engine.CancelPending(r.Context(), orderID); err != nil {
				logger.Printf("[Admin] cancel reconciliation for order %s failed: %v", orderID, err)
				writeError(w, http.StatusInternalServerError, "cancel failed")
				return
			}
			writeSuccess(w, map[string]string{"orderId": orderID, "status": string(orders.StatusCancelled)})
			return
		}

		writeError(w, http.StatusNotFound, "not found")
	}
}

func transactionJSON(txn *postgres.Transaction) map[string]any {
	return map[string]any{
		"orderId":       txn.OrderID,
		"transactionId": txn.TransactionID,
		"amount":        txn.Amount,
		"currency":      txn.Currency,
		"status":        string(txn.Status),
		"createdAt":     txn.CreatedAt.UTC().Format(time.RFC3339),
	}
}
