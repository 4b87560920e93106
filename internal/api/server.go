// Package api is the HTTP surface of the gateway service: the checkout
// endpoint, the processor webhook, and the admin visibility actions.
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mvpay/bml-connect/internal/config"
	"github.com/mvpay/bml-connect/internal/gateway"
	"github.com/mvpay/bml-connect/internal/orders"
)

// Deps carries the collaborators the HTTP surface delegates to.
type Deps struct {
	Gateway  *gateway.Gateway
	Verifier InboundVerifier
	Engine   Reconciler
	Txns     TransactionReader
	Orders   orders.Service
	Logger   *log.Logger
}

// NewServer assembles the mux and wraps it in a server with bounded
// timeouts.
func NewServer(cfg config.Config, deps Deps) *http.Server {
	mux := http.NewServeMux()
	admin := cfg.Admin

	mount := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, otelhttp.NewHandler(instrument(name, h), name))
	}

	mount("/api/checkout", "checkout", handleCheckout(deps.Gateway, deps.Logger))
	mount("/webhooks/bml-connect", "bml-webhook", handleWebhook(deps.Verifier, deps.Engine, deps.Logger))

	mount("/api/admin/nonce", "admin-nonce", requireAdmin(admin, handleAdminNonce(admin)))
	mount("/api/admin/transactions/refresh", "admin-refresh",
		requireAdmin(admin, handleRefreshStatus(admin, deps.Engine, deps.Logger)))
	mount("/api/admin/transactions", "admin-report",
		requireAdmin(admin, handleTransactionsReport(deps.Txns, deps.Logger)))
	mount("/api/admin/settings", "admin-settings", requireAdmin(admin, handleSettings(deps.Gateway)))
	mount("/api/orders/", "orders",
		requireAdmin(admin, handleOrderRoutes(deps.Txns, deps.Orders, deps.Engine, deps.Logger)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// handleSettings exposes the gateway's option descriptors and non-secret
// current values for the host platform's settings surface.
func handleSettings(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		cfg := gw.Config()
		writeSuccess(w, map[string]any{
			"fields": gateway.SettingsFields(),
			"values": map[string]any{
				"enabled":     cfg.Enabled,
				"testmode":    cfg.TestMode,
				"title":       cfg.Title,
				"description": cfg.Description,
				"merchant_id": cfg.MerchantID,
				// api_key is write-only
			},
		})
	}
}
