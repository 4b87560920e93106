// Package gateway adapts the host commerce platform's payment-gateway
// contract (accept configuration, process a payment, describe settings) onto
// the BML client, validator, and transaction ledger. Composition, not
// inheritance: the platform talks to this adapter, the adapter delegates.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mvpay/bml-connect/internal/bml"
	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
	"github.com/mvpay/bml-connect/internal/validation"
)

// ErrDisabled is returned when checkout is attempted while the gateway is
// switched off in configuration.
var ErrDisabled = errors.New("bml connect gateway is disabled")

// Config is the recognized settings surface of the gateway.
type Config struct {
	Enabled     bool
	TestMode    bool
	Title       string
	Description string
	MerchantID  string
	APIKey      string

	// URLs handed to the processor at session creation.
	ReturnURL       string
	CancelURL       string
	NotificationURL string
}

// SettingsField describes one admin-configurable option for the host
// platform's settings surface. Rendering is the host's concern.
type SettingsField struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     string `json:"default"`
}

// SettingsFields returns the gateway's option descriptors.
func SettingsFields() []SettingsField {
	return []SettingsField{
		{Key: "enabled", Title: "Enable/Disable", Type: "checkbox", Description: "Enable BML Connect", Default: "no"},
		{Key: "testmode", Title: "Test Mode", Type: "checkbox", Description: "Place the payment gateway in test mode.", Default: "yes"},
		{Key: "title", Title: "Title", Type: "text", Description: "Payment method title shown at checkout.", Default: "Bank of Maldives"},
		{Key: "description", Title: "Description", Type: "textarea", Description: "Payment method description shown at checkout.", Default: "Pay securely using your Bank of Maldives card."},
		{Key: "merchant_id", Title: "Merchant ID", Type: "text", Description: "Your BML Connect Merchant ID.", Default: ""},
		{Key: "api_key", Title: "API Key", Type: "password", Description: "Your BML Connect API Key.", Default: ""},
	}
}

// SessionCreator is the slice of the BML client the adapter needs. Cancel is
// used to void a session that lost a concurrent-checkout race.
type SessionCreator interface {
	CreateSession(ctx context.Context, fields map[string]string) (*bml.Session, error)
	CancelSession(ctx context.Context, transactionID string) error
}

// TransactionLedger records created sessions and serves the existing one back
// when a checkout is retried.
type TransactionLedger interface {
	Insert(ctx context.Context, txn postgres.Transaction) error
	FindByOrder(ctx context.Context, orderID string) (*postgres.Transaction, error)
}

// CheckoutResult is what the platform needs to continue checkout.
type CheckoutResult struct {
	TransactionID string `json:"transactionId"`
	Redirect      string `json:"redirect"`
}

// Gateway is the configured payment method instance. Constructed once at
// process start and passed explicitly to its callers.
type Gateway struct {
	cfg    Config
	client SessionCreator
	txns   TransactionLedger
	orders orders.Service
	logger *log.Logger
	now    func() time.Time
}

func New(cfg Config, client SessionCreator, txns TransactionLedger, orderSvc orders.Service, logger *log.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: client,
		txns:   txns,
		orders: orderSvc,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the adapter's active configuration.
func (g *Gateway) Config() Config { return g.cfg }

// ProcessPayment initiates payment for an order: validate, create the remote
// session, record a PENDING transaction, and hand back the redirect URL.
// A retried checkout for an order with a live PENDING session gets that
// session's redirect back instead of a second remote session.
func (g *Gateway) ProcessPayment(ctx context.Context, orderID string) (*CheckoutResult, error) {
	if !g.cfg.Enabled {
		return nil, ErrDisabled
	}

	if existing, err := g.txns.FindByOrder(ctx, orderID); err == nil {
		return g.resume(existing)
	} else if !errors.Is(err, postgres.ErrTransactionNotFound) {
		return nil, err
	}

	order, err := g.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	req, err := validation.Validate(map[string]any{
		"amount":         fmt.Sprintf("%.2f", order.Total),
		"currency":       order.Currency,
		"orderReference": order.ID,
	})
	if err != nil {
		return nil, err
	}

	session, err := g.client.CreateSession(ctx, map[string]string{
		"amount":          fmt.Sprintf("%.2f", req.Amount),
		"currency":        req.Currency,
		"orderId":         req.OrderReference,
		"language":        "EN",
		"redirectUrl":     g.cfg.ReturnURL,
		"cancelUrl":       g.cfg.CancelURL,
		"notificationUrl": g.cfg.NotificationURL,
	})
	if err != nil {
		g.logger.Printf("[Gateway] session creation for order %s failed: %v", orderID, err)
		return nil, err
	}

	txn := postgres.Transaction{
		OrderID:       order.ID,
		TransactionID: session.TransactionID,
		PaymentURL:    session.PaymentURL,
		Amount:        session.Amount,
		Currency:      session.Currency,
		Status:        postgres.StatusPending,
		CreatedAt:     g.now(),
	}
	if err := g.txns.Insert(ctx, txn); err != nil {
		if errors.Is(err, postgres.ErrDuplicateTransaction) {
			// Lost a concurrent checkout. Void the session minted here and
			// hand back the winner's.
			if cerr := g.client.CancelSession(ctx, session.TransactionID); cerr != nil {
				g.logger.Printf("[Gateway] cancel of superseded session %s failed: %v", session.TransactionID, cerr)
			}
			if existing, ferr := g.txns.FindByOrder(ctx, order.ID); ferr == nil {
				return g.resume(existing)
			}
		}
		return nil, err
	}

	if err := g.orders.AddNote(ctx, order.ID, "Awaiting BML Connect payment."); err != nil {
		g.logger.Printf("[Gateway] add note for order %s failed: %v", orderID, err)
	}

	return &CheckoutResult{
		TransactionID: session.TransactionID,
		Redirect:      session.PaymentURL,
	}, nil
}

// resume serves an already-recorded session. Orders whose transaction has
// reached a terminal state cannot start another payment.
func (g *Gateway) resume(txn *postgres.Transaction) (*CheckoutResult, error) {
	if txn.Status != postgres.StatusPending {
		return nil, postgres.ErrDuplicateTransaction
	}
	g.logger.Printf("[Gateway] reusing pending session %s for order %s", txn.TransactionID, txn.OrderID)
	return &CheckoutResult{
		TransactionID: txn.TransactionID,
		Redirect:      txn.PaymentURL,
	}, nil
}
