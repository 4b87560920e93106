// Package reconcile keeps local order and transaction state in agreement
// with the payment processor's authoritative status. Three triggers drive
// the same transition function: the inbound webhook, the periodic sweep,
// and an external order cancellation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mvpay/bml-connect/internal/bml"
	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

// TransactionStore is the slice of the ledger the engine needs.
type TransactionStore interface {
	FindByOrder(ctx context.Context, orderID string) (*postgres.Transaction, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*postgres.Transaction, error)
	FindStalePending(ctx context.Context, olderThan time.Duration) ([]postgres.Transaction, error)
	UpdateStatus(ctx context.Context, orderID string, status postgres.Status) error
}

// ProcessorClient is the slice of the BML client the engine needs.
type ProcessorClient interface {
	CheckStatus(ctx context.Context, transactionID string) (*bml.Status, error)
	CancelSession(ctx context.Context, transactionID string) error
}

// Publisher emits status-change events. May be nil when eventing is off.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, orderID, transactionID, status string) error
}

// Engine applies remote payment statuses to local state. All entry points
// funnel into Apply, whose "order still pending" guard turns races between
// triggers into idempotent no-ops.
type Engine struct {
	orders    orders.Service
	txns      TransactionStore
	client    ProcessorClient
	publisher Publisher
	logger    *log.Logger
}

func NewEngine(orderSvc orders.Service, txns TransactionStore, client ProcessorClient, publisher Publisher, logger *log.Logger) *Engine {
	return &Engine{
		orders:    orderSvc,
		txns:      txns,
		client:    client,
		publisher: publisher,
		logger:    logger,
	}
}

// Apply reconciles one order against a remote status. The order mutation
// runs first; if it fails the transaction mutation is skipped so the two
// never diverge, and the next trigger retries the same transition.
func (e *Engine) Apply(ctx context.Context, orderID, remoteStatus string) error {
	txn, err := e.txns.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, postgres.ErrTransactionNotFound) {
			e.logger.Printf("[Reconcile] no transaction for order %s, skipping", orderID)
		}
		return err
	}

	// Terminal transaction states never transition again.
	if txn.Status != postgres.StatusPending {
		e.logger.Printf("[Reconcile] transaction %s already %s, ignoring %s", txn.TransactionID, txn.Status, remoteStatus)
		return nil
	}

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			e.logger.Printf("[Reconcile] order %s not found, skipping", orderID)
		}
		return err
	}
	pending := order.Status == orders.StatusPending

	var next postgres.Status
	switch strings.ToUpper(remoteStatus) {
	case string(postgres.StatusSuccess):
		next = postgres.StatusSuccess
		if pending {
			if err := e.orders.PaymentComplete(ctx, orderID, txn.TransactionID); err != nil {
				return fmt.Errorf("complete order %s: %w", orderID, err)
			}
			e.note(ctx, orderID, "BML Connect payment completed.")
		}
	case string(postgres.StatusFailed):
		next = postgres.StatusFailed
		if pending {
			if err := e.orders.MarkFailed(ctx, orderID); err != nil {
				return fmt.Errorf("fail order %s: %w", orderID, err)
			}
			e.note(ctx, orderID, "BML Connect payment failed.")
		}
	case string(postgres.StatusCancelled):
		next = postgres.StatusCancelled
		if pending {
			if err := e.orders.MarkCancelled(ctx, orderID); err != nil {
				return fmt.Errorf("cancel order %s: %w", orderID, err)
			}
			e.note(ctx, orderID, "BML Connect payment cancelled.")
		}
	case string(postgres.StatusPending):
		// Visibility only; no state change.
		if pending {
			e.note(ctx, orderID, "BML Connect payment pending.")
		}
		return nil
	default:
		e.logger.Printf("[Reconcile] ignoring unknown remote status %q for order %s", remoteStatus, orderID)
		return nil
	}

	if err := e.txns.UpdateStatus(ctx, orderID, next); err != nil {
		return fmt.Errorf("update transaction for order %s: %w", orderID, err)
	}
	e.publish(ctx, orderID, txn.TransactionID, string(next))
	return nil
}

// CancelPending handles an order cancelled outside this system. The local
// order is authoritative once a human has cancelled it: the remote
// cancellation is attempted best-effort, and the transaction is marked
// CANCELLED whether or not the remote call succeeded.
func (e *Engine) CancelPending(ctx context.Context, orderID string) error {
	txn, err := e.txns.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, postgres.ErrTransactionNotFound) {
			return nil
		}
		return err
	}
	if txn.Status != postgres.StatusPending {
		return nil
	}

	if err := e.client.CancelSession(ctx, txn.TransactionID); err != nil {
		e.logger.Printf("[Reconcile] remote cancel of %s failed: %v", txn.TransactionID, err)
	}

	if err := e.txns.UpdateStatus(ctx, orderID, postgres.StatusCancelled); err != nil {
		return fmt.Errorf("mark transaction cancelled for order %s: %w", orderID, err)
	}
	e.publish(ctx, orderID, txn.TransactionID, string(postgres.StatusCancelled))
	return nil
}

// Refresh re-runs the polling path for a single transaction id. Backs the
// admin "refresh status" action.
func (e *Engine) Refresh(ctx context.Context, transactionID string) (*postgres.Transaction, error) {
	txn, err := e.txns.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	remote, err := e.client.CheckStatus(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := e.Apply(ctx, txn.OrderID, remote.Status); err != nil {
		return nil, err
	}
	return e.txns.FindByTransactionID(ctx, transactionID)
}

func (e *Engine) note(ctx context.Context, orderID, note string) {
	if err := e.orders.AddNote(ctx, orderID, note); err != nil {
		e.logger.Printf("[Reconcile] add note for order %s failed: %v", orderID, err)
	}
}

func (e *Engine) publish(ctx context.Context, orderID, transactionID, status string) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishStatusChanged(ctx, orderID, transactionID, status); err != nil {
		e.logger.Printf("[Reconcile] publish status change for order %s failed: %v", orderID, err)
	}
}
