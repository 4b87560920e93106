// Package orders defines the slice of the host commerce platform's order
// subsystem the gateway depends on. The platform owns orders; the gateway
// only moves a pending order forward.
package orders

import (
	"context"
	"errors"
)

// Status is the host platform's order state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Order is the gateway's view of a platform order.
type Order struct {
	ID         string
	Status     Status
	Total      float64
	Currency   string
	PaymentRef string
}

// ErrOrderNotFound signals an unknown order reference.
var ErrOrderNotFound = errors.New("order not found")

// Service is implemented by the platform adapter. The three mutations are
// conditional on the order still being pending, which makes repeated
// notifications idempotent no-ops.
type Service interface {
	Get(ctx context.Context, orderID string) (*Order, error)

	// PaymentComplete marks a pending order paid, recording the remote
	// transaction id as the payment reference.
	PaymentComplete(ctx context.Context, orderID, paymentRef string) error

	// MarkFailed moves a pending order to failed.
	MarkFailed(ctx context.Context, orderID string) error

	// MarkCancelled moves a pending order to cancelled.
	MarkCancelled(ctx context.Context, orderID string) error

	// AddNote appends an audit note to the order's history.
	AddNote(ctx context.Context, orderID, note string) error
}
