package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mvpay/bml-connect/internal/orders"
)

// OrderStore is the postgres-backed adapter for the host platform's order
// subsystem. Status mutations are guarded on the row still being pending, so
// a transition that lost the race is a no-op rather than an error.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

var _ orders.Service = (*OrderStore)(nil)

// InitSchema creates the order adapter tables if they do not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'MVR',
			payment_ref TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create orders: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_notes (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			note TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create order_notes: %w", err)
	}
	return nil
}

// Upsert creates or refreshes an order row. Used by the platform side of the
// integration and by tests.
func (s *OrderStore) Upsert(ctx context.Context, order orders.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, total_amount, currency, payment_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_amount = EXCLUDED.total_amount,
			currency = EXCLUDED.currency,
			updated_at = CURRENT_TIMESTAMP
	`, order.ID, string(order.Status), order.Total, order.Currency, order.PaymentRef)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	var (
		order  orders.Order
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, total_amount, currency, payment_ref
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &status, &order.Total, &order.Currency, &order.PaymentRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	order.Status = orders.Status(status)
	return &order, nil
}

func (s *OrderStore) PaymentComplete(ctx context.Context, orderID, paymentRef string) error {
	return s.transition(ctx, orderID,
		`UPDATE orders SET status = $2, payment_ref = $3, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND status = $4`,
		orderID, string(orders.StatusCompleted), paymentRef, string(orders.StatusPending))
}

func (s *OrderStore) MarkFailed(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID,
		`UPDATE orders SET status = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND status = $3`,
		orderID, string(orders.StatusFailed), string(orders.StatusPending))
}

func (s *OrderStore) MarkCancelled(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID,
		`UPDATE orders SET status = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND status = $3`,
		orderID, string(orders.StatusCancelled), string(orders.StatusPending))
}

func (s *OrderStore) AddNote(ctx context.Context, orderID, note string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, orderID, note)
	if err != nil {
		return fmt.Errorf("failed to add order note: %w", err)
	}
	return nil
}

// Drop removes the adapter tables. Uninstall path only.
func (s *OrderStore) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS order_notes`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS orders`)
	return err
}

// transition runs a guarded status update. Zero rows affected means the
// order either does not exist or already left pending; the caller's guard
// has already distinguished the two.
func (s *OrderStore) transition(ctx context.Context, orderID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition order %s: %w", orderID, err)
	}
	_, err = res.RowsAffected()
	return err
}
