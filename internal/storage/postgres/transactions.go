package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the local lifecycle state of a payment transaction. PENDING is
// the only non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Transaction mirrors one remote payment attempt tied to one order.
// Only Status is mutable after creation.
type Transaction struct {
	ID            int64
	OrderID       string
	TransactionID string
	PaymentURL    string
	Amount        float64
	Currency      string
	Status        Status
	CreatedAt     time.Time
}

// ErrTransactionNotFound signals an unknown order or transaction reference.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrDuplicateTransaction signals an order that already has a transaction.
// One transaction per order is enforced at the schema level.
var ErrDuplicateTransaction = errors.New("order already has a transaction")

// ListFilter narrows and pages List results.
type ListFilter struct {
	Start   time.Time
	End     time.Time
	Status  Status
	PerPage int
	Page    int
}

// TransactionStore persists the transaction ledger. It is a pure state
// container: idempotency of transitions is the reconciliation engine's job.
type TransactionStore struct {
	db *sql.DB
}

func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// InitSchema creates the ledger table if it does not exist.
func (s *TransactionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bml_transactions (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			transaction_id TEXT NOT NULL UNIQUE,
			payment_url TEXT NOT NULL DEFAULT '',
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bml_transactions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_bml_transactions_status_created
		ON bml_transactions (status, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to index bml_transactions: %w", err)
	}
	return nil
}

// Insert records a newly created session. Inserting a second transaction for
// the same order returns ErrDuplicateTransaction.
func (s *TransactionStore) Insert(ctx context.Context, txn Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bml_transactions (order_id, transaction_id, payment_url, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
	`, txn.OrderID, txn.TransactionID, txn.PaymentURL, txn.Amount, txn.Currency, string(txn.Status), txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

// UpdateStatus sets the status for an order's transaction. Applying the same
// status twice leaves the same end state.
func (s *TransactionStore) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bml_transactions SET status = $2 WHERE order_id = $1`,
		orderID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindByOrder returns the transaction owned by the given order.
func (s *TransactionStore) FindByOrder(ctx context.Context, orderID string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, payment_url, amount, currency, status, created_at
		FROM bml_transactions WHERE order_id = $1
	`, orderID)
	return scanTransaction(row)
}

// FindByTransactionID returns the transaction with the given remote id.
func (s *TransactionStore) FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, transaction_id, payment_url, amount, currency, status, created_at
		FROM bml_transactions WHERE transaction_id = $1
	`, transactionID)
	return scanTransaction(row)
}

// FindStalePending returns PENDING transactions created before now-olderThan,
// oldest first. This feeds the reconciliation sweep.
func (s *TransactionStore) FindStalePending(ctx context.Context, olderThan time.Duration) ([]Transaction, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, transaction_id, payment_url, amount, currency, status, created_at
		FROM bml_transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`, string(StatusPending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var txn Transaction
		var status string
		if err := rows.Scan(&txn.ID, &txn.OrderID, &txn.TransactionID, &txn.PaymentURL, &txn.Amount, &txn.Currency, &status, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.Status = Status(status)
		out = append(out, txn)
	}
	return out, rows.Err()
}

// List pages through the ledger for the admin report, newest first.
func (s *TransactionStore) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	where := `created_at >= $1 AND created_at < $2`
	args := []any{filter.Start, filter.End}
	if filter.Status != "" {
		where += ` AND status = $3`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bml_transactions WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`
		SELECT id, order_id, transaction_id, payment_url, amount, currency, status, created_at
		FROM bml_transactions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, perPage, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var txn Transaction
		var status string
		if err := rows.Scan(&txn.ID, &txn.OrderID, &txn.TransactionID, &txn.PaymentURL, &txn.Amount, &txn.Currency, &status, &txn.CreatedAt); err != nil {
			return nil, 0, err
		}
		txn.Status = Status(status)
		out = append(out, txn)
	}
	return out, total, rows.Err()
}

// Drop removes the ledger table. Uninstall path only.
func (s *TransactionStore) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS bml_transactions`)
	return err
}

func scanTransaction(row *sql.Row) (*Transaction, error) {
	var txn Transaction
	var status string
	err := row.Scan(&txn.ID, &txn.OrderID, &txn.TransactionID, &txn.PaymentURL, &txn.Amount, &txn.Currency, &status, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.Status = Status(status)
	return &txn, nil
}
