package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvpay/bml-connect/internal/bml"
	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
	"github.com/mvpay/bml-connect/internal/validation"
)

type stubClient struct {
	fields    map[string]string
	session   *bml.Session
	err       error
	created   int
	cancelled []string
}

func (s *stubClient) CreateSession(_ context.Context, fields map[string]string) (*bml.Session, error) {
	s.created++
	s.fields = fields
	return s.session, s.err
}

func (s *stubClient) CancelSession(_ context.Context, transactionID string) error {
	s.cancelled = append(s.cancelled, transactionID)
	return nil
}

type stubTxns struct {
	inserted []postgres.Transaction
	err      error

	pending     *postgres.Transaction // served by FindByOrder from the start
	afterLoss   *postgres.Transaction // served only once Insert has failed
	insertTried bool
}

func (s *stubTxns) Insert(_ context.Context, txn postgres.Transaction) error {
	s.insertTried = true
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, txn)
	return nil
}

func (s *stubTxns) FindByOrder(_ context.Context, orderID string) (*postgres.Transaction, error) {
	if s.pending != nil && s.pending.OrderID == orderID {
		return s.pending, nil
	}
	if s.insertTried && s.afterLoss != nil && s.afterLoss.OrderID == orderID {
		return s.afterLoss, nil
	}
	return nil, postgres.ErrTransactionNotFound
}

type stubOrders struct {
	order *orders.Order
	notes []string
}

func (s *stubOrders) Get(_ context.Context, id string) (*orders.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, orders.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubOrders) PaymentComplete(context.Context, string, string) error { return nil }
func (s *stubOrders) MarkFailed(context.Context, string) error              { return nil }
func (s *stubOrders) MarkCancelled(context.Context, string) error           { return nil }
func (s *stubOrders) AddNote(_ context.Context, _ string, note string) error {
	s.notes = append(s.notes, note)
	return nil
}

func newGateway(cfg Config, client *stubClient, txns *stubTxns, ord *stubOrders) *Gateway {
	g := New(cfg, client, txns, ord, log.New(io.Discard, "", 0))
	g.now = func() time.Time { return time.Unix(1700000000, 0) }
	return g
}

func enabledConfig() Config {
	return Config{
		Enabled:         true,
		TestMode:        true,
		MerchantID:      "M-001",
		APIKey:          "secret",
		ReturnURL:       "https://shop.example/return",
		CancelURL:       "https://shop.example/cancel",
		NotificationURL: "https://shop.example/webhooks/bml-connect",
	}
}

func TestProcessPayment(t *testing.T) {
	client := &stubClient{session: &bml.Session{
		TransactionID: "T1",
		PaymentURL:    "https://pay.example/T1",
		Amount:        100.00,
		Currency:      "MVR",
	}}
	txns := &stubTxns{}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 100.00, Currency: "MVR"}}

	result, err := newGateway(enabledConfig(), client, txns, ord).ProcessPayment(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/T1", result.Redirect)
	assert.Equal(t, "T1", result.TransactionID)

	assert.Equal(t, "100.00", client.fields["amount"])
	assert.Equal(t, "MVR", client.fields["currency"])
	assert.Equal(t, "42", client.fields["orderId"])
	assert.Equal(t, "EN", client.fields["language"])
	assert.Equal(t, "https://shop.example/webhooks/bml-connect", client.fields["notificationUrl"])

	require.Len(t, txns.inserted, 1)
	assert.Equal(t, postgres.StatusPending, txns.inserted[0].Status)
	assert.Equal(t, "42", txns.inserted[0].OrderID)
	assert.Equal(t, "T1", txns.inserted[0].TransactionID)
	assert.Equal(t, "https://pay.example/T1", txns.inserted[0].PaymentURL)
	assert.Contains(t, ord.notes, "Awaiting BML Connect payment.")
}

func TestProcessPaymentDisabled(t *testing.T) {
	g := newGateway(Config{Enabled: false}, &stubClient{}, &stubTxns{}, &stubOrders{})

	_, err := g.ProcessPayment(context.Background(), "42")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestProcessPaymentUnknownOrder(t *testing.T) {
	g := newGateway(enabledConfig(), &stubClient{}, &stubTxns{}, &stubOrders{})

	_, err := g.ProcessPayment(context.Background(), "404")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestProcessPaymentRejectsInvalidOrderValues(t *testing.T) {
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 0, Currency: "MVR"}}
	g := newGateway(enabledConfig(), &stubClient{}, &stubTxns{}, ord)

	_, err := g.ProcessPayment(context.Background(), "42")

	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
}

func TestProcessPaymentSurfacesClientError(t *testing.T) {
	client := &stubClient{err: &bml.APIError{StatusCode: 500, Message: "down"}}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 10, Currency: "USD"}}
	g := newGateway(enabledConfig(), client, &stubTxns{}, ord)

	_, err := g.ProcessPayment(context.Background(), "42")

	var apiErr *bml.APIError
	require.True(t, errors.As(err, &apiErr))
}

func TestProcessPaymentReusesPendingSession(t *testing.T) {
	client := &stubClient{}
	txns := &stubTxns{pending: &postgres.Transaction{
		OrderID:       "42",
		TransactionID: "T1",
		PaymentURL:    "https://pay.example/T1",
		Status:        postgres.StatusPending,
	}}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 100, Currency: "MVR"}}

	result, err := newGateway(enabledConfig(), client, txns, ord).ProcessPayment(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, "T1", result.TransactionID)
	assert.Equal(t, "https://pay.example/T1", result.Redirect)
	// The abandoned payer gets the same session back, never a second one.
	assert.Zero(t, client.created)
	assert.Empty(t, txns.inserted)
}

func TestProcessPaymentRejectsSettledOrder(t *testing.T) {
	client := &stubClient{}
	txns := &stubTxns{pending: &postgres.Transaction{
		OrderID:       "42",
		TransactionID: "T1",
		Status:        postgres.StatusSuccess,
	}}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusCompleted, Total: 100, Currency: "MVR"}}

	_, err := newGateway(enabledConfig(), client, txns, ord).ProcessPayment(context.Background(), "42")

	assert.ErrorIs(t, err, postgres.ErrDuplicateTransaction)
	assert.Zero(t, client.created)
}

func TestProcessPaymentConcurrentCheckoutYieldsWinner(t *testing.T) {
	client := &stubClient{session: &bml.Session{TransactionID: "T2", PaymentURL: "https://pay.example/T2", Amount: 10, Currency: "USD"}}
	txns := &stubTxns{
		err: postgres.ErrDuplicateTransaction,
		afterLoss: &postgres.Transaction{
			OrderID:       "42",
			TransactionID: "T1",
			PaymentURL:    "https://pay.example/T1",
			Status:        postgres.StatusPending,
		},
	}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 10, Currency: "USD"}}

	result, err := newGateway(enabledConfig(), client, txns, ord).ProcessPayment(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, "T1", result.TransactionID)
	assert.Equal(t, "https://pay.example/T1", result.Redirect)
	// The losing session is voided remotely.
	assert.Equal(t, []string{"T2"}, client.cancelled)
}

func TestProcessPaymentDuplicateSession(t *testing.T) {
	client := &stubClient{session: &bml.Session{TransactionID: "T2", PaymentURL: "u", Amount: 10, Currency: "USD"}}
	txns := &stubTxns{err: postgres.ErrDuplicateTransaction}
	ord := &stubOrders{order: &orders.Order{ID: "42", Status: orders.StatusPending, Total: 10, Currency: "USD"}}
	g := newGateway(enabledConfig(), client, txns, ord)

	_, err := g.ProcessPayment(context.Background(), "42")
	assert.ErrorIs(t, err, postgres.ErrDuplicateTransaction)
	assert.Equal(t, []string{"T2"}, client.cancelled)
}

func TestSettingsFields(t *testing.T) {
	fields := SettingsFields()

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"enabled", "testmode", "title", "description", "merchant_id", "api_key"}, keys)
}
