package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvpay/bml-connect/internal/orders"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

func TestSweepOnceResolvesStaleTransactions(t *testing.T) {
	engine, ord, txns, client, _ := newFixture()
	txns.stale = []postgres.Transaction{*txns.byOrder["42"]}
	client.statuses["T1"] = "SUCCESS"

	sweeper := NewSweeper(engine, time.Hour, 5*time.Minute, log.New(io.Discard, "", 0))
	sweeper.SweepOnce(context.Background())

	assert.Equal(t, orders.StatusCompleted, ord.orders["42"].Status)
	assert.Equal(t, postgres.StatusSuccess, txns.byOrder["42"].Status)
}

func TestSweepOnceContinuesPastFailures(t *testing.T) {
	engine, ord, txns, client, _ := newFixture()

	ord.orders["43"] = &orders.Order{ID: "43", Status: orders.StatusPending}
	txns.byOrder["43"] = &postgres.Transaction{OrderID: "43", TransactionID: "T2", Status: postgres.StatusPending}
	txns.stale = []postgres.Transaction{*txns.byOrder["42"], *txns.byOrder["43"]}

	// First transaction's status check times out; the second must still
	// be processed.
	client.statusErr["T1"] = errors.New("timeout")
	client.statuses["T2"] = "FAILED"

	sweeper := NewSweeper(engine, time.Hour, 5*time.Minute, log.New(io.Discard, "", 0))
	sweeper.SweepOnce(context.Background())

	assert.Equal(t, postgres.StatusPending, txns.byOrder["42"].Status)
	assert.Equal(t, postgres.StatusFailed, txns.byOrder["43"].Status)
	assert.Equal(t, orders.StatusFailed, ord.orders["43"].Status)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	engine, _, _, _, _ := newFixture()
	sweeper := NewSweeper(engine, 10*time.Millisecond, time.Minute, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	engine, _, _, _, _ := newFixture()
	sweeper := NewSweeper(engine, 0, 0, log.New(io.Discard, "", 0))

	require.Equal(t, DefaultInterval, sweeper.interval)
	require.Equal(t, DefaultStaleness, sweeper.staleness)
}
