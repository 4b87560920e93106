package reconcile

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultInterval is how often the sweep re-queries the processor.
	DefaultInterval = time.Hour
	// DefaultStaleness is the minimum age a PENDING transaction must reach
	// before the sweep will re-query it. Fresh sessions are left to the
	// webhook and redirect paths.
	DefaultStaleness = 5 * time.Minute
)

// Sweeper periodically drives the polling reconciliation path for pending
// transactions the webhook never resolved.
type Sweeper struct {
	engine    *Engine
	interval  time.Duration
	staleness time.Duration
	logger    *log.Logger
}

func NewSweeper(engine *Engine, interval, staleness time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Sweeper{engine: engine, interval: interval, staleness: staleness, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("[Sweep] started (interval=%s staleness=%s)", s.interval, s.staleness)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[Sweep] stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce checks every stale pending transaction. One transaction's
// failure never aborts the rest of the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	stale, err := s.engine.txns.FindStalePending(ctx, s.staleness)
	if err != nil {
		s.logger.Printf("[Sweep] query stale transactions failed: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Printf("[Sweep] checking %d stale pending transactions", len(stale))

	for _, txn := range stale {
		remote, err := s.engine.client.CheckStatus(ctx, txn.TransactionID)
		if err != nil {
			s.logger.Printf("[Sweep] status check for %s failed: %v", txn.TransactionID, err)
			continue
		}
		if err := s.engine.Apply(ctx, txn.OrderID, remote.Status); err != nil {
			s.logger.Printf("[Sweep] apply %s for order %s failed: %v", remote.Status, txn.OrderID, err)
		}
	}
}
