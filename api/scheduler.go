/*
scheduler.go - Periodic journal checkpoints

PURPOSE:
  A long-running server would otherwise keep one journal run open
  forever, with no balances saved until shutdown. The scheduler calls
  Handler.Checkpoint on a fixed interval so each run covers a bounded
  window and ends with the balances at that moment.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checkpoint is a no-op when no run is open (nothing submitted since
    the last checkpoint), so idle servers write nothing
  - Stop performs one last checkpoint

USAGE:
  scheduler := NewCheckpointScheduler(handler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Checkpoint, PostCheckpoint endpoint
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckpointScheduler closes journal runs on a timer.
type CheckpointScheduler struct {
	Handler  *Handler
	Interval time.Duration
	Enabled  bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCheckpointScheduler creates a scheduler with a 5 minute interval.
func NewCheckpointScheduler(handler *Handler, logger *zap.Logger) *CheckpointScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointScheduler{
		Handler:  handler,
		Interval: 5 * time.Minute,
		Enabled:  true,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (cs *CheckpointScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled || cs.Interval <= 0 {
		cs.logger.Info("checkpoint scheduler disabled")
		return
	}

	cs.ticker = time.NewTicker(cs.Interval)
	cs.wg.Add(1)

	go cs.run()

	cs.logger.Info("checkpoint scheduler started", zap.Duration("interval", cs.Interval))
}

// Stop stops the scheduler and writes a final checkpoint.
func (cs *CheckpointScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.logger.Info("checkpoint scheduler stopped")
	}
	cs.checkpoint()
}

func (cs *CheckpointScheduler) run() {
	defer cs.wg.Done()

	for {
		select {
		case <-cs.ticker.C:
			cs.checkpoint()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CheckpointScheduler) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runID, err := cs.Handler.Checkpoint(ctx)
	if err != nil {
		cs.logger.Error("scheduled checkpoint failed", zap.Error(err))
		return
	}
	if runID != "" {
		cs.logger.Debug("scheduled checkpoint", zap.String("run_id", runID))
	}
}
