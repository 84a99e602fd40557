package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dishpay/dishpay/internal/metrics"
)

// Timer periodically drives the executor: one cadence for pending
// transfers, one for verification polls.
type Timer struct {
	executor       *Executor
	interval       time.Duration
	verifyInterval time.Duration
	logger         *slog.Logger
	stop           chan struct{}
	running        atomic.Bool
}

// NewTimer creates a new transfer sweep timer.
func NewTimer(executor *Executor, interval, verifyInterval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		executor:       executor,
		interval:       interval,
		verifyInterval: verifyInterval,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins both sweep loops. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	process := time.NewTicker(t.interval)
	defer process.Stop()
	verify := time.NewTicker(t.verifyInterval)
	defer verify.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-process.C:
			t.safeSweep(ctx, "transfer", t.executor.ProcessAllPending)
		case <-verify.C:
			t.safeSweep(ctx, "verification", t.executor.VerifyAllPending)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context, name string, sweep func(context.Context) (int, error)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in withdrawal timer", "sweep", name, "panic", fmt.Sprint(r))
		}
	}()

	started := time.Now()
	if _, err := sweep(ctx); err != nil {
		t.logger.Warn("withdrawal sweep failed", "sweep", name, "error", err)
	}
	metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}
