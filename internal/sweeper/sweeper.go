// Package sweeper runs the periodic expiry sweep.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rewardstack/pointledger/pkg/pointledger"
	"go.uber.org/zap"
)

// Ledger is the slice of the ledger engine the runner needs.
type Ledger interface {
	ExpireSweep(ctx context.Context, asOf time.Time, userID *pointledger.UserID) (int, error)
}

// Runner sweeps expired lots on a fixed interval until its context ends.
type Runner struct {
	ledger   Ledger
	interval time.Duration
	nowFn    func() time.Time
	logger   *zap.Logger
}

// New wires a Runner.
func New(ledger Ledger, interval time.Duration, now func() time.Time, logger *zap.Logger) (*Runner, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", pointledger.ErrInvalidServiceConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: sweep interval must be positive", pointledger.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", pointledger.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{ledger: ledger, interval: interval, nowFn: now, logger: logger}, nil
}

// SweepOnce performs a single global sweep at the current clock reading.
func (runner *Runner) SweepOnce(ctx context.Context) (int, error) {
	return runner.ledger.ExpireSweep(ctx, runner.nowFn().UTC(), nil)
}

// Run sweeps immediately, then on every interval tick. A failed sweep is
// logged and retried on the next tick; only context cancellation stops the
// loop.
func (runner *Runner) Run(ctx context.Context) error {
	runner.sweep(ctx)
	ticker := time.NewTicker(runner.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			runner.logger.Info("expiry sweeper stopping")
			return nil
		case <-ticker.C:
			runner.sweep(ctx)
		}
	}
}

func (runner *Runner) sweep(ctx context.Context) {
	expiredCount, err := runner.SweepOnce(ctx)
	if err != nil {
		runner.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if expiredCount > 0 {
		runner.logger.Info("expiry sweep complete", zap.Int("expired_lots", expiredCount))
		return
	}
	runner.logger.Debug("expiry sweep complete", zap.Int("expired_lots", 0))
}
