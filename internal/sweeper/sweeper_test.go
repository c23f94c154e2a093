package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewardstack/pointledger/pkg/pointledger"
)

type recordingLedger struct {
	mutex      sync.Mutex
	calls      int
	failFirst  bool
	lastCalled time.Time
}

func (ledger *recordingLedger) ExpireSweep(_ context.Context, asOf time.Time, _ *pointledger.UserID) (int, error) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	ledger.calls++
	ledger.lastCalled = asOf
	if ledger.failFirst && ledger.calls == 1 {
		return 0, errors.New("sweep unavailable")
	}
	return 2, nil
}

func (ledger *recordingLedger) callCount() int {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return ledger.calls
}

func TestNewValidatesDependencies(test *testing.T) {
	test.Parallel()
	now := time.Now
	if _, err := New(nil, time.Minute, now, nil); !errors.Is(err, pointledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil ledger, got %v", err)
	}
	if _, err := New(&recordingLedger{}, 0, now, nil); !errors.Is(err, pointledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for zero interval, got %v", err)
	}
	if _, err := New(&recordingLedger{}, time.Minute, nil, nil); !errors.Is(err, pointledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil clock, got %v", err)
	}
}

func TestRunSweepsUntilCancelled(test *testing.T) {
	test.Parallel()
	ledger := &recordingLedger{}
	runner, err := New(ledger, 10*time.Millisecond, time.Now, nil)
	if err != nil {
		test.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ledger.callCount() < 3 {
		select {
		case <-deadline:
			test.Fatalf("expected at least 3 sweeps, got %d", ledger.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		test.Fatalf("run: %v", err)
	}
}

func TestRunKeepsGoingAfterSweepError(test *testing.T) {
	test.Parallel()
	ledger := &recordingLedger{failFirst: true}
	runner, err := New(ledger, 10*time.Millisecond, time.Now, nil)
	if err != nil {
		test.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for ledger.callCount() < 2 {
		select {
		case <-deadline:
			test.Fatalf("expected retry after failure, got %d calls", ledger.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		test.Fatalf("run: %v", err)
	}
}

func TestSweepOnceUsesInjectedClock(test *testing.T) {
	test.Parallel()
	ledger := &recordingLedger{}
	clock := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	runner, err := New(ledger, time.Minute, func() time.Time { return clock }, nil)
	if err != nil {
		test.Fatalf("new runner: %v", err)
	}
	expiredCount, err := runner.SweepOnce(context.Background())
	if err != nil {
		test.Fatalf("sweep once: %v", err)
	}
	if expiredCount != 2 {
		test.Fatalf("expected 2 expired, got %d", expiredCount)
	}
	if !ledger.lastCalled.Equal(clock) {
		test.Fatalf("expected sweep at %v, got %v", clock, ledger.lastCalled)
	}
}
