package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCycle signals on runs and optionally fails every time.
type fakeCycle struct {
	runs int64
	err  error
	ran  chan struct{}
}

func (f *fakeCycle) Run(context.Context) error {
	atomic.AddInt64(&f.runs, 1)
	select {
	case f.ran <- struct{}{}:
	default:
	}
	return f.err
}

func waitForRun(t *testing.T, ran chan struct{}) {
	t.Helper()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a worker cycle")
	}
}

func TestRunLoopRunsImmediatelyThenOnTicks(t *testing.T) {
	cycle := &fakeCycle{ran: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runLoop(ctx, 5*time.Millisecond, cycle)
	}()

	// First run happens before the first tick.
	waitForRun(t, cycle.ran)
	waitForRun(t, cycle.ran)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runLoop = %v, want nil on cancellation", err)
	}
	if got := atomic.LoadInt64(&cycle.runs); got < 2 {
		t.Fatalf("runs = %d, want at least 2", got)
	}
}

func TestRunLoopKeepsGoingAfterFailedCycle(t *testing.T) {
	cycle := &fakeCycle{ran: make(chan struct{}, 1), err: errors.New("cycle failed")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runLoop(ctx, 5*time.Millisecond, cycle)
	}()

	waitForRun(t, cycle.ran)
	waitForRun(t, cycle.ran)
	waitForRun(t, cycle.ran)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runLoop = %v, want nil despite failing cycles", err)
	}
	if got := atomic.LoadInt64(&cycle.runs); got < 3 {
		t.Fatalf("runs = %d, want the loop to retry after failures", got)
	}
}

func TestRunLoopStopsWhenContextAlreadyCanceled(t *testing.T) {
	cycle := &fakeCycle{ran: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runLoop(ctx, time.Hour, cycle); err != nil {
		t.Fatalf("runLoop = %v, want nil", err)
	}
	// The immediate run still happens once; the loop must not wait for a
	// tick that will never fire.
	if got := atomic.LoadInt64(&cycle.runs); got != 1 {
		t.Fatalf("runs = %d, want exactly the immediate run", got)
	}
}
