//nolint:testpackage // tests replace unexported busy/sleep/yield hooks.
package shape

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunAppliesDutyCycle(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		metricsMu      sync.Mutex
		busyDurations  []time.Duration
		sleepDurations []time.Duration
	)

	pool.busyFunc = func(d time.Duration) {
		metricsMu.Lock()
		busyDurations = append(busyDurations, d)
		metricsMu.Unlock()
	}
	pool.sleepFunc = func(d time.Duration) {
		metricsMu.Lock()
		sleepDurations = append(sleepDurations, d)
		metricsMu.Unlock()
	}

	report, err := pool.RunAt(context.Background(), 0.4, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	metricsMu.Lock()
	defer metricsMu.Unlock()

	if len(busyDurations) == 0 {
		t.Fatal("expected busy durations to be recorded")
	}

	if len(busyDurations) != len(sleepDurations) {
		t.Fatalf("busy and sleep slices should match in length")
	}

	for index := range busyDurations {
		if busyDurations[index]+sleepDurations[index] != 5*time.Millisecond {
			t.Fatalf(
				"quantum not preserved: busy %v sleep %v",
				busyDurations[index],
				sleepDurations[index],
			)
		}
	}

	if report.Workers != 1 || report.Target != 0.4 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if report.Busy != time.Duration(len(busyDurations))*2*time.Millisecond {
		t.Fatalf("expected busy total to match recorded quanta, got %v", report.Busy)
	}
}

func TestPoolRunFullTargetNeverSleeps(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sleeps atomic.Int64

	pool.busyFunc = func(time.Duration) {}
	pool.sleepFunc = func(time.Duration) { sleeps.Add(1) }

	report, err := pool.RunAt(context.Background(), 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sleeps.Load() != 0 {
		t.Fatalf("expected no idle sleeps at full target, got %d", sleeps.Load())
	}

	if report.Workers != 2 || report.Target != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestPoolRunYieldsUnderZeroTarget(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var yieldCount atomic.Int64

	pool.yieldFunc = func() { yieldCount.Add(1) }
	pool.sleepFunc = func(time.Duration) {}
	_, err = pool.RunAt(context.Background(), 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if yieldCount.Load() == 0 {
		t.Fatal("expected yields when target is zero")
	}
}

func TestPoolRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool.busyFunc = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())

	time.AfterFunc(5*time.Millisecond, cancel)

	report, err := pool.RunAt(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Elapsed > 5*time.Second {
		t.Fatalf("expected run to stop after cancellation, took %v", report.Elapsed)
	}
}

func TestPoolRunRejectsOverlap(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool.busyFunc = func(time.Duration) {}
	pool.running.Store(true)

	_, err = pool.RunAt(context.Background(), 1, time.Millisecond)
	if !errors.Is(err, ErrPoolBusy) {
		t.Fatalf("expected ErrPoolBusy, got %v", err)
	}
}

func TestPoolRunAtSetsTarget(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pool.busyFunc = func(time.Duration) {}
	pool.sleepFunc = func(time.Duration) {}

	report, err := pool.RunAt(context.Background(), 0.5, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Target != 0.5 || pool.Target() != 0.5 {
		t.Fatalf("expected target 0.5, got report %.2f pool %.2f", report.Target, pool.Target())
	}

	pool.running.Store(true)

	_, err = pool.RunAt(context.Background(), 0.1, time.Millisecond)
	if !errors.Is(err, ErrPoolBusy) {
		t.Fatalf("expected ErrPoolBusy, got %v", err)
	}

	if pool.Target() != 0.5 {
		t.Fatalf("expected busy pool to keep its target, got %.2f", pool.Target())
	}
}

func TestBusyWaitHandlesDurations(t *testing.T) {
	t.Parallel()

	start := time.Now()

	busyWait(0)

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		t.Fatalf("busyWait should return immediately for zero duration, took %v", elapsed)
	}

	start = time.Now()

	busyWait(200 * time.Microsecond)

	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("busyWait exceeded expected duration, took %v", elapsed)
	}
}

func TestPoolSetTargetBoundsInput(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := pool.Target(); got != 1 {
		t.Fatalf("expected default target 1, got %.2f", got)
	}

	pool.SetTarget(1.5)

	if got := pool.Target(); got != 1 {
		t.Fatalf("expected target to clamp to 1, got %.2f", got)
	}

	pool.SetTarget(-0.2)

	if got := pool.Target(); got != 0 {
		t.Fatalf("expected negative target to clamp to 0, got %.2f", got)
	}

	pool.SetTarget(math.NaN())

	if got := pool.Target(); got != 0 {
		t.Fatalf("expected NaN target to reset to 0, got %.2f", got)
	}
}

func TestNewPoolRejectsNonPositiveWorkerCount(t *testing.T) {
	t.Parallel()

	_, err := NewPool(0, DefaultQuantum)
	if err == nil {
		t.Fatal("expected error when worker count is non-positive")
	}
}

func TestNewPoolClampsQuantumWithinBounds(t *testing.T) {
	t.Parallel()

	tooSmall, err := NewPool(1, time.Microsecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tooSmall.Quantum(); got != minQuantum {
		t.Fatalf("expected quantum to clamp to %s, got %s", minQuantum, got)
	}

	tooLarge, err := NewPool(3, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tooLarge.Quantum(); got != maxQuantum {
		t.Fatalf("expected quantum to clamp to %s, got %s", maxQuantum, got)
	}

	if got := tooLarge.Workers(); got != 3 {
		t.Fatalf("unexpected worker count: got %d want 3", got)
	}
}
