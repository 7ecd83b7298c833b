// Package shape runs goroutine pools that hold CPU cores at a duty-cycle target for a bounded time.
package shape

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Pool drives a group of duty-cycle workers that consume CPU in short quanta.
type Pool struct {
	workers int
	quantum time.Duration

	busyFunc  func(time.Duration)
	sleepFunc func(time.Duration)
	yieldFunc func()

	tickerFactory func(time.Duration) ticker

	targetBits atomic.Uint64
	busyNanos  atomic.Int64
	running    atomic.Bool
}

// Report summarises a completed Run.
type Report struct {
	Workers int
	Target  float64
	Elapsed time.Duration
	Busy    time.Duration
}

// DefaultQuantum bounds the busy loop to a responsive interval.
const DefaultQuantum = time.Millisecond

const (
	minQuantum = time.Millisecond
	maxQuantum = 5 * time.Millisecond
)

var (
	errInvalidWorkerCount = errors.New("shape: worker count must be positive")
	// ErrPoolBusy is returned when RunAt is called while a previous run is still active.
	ErrPoolBusy = errors.New("shape: pool is already running")
)

// NewPool constructs a worker pool with the provided worker count and quantum duration.
func NewPool(workers int, quantum time.Duration) (*Pool, error) {
	if workers <= 0 {
		return nil, errInvalidWorkerCount
	}

	if quantum <= 0 {
		quantum = DefaultQuantum
	}

	quantum = min(max(quantum, minQuantum), maxQuantum)

	poolInstance := new(Pool)
	poolInstance.workers = workers
	poolInstance.quantum = quantum
	poolInstance.busyFunc = busyWait
	poolInstance.sleepFunc = time.Sleep
	poolInstance.yieldFunc = runtime.Gosched
	poolInstance.tickerFactory = func(duration time.Duration) ticker {
		return &runtimeTicker{ticker: time.NewTicker(duration)}
	}
	poolInstance.SetTarget(1)

	return poolInstance, nil
}

// RunAt sets target and blocks running the workers until duration elapses or ctx is
// cancelled. The target is only changed when the pool is idle, so a concurrent caller
// cannot alter a run in progress.
func (p *Pool) RunAt(ctx context.Context, target float64, duration time.Duration) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Report{}, ErrPoolBusy
	}
	defer p.running.Store(false)

	p.SetTarget(target)

	return p.run(ctx, duration), nil
}

func (p *Pool) run(ctx context.Context, duration time.Duration) Report {
	p.busyNanos.Store(0)

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()

	var group sync.WaitGroup

	group.Add(p.workers)

	for range p.workers {
		go func() {
			defer group.Done()

			p.worker(runCtx)
		}()
	}

	group.Wait()

	return Report{
		Workers: p.workers,
		Target:  p.Target(),
		Elapsed: time.Since(start),
		Busy:    time.Duration(p.busyNanos.Load()),
	}
}

// Workers returns the number of worker goroutines managed by the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Quantum reports the duty-cycle quantum assigned to each worker.
func (p *Pool) Quantum() time.Duration {
	return p.quantum
}

// SetTarget updates the duty cycle target in the range [0,1].
func (p *Pool) SetTarget(target float64) {
	if math.IsNaN(target) {
		target = 0
	}

	target = math.Max(0, math.Min(1, target))

	p.targetBits.Store(math.Float64bits(target))
}

// Target returns the current duty-cycle target.
func (p *Pool) Target() float64 {
	return math.Float64frombits(p.targetBits.Load())
}

func (p *Pool) worker(ctx context.Context) {
	quantum := p.quantum
	busyFn := p.busyFunc
	sleepFn := p.sleepFunc
	yieldFn := p.yieldFunc

	ticker := p.tickerFactory(quantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			busyDuration := min(time.Duration(p.Target()*float64(quantum)), quantum)
			idleDuration := quantum - busyDuration

			if busyDuration > 0 {
				busyFn(busyDuration)
				p.busyNanos.Add(int64(busyDuration))
			} else {
				yieldFn()
			}

			if idleDuration > 0 {
				sleepFn(idleDuration)
			}

			yieldFn()
		}
	}
}

func busyWait(duration time.Duration) {
	if duration <= 0 {
		return
	}

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type runtimeTicker struct {
	ticker *time.Ticker
}

func (t *runtimeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *runtimeTicker) Stop() {
	t.ticker.Stop()
}
