package burn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State describes whether the manager currently tracks any workers.
type State int

const (
	// StateIdle means no workers are tracked.
	StateIdle State = iota
	// StateBurning means at least one worker from the last start is tracked.
	StateBurning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBurning:
		return "burning"
	default:
		return "unknown"
	}
}

// Status values reported to callers.
const (
	StatusStarted        = "burn started"
	StatusAlreadyBurning = "already burning"
	StatusFailed         = "burn failed"
	StatusStopped        = "burn stopped"
	StatusNothingToStop  = "nothing to stop"
)

const (
	// DefaultWorkers is used when a start request asks for zero or fewer workers.
	DefaultWorkers = 4
	// DefaultMaxWorkers caps a single start request.
	DefaultMaxWorkers = 64
	// DefaultGracePeriod bounds how long Stop waits for killed workers to exit.
	DefaultGracePeriod = 3 * time.Second

	startedMessage  = "CPU is now on fire! Each process burns one core. Hit /burn-stop to extinguish."
	burningMessage  = "A burn is already running. Hit /burn-stop before starting a new one."
	failedMessage   = "No burn worker could be started."
	stoppedMessage  = "Phew! CPU can breathe again."
	nothingMessage  = "No active burn running."
	partialTemplate = "Started %d of %d requested workers. Hit /burn-stop to extinguish."
)

var errNilLauncher = errors.New("burn: launcher is required")

// StartResult reports the outcome of Manager.Start.
type StartResult struct {
	Status    string
	BurnID    string
	Requested int
	Launched  int
	Failed    int
	PIDs      []int
	Message   string
}

// StopResult reports the outcome of Manager.Stop.
type StopResult struct {
	Status      string
	Stopped     int
	Unconfirmed int
	Message     string
}

// Snapshot is a read-only view of the manager's tracked workers.
type Snapshot struct {
	State     State
	BurnID    string
	StartedAt time.Time
	Tracked   int
	Alive     int
	PIDs      []int
}

// Manager owns the set of workers launched by the most recent successful start.
type Manager struct {
	mu sync.Mutex

	launcher       Launcher
	logger         *zap.Logger
	defaultWorkers int
	maxWorkers     int
	gracePeriod    time.Duration
	newID          func() string
	now            func() time.Time
	observer       func(active int)

	burnID    string
	startedAt time.Time
	units     []Unit
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDefaultWorkers sets the count used when a start asks for zero or fewer workers.
func WithDefaultWorkers(count int) Option {
	return func(m *Manager) {
		if count > 0 {
			m.defaultWorkers = count
		}
	}
}

// WithMaxWorkers caps the number of workers a single start may launch.
func WithMaxWorkers(count int) Option {
	return func(m *Manager) {
		if count > 0 {
			m.maxWorkers = count
		}
	}
}

// WithGracePeriod sets how long Stop waits for killed workers to be reaped.
func WithGracePeriod(grace time.Duration) Option {
	return func(m *Manager) {
		if grace > 0 {
			m.gracePeriod = grace
		}
	}
}

// WithObserver installs a hook called with the tracked worker count after every state change.
func WithObserver(observer func(active int)) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// NewManager constructs an idle Manager that launches workers through launcher.
func NewManager(launcher Launcher, opts ...Option) (*Manager, error) {
	if launcher == nil {
		return nil, errNilLauncher
	}

	manager := new(Manager)
	manager.launcher = launcher
	manager.logger = zap.NewNop()
	manager.defaultWorkers = DefaultWorkers
	manager.maxWorkers = DefaultMaxWorkers
	manager.gracePeriod = DefaultGracePeriod
	manager.newID = func() string { return ulid.Make().String() }
	manager.now = time.Now

	for _, opt := range opts {
		opt(manager)
	}

	if manager.defaultWorkers > manager.maxWorkers {
		manager.defaultWorkers = manager.maxWorkers
	}

	return manager, nil
}

// Start launches requested workers unless workers from a previous start are still alive,
// in which case it reports the live set and launches nothing.
func (m *Manager) Start(ctx context.Context, requested int) StartResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	alive := aliveUnits(m.units)
	if len(alive) > 0 {
		m.logger.Info(
			"burn already active",
			zap.String("burnID", m.burnID),
			zap.Int("alive", len(alive)),
			zap.Int("requested", requested),
		)

		return StartResult{
			Status:    StatusAlreadyBurning,
			BurnID:    m.burnID,
			Requested: m.normaliseCount(requested),
			Launched:  len(alive),
			Failed:    0,
			PIDs:      pidsOf(alive),
			Message:   burningMessage,
		}
	}

	if len(m.units) > 0 {
		m.logger.Info("discarding exited burn workers", zap.Int("count", len(m.units)))
		m.reset()
	}

	count := m.normaliseCount(requested)
	burnID := m.newID()
	units := make([]Unit, 0, count)

	var launchErr error

	for range count {
		unit, err := m.launcher.Launch(ctx)
		if err != nil {
			launchErr = err

			break
		}

		units = append(units, unit)
	}

	failed := count - len(units)
	if launchErr != nil {
		m.logger.Warn(
			"burn worker launch failed",
			zap.String("burnID", burnID),
			zap.Int("launched", len(units)),
			zap.Int("failed", failed),
			zap.Error(launchErr),
		)
	}

	if len(units) == 0 {
		m.notify()

		return StartResult{
			Status:    StatusFailed,
			BurnID:    "",
			Requested: count,
			Launched:  0,
			Failed:    failed,
			PIDs:      []int{},
			Message:   failedMessage,
		}
	}

	m.units = units
	m.burnID = burnID
	m.startedAt = m.now()

	pids := pidsOf(units)

	m.logger.Info(
		"burn started",
		zap.String("burnID", burnID),
		zap.Int("workers", len(units)),
		zap.Ints("pids", pids),
	)
	m.notify()

	message := startedMessage
	if failed > 0 {
		message = fmt.Sprintf(partialTemplate, len(units), count)
	}

	return StartResult{
		Status:    StatusStarted,
		BurnID:    burnID,
		Requested: count,
		Launched:  len(units),
		Failed:    failed,
		PIDs:      pids,
		Message:   message,
	}
}

// Stop kills every tracked worker, waits up to the grace period for them to exit and
// forgets all of them regardless of the outcome.
func (m *Manager) Stop() StopResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.units) == 0 {
		return StopResult{
			Status:      StatusNothingToStop,
			Stopped:     0,
			Unconfirmed: 0,
			Message:     nothingMessage,
		}
	}

	burnID := m.burnID

	var (
		signalled []Unit
		errs      error
	)

	for _, unit := range m.units {
		if !unit.Alive() {
			continue
		}

		err := unit.Terminate()
		if err != nil {
			errs = multierr.Append(errs, err)

			continue
		}

		signalled = append(signalled, unit)
	}

	deadline := m.now().Add(m.gracePeriod)
	unconfirmed := 0

	for _, unit := range signalled {
		if !unit.AwaitExit(deadline.Sub(m.now())) {
			unconfirmed++

			m.logger.Warn(
				"burn worker did not exit within grace period",
				zap.String("burnID", burnID),
				zap.Int("pid", unit.PID()),
				zap.Duration("gracePeriod", m.gracePeriod),
			)
		}
	}

	if errs != nil {
		m.logger.Warn(
			"failed to signal burn workers",
			zap.String("burnID", burnID),
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
	}

	m.reset()
	m.notify()

	m.logger.Info(
		"burn stopped",
		zap.String("burnID", burnID),
		zap.Int("stopped", len(signalled)),
		zap.Int("unconfirmed", unconfirmed),
	)

	return StopResult{
		Status:      StatusStopped,
		Stopped:     len(signalled),
		Unconfirmed: unconfirmed,
		Message:     stoppedMessage,
	}
}

// Snapshot reports the tracked workers without changing them.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	alive := aliveUnits(m.units)

	state := StateIdle
	if len(m.units) > 0 {
		state = StateBurning
	}

	return Snapshot{
		State:     state,
		BurnID:    m.burnID,
		StartedAt: m.startedAt,
		Tracked:   len(m.units),
		Alive:     len(alive),
		PIDs:      pidsOf(alive),
	}
}

// Shutdown stops any running burn. It is intended for service exit.
func (m *Manager) Shutdown() {
	result := m.Stop()
	if result.Status == StatusStopped {
		m.logger.Info("burn workers cleaned up on shutdown", zap.Int("stopped", result.Stopped))
	}
}

func (m *Manager) normaliseCount(requested int) int {
	if requested <= 0 {
		return m.defaultWorkers
	}

	if requested > m.maxWorkers {
		return m.maxWorkers
	}

	return requested
}

func (m *Manager) reset() {
	m.units = nil
	m.burnID = ""
	m.startedAt = time.Time{}
}

func (m *Manager) notify() {
	if m.observer != nil {
		m.observer(len(m.units))
	}
}

func aliveUnits(units []Unit) []Unit {
	alive := make([]Unit, 0, len(units))

	for _, unit := range units {
		if unit.Alive() {
			alive = append(alive, unit)
		}
	}

	return alive
}

func pidsOf(units []Unit) []int {
	pids := make([]int, 0, len(units))

	for _, unit := range units {
		pids = append(pids, unit.PID())
	}

	return pids
}
