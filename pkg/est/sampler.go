// Package est estimates host CPU utilisation from /proc/stat counter deltas.
package est

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is used when a zero or negative interval is supplied.
const DefaultInterval = time.Second

const (
	defaultStatPath = "/proc/stat"
	minCPUFields    = 5
	idleColumn      = 3
	ioWaitColumn    = 4
)

var (
	ErrUnexpectedProcStatFormat = errors.New("est: unexpected /proc/stat format")
	ErrProcStatTooShort         = errors.New("est: /proc/stat cpu line too short")
	errSamplerRunning           = errors.New("est: sampler already running")
)

// Counters are cumulative idle and total jiffies across all CPUs.
type Counters struct {
	Idle  uint64
	Total uint64
}

// Source returns cumulative CPU counters.
type Source interface {
	Counters(ctx context.Context) (Counters, error)
}

// ProcStat reads counters from a /proc/stat formatted file.
type ProcStat struct {
	Path string
}

// Counters implements Source.
func (p ProcStat) Counters(ctx context.Context) (Counters, error) {
	err := ctx.Err()
	if err != nil {
		return Counters{}, fmt.Errorf("read cpu counters: %w", err)
	}

	path := p.Path
	if path == "" {
		path = defaultStatPath
	}

	file, err := os.Open(path)
	if err != nil {
		return Counters{}, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	counters, err := parseCPULine(file)
	if err != nil {
		return Counters{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return counters, nil
}

// Reading is a utilisation ratio in [0,1] measured between two counter samples.
type Reading struct {
	At          time.Time
	Utilisation float64
}

// Sampler periodically converts counter deltas into readings and keeps the latest one.
type Sampler struct {
	source   Source
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	latest  Reading
	hasData bool
	lastErr error
	running bool
}

// NewSampler constructs a Sampler. A nil source reads /proc/stat.
func NewSampler(source Source, interval time.Duration) *Sampler {
	if source == nil {
		source = ProcStat{Path: ""}
	}

	if interval <= 0 {
		interval = DefaultInterval
	}

	sampler := new(Sampler)
	sampler.source = source
	sampler.interval = interval
	sampler.now = time.Now

	return sampler
}

// Run samples until ctx is cancelled, invoking onReading for every successful reading.
// Sampling errors are retained for LastError and do not stop the loop.
func (s *Sampler) Run(ctx context.Context, onReading func(Reading)) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()

		return errSamplerRunning
	}

	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	previous, err := s.source.Counters(ctx)
	if err != nil {
		s.recordErr(err)

		return fmt.Errorf("initial cpu sample: %w", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, sampleErr := s.source.Counters(ctx)
			if sampleErr != nil {
				s.recordErr(sampleErr)

				continue
			}

			reading := Reading{At: s.now(), Utilisation: utilisation(previous, current)}
			previous = current

			s.mu.Lock()
			s.latest = reading
			s.hasData = true
			s.lastErr = nil
			s.mu.Unlock()

			if onReading != nil {
				onReading(reading)
			}
		}
	}
}

// Latest returns the most recent reading and whether one exists.
func (s *Sampler) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest, s.hasData
}

// LastError returns the most recent sampling failure, cleared by the next success.
func (s *Sampler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr
}

func (s *Sampler) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func utilisation(previous, current Counters) float64 {
	// Counters going backwards means a reset; report idle rather than garbage.
	if current.Total <= previous.Total || current.Idle < previous.Idle {
		return 0
	}

	total := current.Total - previous.Total
	idle := current.Idle - previous.Idle

	if idle >= total {
		return 0
	}

	return float64(total-idle) / float64(total)
}

func parseCPULine(r io.Reader) (Counters, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		err := scanner.Err()
		if err != nil {
			return Counters{}, fmt.Errorf("scan cpu line: %w", err)
		}

		return Counters{}, io.EOF
	}

	line := scanner.Text()
	if !strings.HasPrefix(line, "cpu ") {
		return Counters{}, fmt.Errorf("%w: %q", ErrUnexpectedProcStatFormat, line)
	}

	fields := strings.Fields(line)[1:]
	if len(fields) < minCPUFields-1 {
		return Counters{}, fmt.Errorf("%w: %q", ErrProcStatTooShort, line)
	}

	var counters Counters

	for column, field := range fields {
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse column %d: %w", column+1, err)
		}

		counters.Total += value

		if column == idleColumn || column == ioWaitColumn {
			counters.Idle += value
		}
	}

	return counters, nil
}
