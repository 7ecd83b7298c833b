package burn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Unit is a running burn worker that can be observed and killed from the outside.
type Unit interface {
	// PID returns the operating system process identifier.
	PID() int
	// Alive reports whether the worker has not yet been reaped.
	Alive() bool
	// Terminate forcefully kills the worker. It does not wait for exit.
	Terminate() error
	// AwaitExit blocks until the worker exits or the timeout elapses and reports whether it exited.
	AwaitExit(timeout time.Duration) bool
	// StartedAt returns when the worker was launched.
	StartedAt() time.Time
}

// Launcher creates burn workers.
type Launcher interface {
	Launch(ctx context.Context) (Unit, error)
}

var errNoExecutable = errors.New("burn: worker executable is not configured")

// ProcessLauncher starts burn workers as child processes by re-executing a binary in worker mode.
type ProcessLauncher struct {
	path string
	args []string
	env  []string
	now  func() time.Time
}

// LauncherOption customises a ProcessLauncher.
type LauncherOption func(*ProcessLauncher)

// WithCommand overrides the executable and arguments used for each worker.
func WithCommand(path string, args ...string) LauncherOption {
	return func(l *ProcessLauncher) {
		l.path = path
		l.args = append([]string(nil), args...)
	}
}

// WithEnv sets the environment handed to each worker. A nil slice inherits the parent's environment.
func WithEnv(env []string) LauncherOption {
	return func(l *ProcessLauncher) {
		l.env = append([]string(nil), env...)
	}
}

// NewProcessLauncher returns a launcher that re-executes the running binary with WorkerFlag
// unless WithCommand says otherwise.
func NewProcessLauncher(opts ...LauncherOption) (*ProcessLauncher, error) {
	launcher := new(ProcessLauncher)
	launcher.now = time.Now

	for _, opt := range opts {
		opt(launcher)
	}

	if launcher.path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own executable: %w", err)
		}

		launcher.path = self
		launcher.args = []string{WorkerFlag}
	}

	return launcher, nil
}

// Launch starts one worker process. The context only gates the launch; the worker outlives it.
func (l *ProcessLauncher) Launch(ctx context.Context) (Unit, error) {
	if l == nil || l.path == "" {
		return nil, errNoExecutable
	}

	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("launch burn worker: %w", err)
	}

	//nolint:gosec // path is the service's own binary or a test-supplied helper.
	cmd := exec.Command(l.path, l.args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if l.env != nil {
		cmd.Env = l.env
	}

	bindToParent(cmd)

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("start burn worker: %w", err)
	}

	proc := &process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: l.now(),
		done:    make(chan struct{}),
	}

	go proc.reap()

	return proc, nil
}

type process struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time

	done chan struct{}
}

// reap collects the exit status so killed workers do not linger as zombies.
func (p *process) reap() {
	_ = p.cmd.Wait()

	close(p.done)
}

func (p *process) PID() int { return p.pid }

func (p *process) StartedAt() time.Time { return p.started }

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) Terminate() error {
	if !p.Alive() {
		return nil
	}

	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill burn worker %d: %w", p.pid, err)
	}

	return nil
}

func (p *process) AwaitExit(timeout time.Duration) bool {
	if timeout <= 0 {
		return !p.Alive()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}
