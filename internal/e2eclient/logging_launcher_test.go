//nolint:testpackage // white-box tests exercise internal seams for coverage.
package e2eclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cpu-chaos-lab/pkg/burn"
)

var errLaunch = errors.New("launch refused")

type stubUnit struct {
	pid   int
	alive bool
}

func (u *stubUnit) PID() int                     { return u.pid }
func (u *stubUnit) Alive() bool                  { return u.alive }
func (u *stubUnit) AwaitExit(time.Duration) bool { return !u.alive }
func (u *stubUnit) StartedAt() time.Time         { return time.Unix(0, 0) }

func (u *stubUnit) Terminate() error {
	u.alive = false

	return nil
}

type stubLauncher struct {
	err error
}

//nolint:ireturn // stub satisfies burn.Launcher
func (l stubLauncher) Launch(context.Context) (burn.Unit, error) {
	if l.err != nil {
		return nil, l.err
	}

	return &stubUnit{pid: 321, alive: true}, nil
}

func TestNewLoggingLauncherReturnsDelegateWhenMissingInputs(t *testing.T) {
	t.Parallel()

	if got := NewLoggingLauncher(nil, nil); got != nil {
		t.Fatalf("expected nil launcher, got %v", got)
	}

	delegate := stubLauncher{}
	if got := NewLoggingLauncher(nil, delegate); got != delegate {
		t.Fatal("expected delegate to be returned unchanged")
	}
}

func TestLoggingLauncherLogsLifecycle(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	launcher := NewLoggingLauncher(zap.New(core), stubLauncher{})

	unit, err := launcher.Launch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if unit.PID() != 321 || !unit.Alive() {
		t.Fatalf("expected live unit with pid 321, got pid %d", unit.PID())
	}

	err = unit.Terminate()
	if err != nil {
		t.Fatalf("unexpected terminate error: %v", err)
	}

	if !unit.AwaitExit(time.Millisecond) {
		t.Fatal("expected unit to report exit")
	}

	for _, message := range []string{"e2e burn worker launched", "e2e burn worker terminated"} {
		if logs.FilterMessage(message).Len() != 1 {
			t.Fatalf("expected one %q entry, got %d", message, logs.FilterMessage(message).Len())
		}
	}
}

func TestLoggingLauncherPassesThroughErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	launcher := NewLoggingLauncher(zap.New(core), stubLauncher{err: errLaunch})

	_, err := launcher.Launch(context.Background())
	if !errors.Is(err, errLaunch) {
		t.Fatalf("expected errLaunch, got %v", err)
	}

	if logs.FilterMessage("e2e burn worker launch failed").Len() != 1 {
		t.Fatal("expected launch failure to be logged")
	}
}
