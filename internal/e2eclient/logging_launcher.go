// Package e2eclient holds decorators that make the service observable to end-to-end tests.
package e2eclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cpu-chaos-lab/pkg/burn"
)

type loggingLauncher struct {
	logger   *zap.Logger
	delegate burn.Launcher
}

// NewLoggingLauncher decorates delegate so every launched and terminated worker is logged
// with its pid. End-to-end tests read those lines from the service's stderr.
//
//nolint:ireturn // decorator preserves the Launcher surface
func NewLoggingLauncher(logger *zap.Logger, delegate burn.Launcher) burn.Launcher {
	if logger == nil || delegate == nil {
		return delegate
	}

	return &loggingLauncher{logger: logger, delegate: delegate}
}

//nolint:ireturn // decorator preserves the Unit surface
func (l *loggingLauncher) Launch(ctx context.Context) (burn.Unit, error) {
	unit, err := l.delegate.Launch(ctx)
	if err != nil {
		l.logger.Info("e2e burn worker launch failed", zap.Error(err))

		return nil, err //nolint:wrapcheck // decorator is transparent
	}

	l.logger.Info("e2e burn worker launched", zap.Int("pid", unit.PID()))

	return &loggingUnit{Unit: unit, logger: l.logger}, nil
}

type loggingUnit struct {
	burn.Unit

	logger *zap.Logger
}

func (u *loggingUnit) Terminate() error {
	err := u.Unit.Terminate()

	u.logger.Info("e2e burn worker terminated", zap.Int("pid", u.PID()), zap.Error(err))

	return err //nolint:wrapcheck // decorator is transparent
}

func (u *loggingUnit) AwaitExit(timeout time.Duration) bool {
	exited := u.Unit.AwaitExit(timeout)
	if !exited {
		u.logger.Info("e2e burn worker still running", zap.Int("pid", u.PID()))
	}

	return exited
}
