//go:build e2e

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"cpu-chaos-lab/internal/buildinfo"
	"cpu-chaos-lab/internal/e2eclient"
	"cpu-chaos-lab/pkg/burn"
)

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:        newLogger,
		loadConfig:       loadConfig,
		currentBuildInfo: buildinfo.Current,
		newLauncher: func(logger *zap.Logger) (burn.Launcher, error) {
			launcher, err := newProcessLauncher(logger)
			if err != nil {
				return nil, fmt.Errorf("e2e launcher: %w", err)
			}

			return e2eclient.NewLoggingLauncher(logger.Named("e2e"), launcher), nil
		},
		newHostSource: procStatSource,
		listen:        listenTCP,
		resetSignals:  resetShutdownSignals,
		spin:          burn.Spin,
		versionWriter: os.Stdout,
	}
}
