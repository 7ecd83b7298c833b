//go:build !e2e

package main

import (
	"os"

	"cpu-chaos-lab/internal/buildinfo"
	"cpu-chaos-lab/pkg/burn"
)

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:        newLogger,
		loadConfig:       loadConfig,
		currentBuildInfo: buildinfo.Current,
		newLauncher:      newProcessLauncher,
		newHostSource:    procStatSource,
		listen:           listenTCP,
		resetSignals:     resetShutdownSignals,
		spin:             burn.Spin,
		versionWriter:    os.Stdout,
	}
}
