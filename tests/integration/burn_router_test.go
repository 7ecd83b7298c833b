//go:build integration && unix

// Package integration exercises the HTTP router against real burn worker processes.
package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cpu-chaos-lab/internal/e2eclient"
	"cpu-chaos-lab/pkg/burn"
	"cpu-chaos-lab/pkg/http/api"
	metricshttp "cpu-chaos-lab/pkg/http/metrics"
	"cpu-chaos-lab/pkg/shape"
	interne2e "cpu-chaos-lab/tests/internal/e2e"
)

type startPayload struct {
	Status    string `json:"status"`
	Processes int    `json:"processes"`
	PIDs      []int  `json:"pids"`
}

type stopPayload struct {
	Status           string `json:"status"`
	ProcessesStopped int    `json:"processes_stopped"`
}

func TestRouterDrivesRealWorkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	binary := interne2e.BuildChaosLabBinary(t, interne2e.RepositoryRoot(t))

	core, observed := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	processLauncher, err := burn.NewProcessLauncher(burn.WithCommand(binary, burn.WorkerFlag))
	if err != nil {
		t.Fatalf("build launcher: %v", err)
	}

	exporter := metricshttp.NewExporter()

	manager, err := burn.NewManager(
		e2eclient.NewLoggingLauncher(logger, processLauncher),
		burn.WithLogger(logger),
		burn.WithObserver(exporter.SetBurnWorkers),
	)
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}

	t.Cleanup(manager.Shutdown)

	pool, err := shape.NewPool(1, shape.DefaultQuantum)
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}

	router, err := api.NewRouter(api.Options{
		Logger:   logger,
		Burn:     manager,
		Pool:     pool,
		Recorder: exporter,
		Metrics:  exporter,
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := interne2e.NewClient(server.URL)

	var started startPayload
	if err := client.GetJSON(ctx, "/burn-start?workers=2", &started); err != nil {
		t.Fatalf("burn start: %v", err)
	}

	if started.Status != burn.StatusStarted || len(started.PIDs) != 2 {
		t.Fatalf("expected two workers, got %+v", started)
	}

	for _, pid := range started.PIDs {
		if !interne2e.ProcessExists(pid) {
			t.Fatalf("worker %d is not running", pid)
		}
	}

	metrics, err := client.Get(ctx, "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	if !strings.Contains(string(metrics), "chaoslab_burn_workers_active 2") {
		t.Fatalf("expected burn gauge at 2\n%s", metrics)
	}

	var stopped stopPayload
	if err := client.GetJSON(ctx, "/burn-stop", &stopped); err != nil {
		t.Fatalf("burn stop: %v", err)
	}

	if stopped.Status != burn.StatusStopped || stopped.ProcessesStopped != 2 {
		t.Fatalf("expected two stopped workers, got %+v", stopped)
	}

	for _, pid := range started.PIDs {
		if !interne2e.WaitProcessGone(pid, 5*time.Second) {
			t.Fatalf("worker %d survived stop", pid)
		}
	}

	if launched := observed.FilterMessage("e2e burn worker launched").Len(); launched != 2 {
		t.Fatalf("expected 2 launch logs, got %d", launched)
	}

	if terminated := observed.FilterMessage("e2e burn worker terminated").Len(); terminated != 2 {
		t.Fatalf("expected 2 termination logs, got %d", terminated)
	}
}
