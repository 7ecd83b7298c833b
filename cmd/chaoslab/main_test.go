package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"cpu-chaos-lab/internal/buildinfo"
	"cpu-chaos-lab/pkg/burn"
	"cpu-chaos-lab/pkg/est"
)

var (
	errConfigUnavailable = errors.New("config unavailable")
	errPortTaken         = errors.New("address already in use")
)

type fakeUnit struct {
	pid   int
	alive atomic.Bool
}

func (u *fakeUnit) PID() int                     { return u.pid }
func (u *fakeUnit) Alive() bool                  { return u.alive.Load() }
func (u *fakeUnit) AwaitExit(time.Duration) bool { return !u.alive.Load() }
func (u *fakeUnit) StartedAt() time.Time         { return time.Unix(0, 0) }

func (u *fakeUnit) Terminate() error {
	u.alive.Store(false)

	return nil
}

type fakeLauncher struct {
	mu    sync.Mutex
	units []*fakeUnit
}

//nolint:ireturn // fake satisfies burn.Launcher
func (l *fakeLauncher) Launch(context.Context) (burn.Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	unit := &fakeUnit{pid: 7000 + len(l.units)}
	unit.alive.Store(true)
	l.units = append(l.units, unit)

	return unit, nil
}

func (l *fakeLauncher) aliveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0

	for _, unit := range l.units {
		if unit.Alive() {
			count++
		}
	}

	return count
}

type tickingSource struct {
	mu    sync.Mutex
	total uint64
}

func (s *tickingSource) Counters(context.Context) (est.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += 100

	return est.Counters{Idle: s.total / 2, Total: s.total}, nil
}

// mainHelperEnv turns the test binary into the real chaoslab entrypoint so
// signal handling can be exercised end to end.
const mainHelperEnv = "CHAOSLAB_MAIN_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(mainHelperEnv) == "1" {
		os.Args = append([]string{os.Args[0]}, strings.Fields(os.Getenv(mainHelperEnv+"_ARGS"))...)
		main()
		os.Exit(exitCodeSuccess)
	}

	os.Exit(m.Run())
}

func testDeps(launcher *fakeLauncher, addrs chan<- string) runDeps {
	return runDeps{
		newLogger: func(string) (*zap.Logger, error) { return zap.NewNop(), nil },
		loadConfig: func(string) (runtimeConfig, error) {
			cfg := defaultRuntimeConfig()
			cfg.Sampler.Interval = 10 * time.Millisecond
			cfg.Burn.GracePeriod = 50 * time.Millisecond
			cfg.CPU.Workers = 1

			return cfg, nil
		},
		currentBuildInfo: func() buildinfo.Info {
			return buildinfo.Info{Version: "test", GitCommit: "abc123", BuildDate: "today"}
		},
		newLauncher: func(*zap.Logger) (burn.Launcher, error) { return launcher, nil },
		newHostSource: func() est.Source { return new(tickingSource) },
		listen: func(string) (net.Listener, error) {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return nil, err
			}

			addrs <- listener.Addr().String()

			return listener, nil
		},
		resetSignals:  func() {},
		spin:          func() {},
		versionWriter: io.Discard,
	}
}

func TestParseArgsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != "/etc/cpu-chaos-lab/config.yaml" {
		t.Fatalf("expected default config path, got %q", opts.configPath)
	}

	if opts.logLevel != "info" {
		t.Fatalf("expected default log level, got %q", opts.logLevel)
	}

	if opts.burnWorker || opts.version {
		t.Fatalf("expected service mode by default, got %+v", opts)
	}
}

func TestParseArgsValidCustomizations(t *testing.T) {
	t.Parallel()

	args := []string{"--config", " ./testdata/config.yaml ", "--log-level", " debug "}

	opts, err := parseArgs(args)
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if opts.configPath != "./testdata/config.yaml" {
		t.Fatalf("unexpected config path: %q", opts.configPath)
	}

	if opts.logLevel != "debug" {
		t.Fatalf("unexpected log level: %q", opts.logLevel)
	}
}

func TestParseArgsRecognisesWorkerFlag(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{burn.WorkerFlag})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}

	if !opts.burnWorker {
		t.Fatal("expected burn worker mode")
	}
}

func TestParseArgsReturnsFlagError(t *testing.T) {
	t.Parallel()

	_, err := parseArgs([]string{"--unknown-flag"})
	if err == nil {
		t.Fatal("expected flag parsing error")
	}

	if !strings.Contains(err.Error(), "flag provided but not defined") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := newLogger("not-a-level")
	if !errors.Is(err, errInvalidLogLevel) {
		t.Fatalf("expected errInvalidLogLevel, got %v", err)
	}
}

func TestNewLoggerAppliesLevel(t *testing.T) {
	t.Parallel()

	logger, err := newLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		_ = logger.Sync()
	}()

	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected logger to enable debug level")
	}
}

func TestRunReturnsParseErrorCode(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	code := run(context.Background(), []string{"--bogus"}, testDeps(nil, nil), &stderr)
	if code != exitCodeParseError {
		t.Fatalf("expected exit code %d, got %d", exitCodeParseError, code)
	}

	if stderr.Len() == 0 {
		t.Fatal("expected parse error on stderr")
	}
}

func TestRunWorkerModeOnlySpins(t *testing.T) {
	t.Parallel()

	deps := testDeps(nil, nil)

	reset := false
	spun := false
	deps.resetSignals = func() { reset = true }
	deps.spin = func() {
		if !reset {
			t.Fatal("expected shutdown signals to be reset before spinning")
		}

		spun = true
	}
	deps.loadConfig = func(string) (runtimeConfig, error) {
		t.Fatal("worker mode must not load configuration")

		return runtimeConfig{}, nil
	}

	code := run(context.Background(), []string{burn.WorkerFlag}, deps, io.Discard)
	if code != exitCodeSuccess || !spun {
		t.Fatalf("expected worker to spin and exit cleanly, got code %d spun %v", code, spun)
	}
}

func TestRunPrintsVersion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	deps := testDeps(nil, nil)
	deps.versionWriter = &out

	code := run(context.Background(), []string{"--version"}, deps, io.Discard)
	if code != exitCodeSuccess {
		t.Fatalf("expected success, got %d", code)
	}

	if !strings.Contains(out.String(), "cpu-chaos-lab test (commit abc123") {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestRunReportsConfigError(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer

	deps := testDeps(nil, nil)
	deps.loadConfig = func(string) (runtimeConfig, error) { return runtimeConfig{}, errConfigUnavailable }

	code := run(context.Background(), nil, deps, &stderr)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected runtime error code, got %d", code)
	}

	if !strings.Contains(stderr.String(), "failed to load configuration") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestRunReportsListenError(t *testing.T) {
	t.Parallel()

	deps := testDeps(new(fakeLauncher), nil)
	deps.listen = func(string) (net.Listener, error) { return nil, errPortTaken }

	code := run(context.Background(), nil, deps, io.Discard)
	if code != exitCodeRuntimeError {
		t.Fatalf("expected runtime error code, got %d", code)
	}
}

func TestRunServesUntilCancelledAndStopsBurn(t *testing.T) {
	t.Parallel()

	launcher := new(fakeLauncher)
	addrs := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codes := make(chan int, 1)

	go func() {
		codes <- run(ctx, nil, testDeps(launcher, addrs), io.Discard)
	}()

	var base string

	select {
	case addr := <-addrs:
		base = "http://" + addr
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}

	if code := getStatus(t, base+"/health"); code != http.StatusOK {
		t.Fatalf("expected healthy service, got %d", code)
	}

	var started struct {
		Status    string `json:"status"`
		Processes int    `json:"processes"`
	}

	getJSON(t, base+"/burn-start?workers=3", &started)

	if started.Status != burn.StatusStarted || started.Processes != 3 {
		t.Fatalf("unexpected burn start: %+v", started)
	}

	if launcher.aliveCount() != 3 {
		t.Fatalf("expected 3 live workers, got %d", launcher.aliveCount())
	}

	body := getBody(t, base+"/metrics")
	if !strings.Contains(body, "chaoslab_burn_workers_active 3") {
		t.Fatalf("expected burn gauge in metrics output:\n%s", body)
	}

	cancel()

	select {
	case code := <-codes:
		if code != exitCodeSuccess {
			t.Fatalf("expected clean shutdown, got %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	if launcher.aliveCount() != 0 {
		t.Fatalf("expected shutdown to stop every worker, %d still alive", launcher.aliveCount())
	}
}

func getStatus(t *testing.T, url string) int {
	t.Helper()

	response, err := http.Get(url) //nolint:gosec,noctx // loopback test server
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}

	_ = response.Body.Close()

	return response.StatusCode
}

func getBody(t *testing.T, url string) string {
	t.Helper()

	response, err := http.Get(url) //nolint:gosec,noctx // loopback test server
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}

	return string(data)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	err := json.Unmarshal([]byte(getBody(t, url)), out)
	if err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
