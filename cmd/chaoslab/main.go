// Package main wires the chaos lab HTTP service and its burn worker mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cpu-chaos-lab/internal/buildinfo"
	"cpu-chaos-lab/pkg/burn"
	"cpu-chaos-lab/pkg/est"
	"cpu-chaos-lab/pkg/http/api"
	metricshttp "cpu-chaos-lab/pkg/http/metrics"
	"cpu-chaos-lab/pkg/http/status"
	"cpu-chaos-lab/pkg/shape"
)

const (
	defaultConfigPath = "/etc/cpu-chaos-lab/config.yaml"
	defaultLogLevel   = "info"

	readHeaderTimeout = 10 * time.Second

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM} //nolint:gochecknoglobals // shared with resetShutdownSignals

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)

	code := run(ctx, os.Args[1:], defaultRunDeps(), os.Stderr)

	stop()

	if code != 0 {
		exitProcess(code)
	}
}

var exitProcess = os.Exit //nolint:gochecknoglobals // replaceable for tests

type runDeps struct {
	newLogger        func(level string) (*zap.Logger, error)
	loadConfig       func(path string) (runtimeConfig, error)
	currentBuildInfo func() buildinfo.Info
	newLauncher      func(logger *zap.Logger) (burn.Launcher, error)
	newHostSource    func() est.Source
	listen           func(addr string) (net.Listener, error)
	resetSignals     func()
	spin             func()
	versionWriter    io.Writer
}

var (
	errInvalidLogLevel = errors.New("invalid log level")
	errServe           = errors.New("http server stopped unexpectedly")
)

func run(ctx context.Context, args []string, deps runDeps, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		return writeError(stderr, err, exitCodeParseError)
	}

	if opts.burnWorker {
		// Workers must die on SIGINT/SIGTERM like any plain process.
		deps.resetSignals()
		deps.spin()

		return exitCodeSuccess
	}

	info := deps.currentBuildInfo()

	if opts.version {
		_, _ = fmt.Fprintln(deps.versionWriter, info.String())

		return exitCodeSuccess
	}

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		return writeError(
			stderr,
			fmt.Errorf("failed to load configuration: %w", err),
			exitCodeRuntimeError,
		)
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		return writeError(
			stderr,
			fmt.Errorf("failed to configure logger: %w", err),
			exitCodeRuntimeError,
		)
	}

	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(
		"starting cpu-chaos-lab",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("configPath", opts.configPath),
		zap.String("bind", cfg.HTTP.Bind),
	)

	runErr := serve(ctx, cfg, deps, logger, info)
	if runErr != nil {
		logger.Error("service failed", zap.Error(runErr))

		return exitCodeRuntimeError
	}

	logger.Info("shutdown complete")

	return exitCodeSuccess
}

// serve blocks until ctx is cancelled or the listener fails, then drains HTTP traffic,
// stops any burn in progress and halts the host sampler, in that order.
func serve(
	ctx context.Context,
	cfg runtimeConfig,
	deps runDeps,
	logger *zap.Logger,
	info buildinfo.Info,
) error {
	exporter := metricshttp.NewExporter()
	exporter.SetBuildInfo(info.Version, info.GitCommit)

	launcher, err := deps.newLauncher(logger)
	if err != nil {
		return fmt.Errorf("build burn launcher: %w", err)
	}

	manager, err := burn.NewManager(
		launcher,
		burn.WithLogger(logger.Named("burn")),
		burn.WithDefaultWorkers(cfg.Burn.DefaultWorkers),
		burn.WithMaxWorkers(cfg.Burn.MaxWorkers),
		burn.WithGracePeriod(cfg.Burn.GracePeriod),
		burn.WithObserver(exporter.SetBurnWorkers),
	)
	if err != nil {
		return fmt.Errorf("build burn manager: %w", err)
	}

	pool, err := shape.NewPool(cfg.CPU.Workers, cfg.CPU.Quantum)
	if err != nil {
		return fmt.Errorf("build cpu pool: %w", err)
	}

	sampler := est.NewSampler(deps.newHostSource(), cfg.Sampler.Interval)

	router, err := api.NewRouter(api.Options{
		Logger:         logger.Named("http"),
		Burn:           manager,
		Pool:           pool,
		HostCPU:        sampler,
		Recorder:       exporter,
		Metrics:        exporter,
		Build:          info,
		AppName:        status.AppName,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxCPUSeconds:  cfg.CPU.MaxSeconds,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	listener, err := deps.listen(cfg.HTTP.Bind)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", cfg.HTTP.Bind, err)
	}

	samplerCtx, stopSampler := context.WithCancel(context.WithoutCancel(ctx))
	samplerDone := startSampler(samplerCtx, sampler, exporter, logger)

	defer func() {
		stopSampler()
		<-samplerDone
	}()

	server := &http.Server{ //nolint:exhaustruct // defaults are fine for the remaining fields
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger.Info("listening", zap.String("addr", listener.Addr().String()))

	var result error

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			result = fmt.Errorf("%w: %w", errServe, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logger.Warn("http shutdown did not drain in time", zap.Error(shutdownErr))

		_ = server.Close()
	}

	manager.Shutdown()

	return result
}

func startSampler(
	ctx context.Context,
	sampler *est.Sampler,
	exporter *metricshttp.Exporter,
	logger *zap.Logger,
) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		err := sampler.Run(ctx, func(reading est.Reading) {
			exporter.ObserveHostCPU(reading.Utilisation)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("host cpu sampler stopped", zap.Error(err))
		}
	}()

	return done
}

func writeError(dst io.Writer, err error, code int) int {
	if err == nil {
		return code
	}

	_, _ = fmt.Fprintf(dst, "%v\n", err)

	return code
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	err := cfg.Level.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

func resetShutdownSignals() {
	signal.Reset(shutdownSignals...)
}

//nolint:ireturn // the manager only needs the Launcher surface
func newProcessLauncher(*zap.Logger) (burn.Launcher, error) {
	launcher, err := burn.NewProcessLauncher()
	if err != nil {
		return nil, fmt.Errorf("resolve burn worker executable: %w", err)
	}

	return launcher, nil
}

//nolint:ireturn // sampler accepts any counter source
func procStatSource() est.Source {
	return est.ProcStat{Path: ""}
}

func listenTCP(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	return listener, nil
}

type options struct {
	configPath string
	logLevel   string
	burnWorker bool
	version    bool
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("chaoslab", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(
		&opts.configPath,
		"config",
		defaultConfigPath,
		"Path to the service configuration file",
	)
	flagSet.StringVar(
		&opts.logLevel,
		"log-level",
		defaultLogLevel,
		"Structured log level (debug, info, warn, error)",
	)
	flagSet.BoolVar(
		&opts.burnWorker,
		strings.TrimPrefix(burn.WorkerFlag, "--"),
		false,
		"Run as a burn worker and spin until killed",
	)
	flagSet.BoolVar(&opts.version, "version", false, "Print build information and exit")

	err := flagSet.Parse(args)
	if err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}

	return opts, nil
}
