package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cpu-chaos-lab/pkg/burn"
	"cpu-chaos-lab/pkg/shape"
)

const (
	envHTTPBind        = "HTTP_ADDR"
	envPort            = "PORT"
	envAllowedOrigins  = "CHAOS_ALLOWED_ORIGINS"
	envBurnWorkers     = "CHAOS_BURN_WORKERS"
	envBurnMaxWorkers  = "CHAOS_BURN_MAX_WORKERS"
	envBurnGrace       = "CHAOS_BURN_GRACE"
	envSamplerInterval = "CHAOS_SAMPLER_INTERVAL"
	envCPUWorkers      = "CHAOS_CPU_WORKERS"

	defaultBind            = ":8000"
	defaultShutdownTimeout = 10 * time.Second
	defaultSamplerInterval = time.Second
	defaultCPUMaxSeconds   = 300
)

type runtimeConfig struct {
	HTTP    httpConfig
	Burn    burnConfig
	Sampler samplerConfig
	CPU     cpuConfig
}

type httpConfig struct {
	Bind            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type burnConfig struct {
	DefaultWorkers int
	MaxWorkers     int
	GracePeriod    time.Duration
}

type samplerConfig struct {
	Interval time.Duration
}

type cpuConfig struct {
	Workers    int
	Quantum    time.Duration
	MaxSeconds int
}

type fileConfig struct {
	HTTP    httpFileConfig    `yaml:"http"`
	Burn    burnFileConfig    `yaml:"burn"`
	Sampler samplerFileConfig `yaml:"sampler"`
	CPU     cpuFileConfig     `yaml:"cpu"`
}

type httpFileConfig struct {
	Bind            *string        `yaml:"bind"`
	AllowedOrigins  []string       `yaml:"allowedOrigins"`
	ShutdownTimeout *time.Duration `yaml:"shutdownTimeout"`
}

type burnFileConfig struct {
	DefaultWorkers *int           `yaml:"defaultWorkers"`
	MaxWorkers     *int           `yaml:"maxWorkers"`
	GracePeriod    *time.Duration `yaml:"gracePeriod"`
}

type samplerFileConfig struct {
	Interval *time.Duration `yaml:"interval"`
}

type cpuFileConfig struct {
	Workers    *int           `yaml:"workers"`
	Quantum    *time.Duration `yaml:"quantum"`
	MaxSeconds *int           `yaml:"maxSeconds"`
}

func defaultRuntimeConfig() runtimeConfig {
	var cfg runtimeConfig

	cfg.HTTP.Bind = defaultBind
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.HTTP.ShutdownTimeout = defaultShutdownTimeout

	cfg.Burn.DefaultWorkers = burn.DefaultWorkers
	cfg.Burn.MaxWorkers = burn.DefaultMaxWorkers
	cfg.Burn.GracePeriod = burn.DefaultGracePeriod

	cfg.Sampler.Interval = defaultSamplerInterval

	cfg.CPU.Workers = max(runtime.NumCPU(), 1)
	cfg.CPU.Quantum = shape.DefaultQuantum
	cfg.CPU.MaxSeconds = defaultCPUMaxSeconds

	return cfg
}

func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		err := yaml.Unmarshal(data, &fileCfg)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		mergeHTTPConfig(&cfg.HTTP, fileCfg.HTTP)
		mergeBurnConfig(&cfg.Burn, fileCfg.Burn)
		assignDuration(&cfg.Sampler.Interval, fileCfg.Sampler.Interval)
		mergeCPUConfig(&cfg.CPU, fileCfg.CPU)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeHTTPConfig(dst *httpConfig, src httpFileConfig) {
	assignString(&dst.Bind, src.Bind)
	assignDuration(&dst.ShutdownTimeout, src.ShutdownTimeout)

	if origins := cleanList(src.AllowedOrigins); len(origins) > 0 {
		dst.AllowedOrigins = origins
	}
}

func mergeBurnConfig(dst *burnConfig, src burnFileConfig) {
	assignInt(&dst.DefaultWorkers, src.DefaultWorkers)
	assignInt(&dst.MaxWorkers, src.MaxWorkers)
	assignDuration(&dst.GracePeriod, src.GracePeriod)
}

func mergeCPUConfig(dst *cpuConfig, src cpuFileConfig) {
	assignInt(&dst.Workers, src.Workers)
	assignDuration(&dst.Quantum, src.Quantum)
	assignInt(&dst.MaxSeconds, src.MaxSeconds)
}

func applyEnvOverrides(cfg *runtimeConfig) {
	if port, ok := lookupEnv(envPort); ok && strings.TrimSpace(port) != "" {
		cfg.HTTP.Bind = net.JoinHostPort("", strings.TrimSpace(port))
	}

	cfg.HTTP.Bind = envString(envHTTPBind, cfg.HTTP.Bind)
	cfg.Burn.DefaultWorkers = envInt(envBurnWorkers, cfg.Burn.DefaultWorkers)
	cfg.Burn.MaxWorkers = envInt(envBurnMaxWorkers, cfg.Burn.MaxWorkers)
	cfg.Burn.GracePeriod = envDuration(envBurnGrace, cfg.Burn.GracePeriod)
	cfg.Sampler.Interval = envDuration(envSamplerInterval, cfg.Sampler.Interval)
	cfg.CPU.Workers = envInt(envCPUWorkers, cfg.CPU.Workers)

	if origins, ok := lookupEnv(envAllowedOrigins); ok {
		if parsed := cleanList(strings.Split(origins, ",")); len(parsed) > 0 {
			cfg.HTTP.AllowedOrigins = parsed
		}
	}

	resetInvalid(cfg)
}

func resetInvalid(cfg *runtimeConfig) {
	defaults := defaultRuntimeConfig()

	if strings.TrimSpace(cfg.HTTP.Bind) == "" {
		cfg.HTTP.Bind = defaults.HTTP.Bind
	}

	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = defaults.HTTP.ShutdownTimeout
	}

	if cfg.Burn.MaxWorkers <= 0 {
		cfg.Burn.MaxWorkers = defaults.Burn.MaxWorkers
	}

	if cfg.Burn.DefaultWorkers <= 0 {
		cfg.Burn.DefaultWorkers = defaults.Burn.DefaultWorkers
	}

	cfg.Burn.DefaultWorkers = min(cfg.Burn.DefaultWorkers, cfg.Burn.MaxWorkers)

	if cfg.Burn.GracePeriod <= 0 {
		cfg.Burn.GracePeriod = defaults.Burn.GracePeriod
	}

	if cfg.Sampler.Interval <= 0 {
		cfg.Sampler.Interval = defaults.Sampler.Interval
	}

	if cfg.CPU.Workers <= 0 {
		cfg.CPU.Workers = defaults.CPU.Workers
	}

	if cfg.CPU.Quantum <= 0 {
		cfg.CPU.Quantum = defaults.CPU.Quantum
	}

	if cfg.CPU.MaxSeconds <= 0 {
		cfg.CPU.MaxSeconds = defaults.CPU.MaxSeconds
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))

	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	return cleaned
}

func assignDuration(target *time.Duration, value *time.Duration) {
	if value != nil {
		*target = *value
	}
}

func assignInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	duration, err := time.ParseDuration(trimmed)
	if err != nil {
		return fallback
	}

	return duration
}

func envInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}
