package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cpu-chaos-lab/pkg/shape"
	"cpu-chaos-lab/pkg/workload"
)

const (
	defaultCPUSeconds = 10
	defaultCPUTarget  = 1.0
	timestampLayout   = time.RFC3339Nano
)

//go:embed index.html
var indexPage []byte

var errInvalidParam = errors.New("invalid query parameter")

type piResponse struct {
	Pi             float64 `json:"pi"`
	Iterations     int     `json:"iterations"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type primesResponse struct {
	Count          int     `json:"count"`
	Largest        *int    `json:"largest"`
	First10        []int   `json:"first_10"`
	Last10         []int   `json:"last_10"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type hashResponse struct {
	Rounds         int     `json:"rounds"`
	FinalHash      string  `json:"final_hash"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type fibonacciResponse struct {
	N              int     `json:"n"`
	Result         int     `json:"result"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type matrixResponse struct {
	Size           string  `json:"size"`
	SampleValue    float64 `json:"sample_value"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type cpuResponse struct {
	Message        string  `json:"message"`
	Workers        int     `json:"workers"`
	Target         float64 `json:"target"`
	Seconds        int     `json:"seconds"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	BusySeconds    float64 `json:"busy_seconds"`
	Timestamp      string  `json:"timestamp"`
}

type burnStartResponse struct {
	Status    string `json:"status"`
	Processes int    `json:"processes"`
	PIDs      []int  `json:"pids"`
	Message   string `json:"message"`
	BurnID    string `json:"burn_id,omitempty"`
	Failed    int    `json:"failed,omitempty"`
}

type burnStopResponse struct {
	Status           string `json:"status"`
	ProcessesStopped int    `json:"processes_stopped"`
	Message          string `json:"message"`
	Unconfirmed      int    `json:"unconfirmed,omitempty"`
}

type burnState struct {
	State     string `json:"state"`
	BurnID    string `json:"burn_id,omitempty"`
	Alive     int    `json:"alive"`
	PIDs      []int  `json:"pids"`
	StartedAt string `json:"started_at,omitempty"`
}

type infoResponse struct {
	Hostname       string    `json:"hostname"`
	PID            int       `json:"pid"`
	CPUCount       int       `json:"cpu_count"`
	GOOS           string    `json:"goos"`
	GOARCH         string    `json:"goarch"`
	GoVersion      string    `json:"go_version"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildDate      string    `json:"build_date"`
	HostCPUPercent *float64  `json:"host_cpu_percent"`
	Burn           burnState `json:"burn"`
	Timestamp      string    `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleIndex(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = writer.Write(indexPage)
}

func (s *server) handlePi(writer http.ResponseWriter, request *http.Request) {
	iterations, ok := s.intParam(writer, request, "iterations", workload.DefaultPiIterations)
	if !ok {
		return
	}

	result := workload.Pi(iterations)
	s.observeWorkload("pi", result.Elapsed)

	s.writeJSON(writer, http.StatusOK, piResponse{
		Pi:             result.Pi,
		Iterations:     result.Iterations,
		ElapsedSeconds: seconds(result.Elapsed),
	})
}

func (s *server) handlePrimes(writer http.ResponseWriter, request *http.Request) {
	limit, ok := s.intParam(writer, request, "limit", workload.DefaultPrimeLimit)
	if !ok {
		return
	}

	result := workload.Primes(limit)
	s.observeWorkload("primes", result.Elapsed)

	var largest *int
	if result.Count > 0 {
		largest = &result.Largest
	}

	s.writeJSON(writer, http.StatusOK, primesResponse{
		Count:          result.Count,
		Largest:        largest,
		First10:        result.First,
		Last10:         result.Last,
		ElapsedSeconds: seconds(result.Elapsed),
	})
}

func (s *server) handleHashStorm(writer http.ResponseWriter, request *http.Request) {
	rounds, ok := s.intParam(writer, request, "rounds", workload.DefaultHashRounds)
	if !ok {
		return
	}

	result := workload.HashStorm(rounds)
	s.observeWorkload("hash-storm", result.Elapsed)

	s.writeJSON(writer, http.StatusOK, hashResponse{
		Rounds:         result.Rounds,
		FinalHash:      result.FinalHash,
		ElapsedSeconds: seconds(result.Elapsed),
	})
}

func (s *server) handleFibonacci(writer http.ResponseWriter, request *http.Request) {
	n, ok := s.intParam(writer, request, "n", workload.DefaultFibonacciN)
	if !ok {
		return
	}

	result := workload.Fibonacci(n)
	s.observeWorkload("fibonacci", result.Elapsed)

	s.writeJSON(writer, http.StatusOK, fibonacciResponse{
		N:              result.N,
		Result:         result.Value,
		ElapsedSeconds: seconds(result.Elapsed),
	})
}

func (s *server) handleMatrix(writer http.ResponseWriter, request *http.Request) {
	size, ok := s.intParam(writer, request, "size", workload.DefaultMatrixSize)
	if !ok {
		return
	}

	result := workload.Matrix(size)
	s.observeWorkload("matrix", result.Elapsed)

	s.writeJSON(writer, http.StatusOK, matrixResponse{
		Size:           fmt.Sprintf("%dx%d", result.Size, result.Size),
		SampleValue:    round(result.Sample, 6),
		ElapsedSeconds: seconds(result.Elapsed),
	})
}

func (s *server) handleCPU(writer http.ResponseWriter, request *http.Request) {
	requested, ok := s.intParam(writer, request, "seconds", defaultCPUSeconds)
	if !ok {
		return
	}

	target, ok := s.floatParam(writer, request, "target", defaultCPUTarget)
	if !ok {
		return
	}

	duration := min(max(requested, 1), s.maxCPUSeconds)

	report, err := s.pool.RunAt(request.Context(), target, time.Duration(duration)*time.Second)
	if errors.Is(err, shape.ErrPoolBusy) {
		s.writeJSON(writer, http.StatusConflict, errorResponse{Error: "a timed cpu burn is already running"})

		return
	}

	if err != nil {
		s.logger.Error("timed cpu burn failed", zap.Error(err))
		s.writeJSON(writer, http.StatusInternalServerError, errorResponse{Error: "cpu burn failed"})

		return
	}

	s.observeWorkload("cpu", report.Elapsed)

	s.writeJSON(writer, http.StatusOK, cpuResponse{
		Message: fmt.Sprintf(
			"Burned CPU on %d workers at %.0f%% for ~%ds",
			report.Workers,
			report.Target*100,
			duration,
		),
		Workers:        report.Workers,
		Target:         report.Target,
		Seconds:        duration,
		ElapsedSeconds: seconds(report.Elapsed),
		BusySeconds:    seconds(report.Busy),
		Timestamp:      s.now().UTC().Format(timestampLayout),
	})
}

func (s *server) handleBurnStart(writer http.ResponseWriter, request *http.Request) {
	// Zero lets the manager apply its configured default.
	workers, ok := s.intParam(writer, request, "workers", 0)
	if !ok {
		return
	}

	result := s.burn.Start(request.Context(), workers)

	s.writeJSON(writer, http.StatusOK, burnStartResponse{
		Status:    result.Status,
		Processes: result.Launched,
		PIDs:      result.PIDs,
		Message:   result.Message,
		BurnID:    result.BurnID,
		Failed:    result.Failed,
	})
}

func (s *server) handleBurnStop(writer http.ResponseWriter, _ *http.Request) {
	result := s.burn.Stop()

	s.writeJSON(writer, http.StatusOK, burnStopResponse{
		Status:           result.Status,
		ProcessesStopped: result.Stopped,
		Message:          result.Message,
		Unconfirmed:      result.Unconfirmed,
	})
}

func (s *server) handleInfo(writer http.ResponseWriter, _ *http.Request) {
	host, err := s.hostname()
	if err != nil {
		s.logger.Warn("failed to resolve hostname", zap.Error(err))

		host = ""
	}

	snapshot := s.burn.Snapshot()

	state := burnState{
		State:     snapshot.State.String(),
		BurnID:    snapshot.BurnID,
		Alive:     snapshot.Alive,
		PIDs:      snapshot.PIDs,
		StartedAt: "",
	}

	if !snapshot.StartedAt.IsZero() {
		state.StartedAt = snapshot.StartedAt.UTC().Format(timestampLayout)
	}

	var hostCPU *float64

	if s.hostCPU != nil {
		if reading, ok := s.hostCPU.Latest(); ok {
			percent := round(reading.Utilisation*100, 2)
			hostCPU = &percent
		}
	}

	s.writeJSON(writer, http.StatusOK, infoResponse{
		Hostname:       host,
		PID:            s.pid(),
		CPUCount:       runtime.NumCPU(),
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		GoVersion:      runtime.Version(),
		Version:        s.build.Version,
		Commit:         s.build.GitCommit,
		BuildDate:      s.build.BuildDate,
		HostCPUPercent: hostCPU,
		Burn:           state,
		Timestamp:      s.now().UTC().Format(timestampLayout),
	})
}

func (s *server) intParam(
	writer http.ResponseWriter,
	request *http.Request,
	name string,
	fallback int,
) (int, bool) {
	raw := strings.TrimSpace(request.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		s.writeJSON(writer, http.StatusBadRequest, errorResponse{
			Error: fmt.Errorf("%w %q: %q is not an integer", errInvalidParam, name, raw).Error(),
		})

		return 0, false
	}

	return value, true
}

func (s *server) floatParam(
	writer http.ResponseWriter,
	request *http.Request,
	name string,
	fallback float64,
) (float64, bool) {
	raw := strings.TrimSpace(request.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		s.writeJSON(writer, http.StatusBadRequest, errorResponse{
			Error: fmt.Errorf("%w %q: %q is not a number", errInvalidParam, name, raw).Error(),
		})

		return 0, false
	}

	return value, true
}

func (s *server) observeWorkload(name string, elapsed time.Duration) {
	if s.recorder != nil {
		s.recorder.ObserveWorkload(name, elapsed)
	}
}

func (s *server) writeJSON(writer http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		http.Error(writer, "encode response", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_, _ = writer.Write(body)
}

func seconds(elapsed time.Duration) float64 {
	return round(elapsed.Seconds(), 3)
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))

	return math.Round(value*scale) / scale
}

func hostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("lookup hostname: %w", err)
	}

	return name, nil
}

func pid() int {
	return os.Getpid()
}
