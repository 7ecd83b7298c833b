// Package metrics exposes lab activity to Prometheus.
package metrics

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "chaoslab"
	hundredPercent = 100.0
	unknownLabel   = "unknown"
)

// Exporter owns a private registry so tests and multiple servers do not collide.
type Exporter struct {
	registry *prometheus.Registry
	handler  http.Handler

	burnWorkers      prometheus.Gauge
	hostCPUPercent   prometheus.Gauge
	workloadRuns     *prometheus.CounterVec
	workloadDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	buildInfo        *prometheus.GaugeVec
}

// NewExporter constructs an Exporter with zeroed metrics and the Go runtime collectors.
func NewExporter() *Exporter {
	exporter := new(Exporter)
	exporter.registry = prometheus.NewRegistry()

	exporter.burnWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "burn_workers_active",
		Help:      "Number of background burn worker processes currently tracked.",
	})
	exporter.hostCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_percent",
		Help:      "Last recorded host CPU utilisation percentage.",
	})
	exporter.workloadRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workload_runs_total",
		Help:      "Completed synchronous workload runs.",
	}, []string{"workload"})
	exporter.workloadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workload_duration_seconds",
		Help:      "Wall-clock duration of synchronous workload runs.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"workload"})
	exporter.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})
	exporter.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	exporter.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata of the running binary (value is always 1).",
	}, []string{"version", "commit"})

	exporter.registry.MustRegister(
		exporter.burnWorkers,
		exporter.hostCPUPercent,
		exporter.workloadRuns,
		exporter.workloadDuration,
		exporter.httpRequests,
		exporter.httpDuration,
		exporter.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter.handler = promhttp.HandlerFor(exporter.registry, promhttp.HandlerOpts{
		Registry: exporter.registry,
	})

	return exporter
}

// Registry exposes the underlying registry for additional collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// SetBuildInfo publishes the binary version labels.
func (e *Exporter) SetBuildInfo(version, commit string) {
	e.buildInfo.Reset()
	e.buildInfo.WithLabelValues(labelOrUnknown(version), labelOrUnknown(commit)).Set(1)
}

// SetBurnWorkers records the number of tracked burn workers.
func (e *Exporter) SetBurnWorkers(count int) {
	e.burnWorkers.Set(float64(max(count, 0)))
}

// ObserveWorkload records one completed workload run.
func (e *Exporter) ObserveWorkload(name string, elapsed time.Duration) {
	label := labelOrUnknown(name)

	e.workloadRuns.WithLabelValues(label).Inc()
	e.workloadDuration.WithLabelValues(label).Observe(max(elapsed.Seconds(), 0))
}

// ObserveHostCPU records the latest host CPU utilisation ratio in [0,1] as a percentage.
func (e *Exporter) ObserveHostCPU(utilisation float64) {
	if math.IsNaN(utilisation) || math.IsInf(utilisation, 0) || utilisation < 0 {
		utilisation = 0
	}

	e.hostCPUPercent.Set(math.Min(utilisation*hundredPercent, hundredPercent))
}

// ObserveRequest records one served HTTP request. path should be a route pattern.
func (e *Exporter) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}

	path = labelOrUnknown(path)

	e.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	e.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ServeHTTP implements http.Handler for the metrics exporter.
func (e *Exporter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	e.handler.ServeHTTP(writer, request)
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return unknownLabel
	}

	return trimmed
}
