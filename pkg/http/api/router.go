// Package api maps the lab's HTTP routes onto workloads and the burn manager.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"cpu-chaos-lab/internal/buildinfo"
	"cpu-chaos-lab/pkg/burn"
	"cpu-chaos-lab/pkg/est"
	"cpu-chaos-lab/pkg/http/status"
	"cpu-chaos-lab/pkg/shape"
)

const (
	unmatchedRoute       = "unmatched"
	defaultMaxCPUSeconds = 300
	corsMaxAgeSeconds    = 300
)

var (
	errBurnManagerRequired = errors.New("api: burn manager is required")
	errCPUPoolRequired     = errors.New("api: cpu pool is required")
)

// BurnManager is the burn lifecycle surface used by the burn routes.
type BurnManager interface {
	Start(ctx context.Context, requested int) burn.StartResult
	Stop() burn.StopResult
	Snapshot() burn.Snapshot
}

// CPUPool runs a timed all-core burn.
type CPUPool interface {
	RunAt(ctx context.Context, target float64, duration time.Duration) (shape.Report, error)
	Workers() int
}

// HostCPU reports the latest sampled host utilisation.
type HostCPU interface {
	Latest() (est.Reading, bool)
}

// Recorder receives request and workload observations.
type Recorder interface {
	ObserveWorkload(name string, elapsed time.Duration)
	ObserveRequest(method, path string, status int, elapsed time.Duration)
}

// Options wires the router's collaborators. Burn and Pool are required.
type Options struct {
	Logger         *zap.Logger
	Burn           BurnManager
	Pool           CPUPool
	HostCPU        HostCPU
	Recorder       Recorder
	Metrics        http.Handler
	Build          buildinfo.Info
	AppName        string
	AllowedOrigins []string
	MaxCPUSeconds  int
}

type server struct {
	logger        *zap.Logger
	burn          BurnManager
	pool          CPUPool
	hostCPU       HostCPU
	recorder      Recorder
	build         buildinfo.Info
	maxCPUSeconds int
	now           func() time.Time
	hostname      func() (string, error)
	pid           func() int
}

// NewRouter builds the chi router serving every lab route.
func NewRouter(opts Options) (*chi.Mux, error) {
	if opts.Burn == nil {
		return nil, errBurnManagerRequired
	}

	if opts.Pool == nil {
		return nil, errCPUPoolRequired
	}

	srv := newServer(opts)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(srv.observe)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           corsMaxAgeSeconds,
	}))

	router.Get("/", srv.handleIndex)
	router.Method(http.MethodGet, "/health", status.NewHandler(opts.AppName))
	router.Get("/info", srv.handleInfo)

	router.Get("/pi", srv.handlePi)
	router.Get("/primes", srv.handlePrimes)
	router.Get("/hash-storm", srv.handleHashStorm)
	router.Get("/fibonacci", srv.handleFibonacci)
	router.Get("/matrix", srv.handleMatrix)
	router.Get("/cpu", srv.handleCPU)

	router.Get("/burn-start", srv.handleBurnStart)
	router.Get("/burn-stop", srv.handleBurnStop)

	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return router, nil
}

func newServer(opts Options) *server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxSeconds := opts.MaxCPUSeconds
	if maxSeconds <= 0 {
		maxSeconds = defaultMaxCPUSeconds
	}

	return &server{
		logger:        logger,
		burn:          opts.Burn,
		pool:          opts.Pool,
		hostCPU:       opts.HostCPU,
		recorder:      opts.Recorder,
		build:         opts.Build,
		maxCPUSeconds: maxSeconds,
		now:           time.Now,
		hostname:      hostname,
		pid:           pid,
	}
}

// observe logs every request and forwards it to the recorder keyed by route pattern.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)

		next.ServeHTTP(wrapped, request)

		elapsed := time.Since(start)
		code := wrapped.Status()

		if code == 0 {
			code = http.StatusOK
		}

		s.logger.Info(
			"request",
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.Int("status", code),
			zap.Duration("duration", elapsed),
			zap.String("requestID", middleware.GetReqID(request.Context())),
		)

		if s.recorder != nil {
			s.recorder.ObserveRequest(request.Method, routePattern(request), code, elapsed)
		}
	})
}

func routePattern(request *http.Request) string {
	routeCtx := chi.RouteContext(request.Context())
	if routeCtx != nil && routeCtx.RoutePattern() != "" {
		return routeCtx.RoutePattern()
	}

	return unmatchedRoute
}
