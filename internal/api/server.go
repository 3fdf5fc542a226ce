package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/o11y-orchestrator/internal/audit"
	"github.com/xela07ax/o11y-orchestrator/internal/engine"
)

// Processor: конвейер одного запроса (engine.Orchestrator).
type Processor interface {
	Process(ctx context.Context) (*engine.Result, error)
}

// AuditReader: чтение аудита и проверка доступности хранилища.
type AuditReader interface {
	audit.StatsReader
	audit.RecordReader
	Ping(ctx context.Context) error
}

// SwitchController: операторские выключатели зависимостей (engine.SwitchManager).
type SwitchController interface {
	SetDisabled(ctx context.Context, target string, disabled bool) error
	Disabled() []string
}

// ServiceInfo описывает сборку и инструментирование для /info.
type ServiceInfo struct {
	Version     string  `json:"version"`
	Environment string  `json:"environment"`
	Tracing     string  `json:"tracing"` // otlp-grpc или local
	SampleRatio float64 `json:"sampleRatio"`
	Store       string  `json:"store"`
	Switches    string  `json:"switches"` // redis или local
}

type Options struct {
	Service     string
	Info        ServiceInfo
	Endpoint    string        // путь конвейера, по умолчанию /process
	StatsWindow time.Duration // окно /stats
	Limiter     *rate.Limiter // nil: без лимита
	Gatherer    prometheus.Gatherer
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	processor Processor
	store     AuditReader
	switches  SwitchController
}

func NewServer(logger *zap.Logger, processor Processor, auditReader AuditReader, switches SwitchController, opts Options) *Server {
	if opts.Endpoint == "" {
		opts.Endpoint = "/process"
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = time.Hour
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("api"),
		opts:      opts,
		processor: processor,
		store:     auditReader,
		switches:  switches,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	r.With(engine.RateLimitMiddleware(s.opts.Limiter, s.logger)).Get(s.opts.Endpoint, s.handleProcess)
	r.Get("/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Get("/v1/requests/{id}", s.handleGetRecord)

	// Операторское управление зависимостями
	r.Route("/v1/dependencies", func(r chi.Router) {
		r.Get("/", s.handleListDisabled)
		r.Route("/{target}", func(r chi.Router) {
			r.Post("/disable", s.handleSwitch(true))
			r.Post("/enable", s.handleSwitch(false))
		})
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
