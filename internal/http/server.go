// Package http serves task context over a small JSON API for tools that
// do not speak MCP, plus Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/orchestrator"
	"github.com/fyrsmithlabs/devscontext/internal/secrets"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

// ContextService answers on-demand requests.
type ContextService interface {
	GetTaskContext(ctx context.Context, taskID string, useCache bool) (*model.TaskContext, error)
	SearchContext(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
	GetStandards(ctx context.Context, area string) (string, error)
	HealthCheck(ctx context.Context) orchestrator.Health
}

// Preprocessor builds and stores context for one task.
type Preprocessor interface {
	Process(ctx context.Context, taskID string) (*model.SynthesizedResult, error)
}

// PrebuiltLister lists stored results.
type PrebuiltLister interface {
	ListAll(ctx context.Context) ([]storage.Summary, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

// Config holds HTTP listener settings.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	svc      ContextService
	pipeline Preprocessor
	prebuilt PrebuiltLister
	scrubber secrets.Scrubber
	metrics  *HTTPMetrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config
}

// Option configures a Server.
type Option func(*Server)

// WithPreprocessor enables POST /api/v1/preprocess/:task_id.
func WithPreprocessor(p Preprocessor) Option {
	return func(s *Server) { s.pipeline = p }
}

// WithPrebuilt enables GET /api/v1/prebuilt.
func WithPrebuilt(l PrebuiltLister) Option {
	return func(s *Server) { s.prebuilt = l }
}

// WithScrubber sets the scrubber applied to response text.
func WithScrubber(sc secrets.Scrubber) Option {
	return func(s *Server) { s.scrubber = sc }
}

// WithMetrics sets the OTEL request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates the server and registers its routes.
func NewServer(svc ContextService, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("context service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8080}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{
		echo:     e,
		svc:      svc,
		scrubber: secrets.Noop{},
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scrubber == nil {
		s.scrubber = secrets.Noop{}
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(nil, s.logger)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/context/:task_id", s.handleContext)
	v1.POST("/preprocess/:task_id", s.handlePreprocess)
	v1.GET("/search", s.handleSearch)
	v1.GET("/standards", s.handleStandards)
	v1.GET("/prebuilt", s.handlePrebuilt)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// jsonErrorHandler renders every error as ErrorResponse.
func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorResponse{Error: msg})
}
