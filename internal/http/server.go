// Package http serves the lessond ops and ingestion API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	"github.com/fyrsmithlabs/lessond/internal/extraction"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
	"github.com/fyrsmithlabs/lessond/internal/policy"
)

// Engine is the feedback loop the API drives. *engine.Engine satisfies it.
type Engine interface {
	ProcessRun(ctx context.Context, in extraction.RunInput) ([]string, error)
	RecordRetrieval(ctx context.Context, ev metrics.RetrievalEvent) error
	RecordOutcome(ctx context.Context, o metrics.WorkflowOutcome) error
	RecordFeedback(ctx context.Context, id string, effectiveness float64) error
	Dashboard() diagnostics.Dashboard
	LastReport() (engine.Report, bool)
}

// Lessons is the review surface of the lesson store. *lesson.Store
// satisfies it.
type Lessons interface {
	Get(ctx context.Context, id string) (*lesson.Lesson, error)
	ListPendingReview(ctx context.Context) ([]*lesson.Lesson, error)
	ListApproved(ctx context.Context, opts lesson.ListOptions) ([]*lesson.Lesson, error)
	Approve(ctx context.Context, id, reviewer, notes string) error
	Reject(ctx context.Context, id, reviewer, reason string) error
	Stats(ctx context.Context) (lesson.Stats, error)
}

// PolicySource supplies the active policy. *policy.Holder satisfies it.
type PolicySource interface {
	Current() policy.Policy
}

var (
	_ Engine  = (*engine.Engine)(nil)
	_ Lessons = (*lesson.Store)(nil)
)

// HealthCheck reports a dependency problem as an error.
type HealthCheck func(ctx context.Context) error

// Server provides the lessond HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	lessons  Lessons
	policies PolicySource
	checks   map[string]HealthCheck
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, lessons Lessons, policies PolicySource, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if lessons == nil {
		return nil, fmt.Errorf("lesson store cannot be nil")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:     e,
		engine:   eng,
		lessons:  lessons,
		policies: policies,
		checks:   map[string]HealthCheck{},
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/dashboard", s.handleDashboard)
	v1.GET("/report", s.handleReport)
	v1.GET("/policy", s.handlePolicy)

	v1.POST("/runs", s.handleProcessRun)
	v1.POST("/retrievals", s.handleRecordRetrieval)
	v1.POST("/outcomes", s.handleRecordOutcome)

	v1.GET("/lessons", s.handleListApproved)
	v1.GET("/lessons/pending", s.handleListPending)
	v1.GET("/lessons/stats", s.handleStats)
	v1.GET("/lessons/:id", s.handleGetLesson)
	v1.POST("/lessons/:id/approve", s.handleApprove)
	v1.POST("/lessons/:id/reject", s.handleReject)
	v1.POST("/lessons/:id/feedback", s.handleFeedback)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Handler exposes the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lesson.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lesson.ErrInvalidTransition),
		errors.Is(err, lesson.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, lesson.ErrInvalidEffectiveness),
		errors.Is(err, lesson.ErrInvalidLesson),
		errors.Is(err, lesson.ErrInvalidType),
		errors.Is(err, lesson.ErrReviewerRequired),
		errors.Is(err, lesson.ErrReasonRequired),
		errors.Is(err, metrics.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as {"error": message}. Unmapped errors
// are logged and their text withheld from the client.
func errorHandler(e *echo.Echo, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else if code = statusFor(err); code != http.StatusInternalServerError {
			msg = err.Error()
		} else {
			msg = http.StatusText(code)
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: msg})
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}
