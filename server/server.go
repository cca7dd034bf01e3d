// Package server exposes the assistant over HTTP: the streaming chat endpoint,
// the task and task group API, a health check and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/logging"
	"github.com/hupe1980/vaagent/observability"
	"github.com/hupe1980/vaagent/stream"
	"github.com/hupe1980/vaagent/taskstore"
)

// Chatter starts streamed conversation turns.
type Chatter interface {
	Chat(ctx context.Context, checkpointID, message string) (string, <-chan stream.Event, error)
}

// Options configures the Server.
type Options struct {
	// Addr is the listen address (host:port).
	Addr string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// CORSOrigins lists allowed origins. Empty allows all.
	CORSOrigins []string

	// Metrics records HTTP metrics when set.
	Metrics *observability.Metrics

	// Gatherer serves /metrics. Defaults to the default registry.
	Gatherer prometheus.Gatherer

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Server represents the API server.
type Server struct {
	echo   *echo.Echo
	chat   Chatter
	tasks  taskstore.Store
	opts   Options
	logger logging.Logger
}

// New creates a server for chat and tasks.
func New(chat Chatter, tasks taskstore.Store, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		chat:   chat,
		tasks:  tasks,
		opts:   opts,
		logger: opts.Logger,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: corsOrigins(opts.CORSOrigins)}))

	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}

	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.echo }

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	// Chat endpoints
	v1.GET("/chatbot/:message", s.chatGet)
	v1.POST("/chatbot", s.chatPost)

	// Task endpoints
	v1.GET("/tasks", s.listTasks)
	v1.POST("/tasks", s.createTask)
	v1.GET("/tasks/group/:group_id", s.listGroupTasks)
	v1.GET("/tasks/:id", s.getTask)
	v1.PUT("/tasks/:id", s.updateTask)
	v1.DELETE("/tasks/:id", s.deleteTask)

	// Task group endpoints
	v1.GET("/task-groups", s.listGroups)
	v1.POST("/task-groups", s.createGroup)
	v1.GET("/task-groups/:id", s.getGroup)
	v1.PUT("/task-groups/:id", s.updateGroup)
	v1.DELETE("/task-groups/:id", s.deleteGroup)
}

// Start listens until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server.start", "addr", s.opts.Addr)

		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("server.shutdown", "timeout", s.opts.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "latency_ms", v.Latency.Milliseconds()}

			if v.Error != nil {
				s.logger.Warn("http.request", append(args, "error", v.Error.Error())...)
				return nil
			}

			s.logger.Info("http.request", args...)

			return nil
		},
	})
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}

	return origins
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	var he *echo.HTTPError

	switch {
	case errors.As(err, &he):
		return he
	case taskstore.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, taskstore.ErrInvalidInput), errors.Is(err, engine.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrThreadBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}
