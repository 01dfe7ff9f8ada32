// Package httpserver serves engine status over HTTP: Prometheus metrics,
// pprof, health, the committed graph, the execution trace and control
// changes.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/signalgraph/internal/backend"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/diagnostics"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/monitor"
	"github.com/tphakala/signalgraph/internal/observability"
	"github.com/tphakala/signalgraph/internal/router"
)

// Server timeouts
const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
	bodyLimit       = "64K"
)

var log = logger.Global().Module(componentHTTP)

// Engine is the router surface the server reports on and controls
type Engine interface {
	Info() *router.GraphInfo
	RecalcGraph(soft bool) error
	QueueControlPortChange(c router.ControlChange) error
	Tempo() cycle.Tempo
	Cycles() uint64
	SkippedCycles() uint64
	MaxPlaybackLatency() int
	PendingControlChanges() int
	Workers() int
	BlockLength() int
	SampleRate() int
	Stopped() bool
}

// LevelSource reports meter levels
type LevelSource interface {
	Levels() map[string]monitor.Level
}

// BusStatter reports event bus counters
type BusStatter interface {
	Stats() events.BusStats
}

// Options holds the optional components the server reports on
type Options struct {
	Metrics *observability.Metrics
	Driver  backend.Driver
	Levels  LevelSource
	Bus     BusStatter
	Tracer  *diagnostics.Tracer
	Version string
}

// Server is the echo based status server
type Server struct {
	echo      *echo.Echo
	listen    string
	engine    Engine
	opts      Options
	startTime time.Time
	log       logger.Logger
}

// New creates the status server on settings.Telemetry.Listen
func New(settings *conf.Settings, engine Engine, opts Options) (*Server, error) {
	if !settings.Telemetry.Enabled {
		return nil, ErrDisabled
	}
	if engine == nil {
		return nil, ErrNoEngine
	}

	s := &Server{
		echo:      echo.New(),
		listen:    settings.Telemetry.Listen,
		engine:    engine,
		opts:      opts,
		startTime: time.Now(),
		log:       log.With(logger.String("address", settings.Telemetry.Listen)),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(s.loggingMiddleware())
	s.echo.Use(echomw.BodyLimit(bodyLimit))
}

func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}
	debug := http.NewServeMux()
	observability.RegisterDebugHandlers(debug)
	s.echo.Any("/debug/pprof/*", echo.WrapHandler(debug))

	api := s.echo.Group("/api/v1")
	api.GET("/health", s.health)
	api.GET("/graph", s.graph)
	api.POST("/graph/recalc", s.recalc)
	api.POST("/control", s.control)
	api.GET("/levels", s.levels)
	api.GET("/trace", s.trace)
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts the listener down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server starting")
		if err := s.echo.Start(s.listen); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.New(err).
				Component(componentHTTP).
				Category(errors.CategoryNetwork).
				Context("address", s.listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("stopping status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Error("status server shutdown error", logger.Error(err))
		return err
	}
	return nil
}

// loggingMiddleware logs each request at debug level, and failures at warn
func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("path", c.Request().URL.Path),
				logger.Int("status", c.Response().Status),
				logger.Duration("duration", time.Since(start)),
			}
			if c.Response().Status >= http.StatusInternalServerError {
				s.log.Warn("request failed", fields...)
			} else {
				s.log.Debug("request", fields...)
			}
			return nil
		}
	}
}
