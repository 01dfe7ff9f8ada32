// Package engine assembles a playback session from settings: the router
// with the demo topology, the event bus and its consumers, the backend
// driving cycles, the meter monitor and the status server.
package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/signalgraph/internal/backend"
	"github.com/tphakala/signalgraph/internal/buildinfo"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/diagnostics"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/httpserver"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/monitor"
	"github.com/tphakala/signalgraph/internal/notify"
	"github.com/tphakala/signalgraph/internal/observability"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/router"
	"github.com/tphakala/signalgraph/internal/scheduler"
	"github.com/tphakala/signalgraph/internal/units"
)

// busShutdownTimeout bounds the wait for event consumers on exit
const busShutdownTimeout = 2 * time.Second

// masterTap is the monitor name of the master bus meter
const masterTap = "master"

// Option adjusts what New assembles
type Option func(*options)

type options struct {
	graphOnly bool
	log       logger.Logger
}

// GraphOnly builds the router and topology without the backend, monitor,
// notifier or status server
func GraphOnly() Option {
	return func(o *options) { o.graphOnly = true }
}

// WithLogger sets the logger the engine and its components use
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Engine is an assembled session
type Engine struct {
	settings *conf.Settings
	build    *buildinfo.Context

	Metrics   *observability.Metrics
	Bus       *events.EventBus
	Telemetry *notify.TelemetryConsumer
	Tracer    *diagnostics.Tracer
	Ports     *port.Config
	Router    *router.Router
	Demo      *units.Demo

	// nil when disabled or with GraphOnly
	Driver   backend.Driver
	Monitor  *monitor.Monitor
	Notifier *notify.Notifier
	Server   *httpserver.Server

	log logger.Logger
}

// PortConfig derives the shared port configuration from settings
func PortConfig(settings *conf.Settings, publisher events.Publisher, log logger.Logger) *port.Config {
	return &port.Config{
		BlockLength:         settings.Engine.BlockLength,
		SampleRate:          settings.Engine.SampleRate,
		MeterRingBlocks:     settings.Ports.MeterRingBlocks,
		MeterEvictBlocks:    settings.Ports.MeterEvictBlocks,
		EventRingRecords:    settings.Ports.EventRingRecords,
		ExternalRingRecords: settings.Ports.ExternalRingRecords,
		Publisher:           publisher,
		Log:                 log,
	}
}

// New assembles an engine. The router is running and the demo topology is
// installed when New returns; Run starts the backend and the services.
func New(settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module(componentEngine)
	}

	e := &Engine{
		settings: settings,
		build:    build,
		log:      o.log.With(logger.String("instance", build.GetInstanceID())),
	}

	var err error
	if e.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, setupError(err, "metrics")
	}

	e.Bus = events.New(events.DefaultConfig(), o.log.Module("events"))
	e.Telemetry = notify.NewTelemetryConsumer(nil)
	if err := e.Bus.RegisterConsumer(e.Telemetry); err != nil {
		return nil, err
	}
	errors.SetEventPublisher(e.Bus)

	var tracer scheduler.Tracer
	if settings.Diagnostics.TraceEnabled {
		e.Tracer = diagnostics.NewTracer(settings.Diagnostics.TraceCapacity)
		tracer = e.Tracer
	}

	e.Ports = PortConfig(settings, e.Bus, o.log.Module("port"))
	e.Router, err = router.New(router.Config{
		Ports:              e.Ports,
		Workers:            settings.Engine.Workers,
		QueueCapacity:      settings.Engine.QueueCapacity,
		ControlQueueSize:   settings.Router.ControlQueueSize,
		ValidationCacheTTL: settings.Router.ValidationCacheTTL,
		FailureLogRate:     settings.Router.FailureLogRate,
		Metrics:            e.Metrics.Engine,
		Tracer:             tracer,
		Publisher:          e.Bus,
		Log:                o.log.Module("router"),
	})
	if err != nil {
		e.shutdownBus()
		return nil, err
	}

	if e.Demo, err = units.NewDemo(e.Ports); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.Demo.Install(e.Router); err != nil {
		e.Close()
		return nil, err
	}

	if o.graphOnly {
		return e, nil
	}
	if err := e.assembleServices(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) assembleServices() error {
	var err error
	if e.Driver, err = backend.New(e.settings, e.Router, e.Demo.Master); err != nil {
		return err
	}

	if e.settings.Monitor.Enabled {
		e.Monitor = monitor.New(e.settings, e.Metrics.Engine)
		if err := e.Monitor.Watch(masterTap, e.Demo.Master.Out()); err != nil {
			return err
		}
		if path := e.settings.Monitor.RecordPath; path != "" {
			if err := e.Monitor.Record(masterTap, path, e.settings.Engine.SampleRate); err != nil {
				return err
			}
		}
	}

	if e.settings.MQTT.Enabled {
		if e.Notifier, err = notify.NewNotifier(e.settings, e.Metrics.Engine); err != nil {
			return err
		}
		if err := e.Bus.RegisterConsumer(e.Notifier); err != nil {
			return err
		}
	}

	if e.settings.Telemetry.Enabled {
		opts := httpserver.Options{
			Metrics: e.Metrics,
			Driver:  e.Driver,
			Bus:     e.Bus,
			Tracer:  e.Tracer,
			Version: e.build.GetVersion(),
		}
		if e.Monitor != nil {
			opts.Levels = e.Monitor
		}
		if e.Server, err = httpserver.New(e.settings, e.Router, opts); err != nil {
			return err
		}
	}
	return nil
}

// Run drives cycles and serves until ctx is cancelled or a component fails,
// then stops the router and drains the event bus
func (e *Engine) Run(ctx context.Context) error {
	if e.Driver == nil {
		return setupError(errors.NewStd("engine assembled without a backend"), "run")
	}
	defer e.Close()

	e.log.Info("engine starting",
		logger.String("backend", e.Driver.Name()),
		logger.Int("block_length", e.Router.BlockLength()),
		logger.Int("sample_rate", e.Router.SampleRate()),
		logger.Int("workers", e.Router.Workers()),
		logger.Int("playback_latency", e.Router.MaxPlaybackLatency()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Driver.Run(ctx) })
	if e.Monitor != nil {
		g.Go(func() error { return e.Monitor.Run(ctx) })
	}
	if e.Notifier != nil {
		g.Go(func() error { return e.Notifier.Run(ctx) })
	}
	if e.Server != nil {
		g.Go(func() error { return e.Server.Run(ctx) })
	}

	err := g.Wait()
	stats := e.Driver.Stats()
	e.log.Info("engine stopped",
		logger.Uint64("cycles", stats.Cycles),
		logger.Uint64("skipped", stats.Skipped),
		logger.Uint64("failed", stats.Failed))
	return err
}

// Close stops the router and the event bus. It is safe to call twice.
func (e *Engine) Close() {
	if e.Router != nil {
		e.Router.Stop()
	}
	e.shutdownBus()
}

func (e *Engine) shutdownBus() {
	errors.SetEventPublisher(nil)
	if err := e.Bus.Shutdown(busShutdownTimeout); err != nil {
		e.log.Warn("event bus shutdown incomplete", logger.Error(err))
	}
}
