package notify

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Telemetry defaults
const (
	defaultTelemetryRate  = rate.Limit(100.0 / 60.0) // events per second
	defaultTelemetryBurst = 10
	sentryFlushTimeout    = 2 * time.Second
)

// InitSentry initializes the Sentry SDK when telemetry is opted into and
// installs the reporter the errors package uses. It returns the reporter,
// which is disabled when Sentry is off.
func InitSentry(settings *conf.Settings, release string) (errors.TelemetryReporter, error) {
	if !settings.Sentry.Enabled {
		log.Info("sentry telemetry is disabled (opt-in required)")
		reporter := errors.NewSentryReporter(false)
		errors.SetTelemetryReporter(reporter)
		return reporter, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          "signalgraph@" + release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.ServerName = ""
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentNotify).
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	reporter := errors.NewSentryReporter(true)
	errors.SetTelemetryReporter(reporter)
	log.Info("sentry telemetry initialized")
	return reporter, nil
}

// FlushSentry waits for buffered Sentry events to be sent
func FlushSentry() {
	sentry.Flush(sentryFlushTimeout)
}

// TelemetryConsumer forwards error events from the bus to a telemetry
// reporter, rate limited so an error storm cannot flood Sentry
type TelemetryConsumer struct {
	reporter errors.TelemetryReporter
	limiter  *rate.Limiter

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// TelemetryStats counts forwarded and rate-limited errors
type TelemetryStats struct {
	Processed uint64
	Dropped   uint64
}

// NewTelemetryConsumer creates a consumer for reporter. A nil reporter
// uses the one installed in the errors package at event time.
func NewTelemetryConsumer(reporter errors.TelemetryReporter) *TelemetryConsumer {
	return &TelemetryConsumer{
		reporter: reporter,
		limiter:  rate.NewLimiter(defaultTelemetryRate, defaultTelemetryBurst),
	}
}

// Name implements events.Consumer
func (c *TelemetryConsumer) Name() string { return "telemetry-worker" }

// ProcessEvent implements events.Consumer
func (c *TelemetryConsumer) ProcessEvent(ev events.Event) error {
	if ev.Kind != events.KindError || ev.Err == nil {
		return nil
	}
	reporter := c.reporter
	if reporter == nil {
		reporter = errors.GetTelemetryReporter()
	}
	if reporter == nil || !reporter.IsEnabled() || ev.Err.IsReported() {
		return nil
	}
	if !c.limiter.Allow() {
		if c.dropped.Add(1)%100 == 1 {
			log.Warn("telemetry rate limit reached, dropping error events",
				logger.String("component", ev.Err.GetComponent()),
				logger.Uint64("dropped", c.dropped.Load()))
		}
		return nil
	}
	reporter.ReportError(ev.Err)
	c.processed.Add(1)
	return nil
}

// Stats returns the consumer counters
func (c *TelemetryConsumer) Stats() TelemetryStats {
	return TelemetryStats{Processed: c.processed.Load(), Dropped: c.dropped.Load()}
}
