package conf

import (
	"fmt"

	"github.com/tphakala/signalgraph/internal/errors"
)

// Backend type names
const (
	BackendDummy = "dummy"
	BackendMalgo = "malgo"
)

const maxBlockLength = 8192

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks value ranges. All problems are reported together.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.Engine.SampleRate <= 0 {
		add("engine.sample_rate must be positive, got %d", s.Engine.SampleRate)
	}
	if !isPowerOfTwo(s.Engine.BlockLength) || s.Engine.BlockLength > maxBlockLength {
		add("engine.block_length must be a power of two up to %d, got %d", maxBlockLength, s.Engine.BlockLength)
	}
	if s.Engine.Workers < 0 {
		add("engine.workers must not be negative")
	}
	if s.Engine.QueueCapacity <= 0 {
		add("engine.queue_capacity must be positive")
	}
	if s.Ports.MeterRingBlocks < 2 {
		add("ports.meter_ring_blocks must be at least 2")
	}
	if s.Ports.MeterEvictBlocks < 1 || s.Ports.MeterEvictBlocks > s.Ports.MeterRingBlocks {
		add("ports.meter_evict_blocks must be between 1 and meter_ring_blocks")
	}
	if s.Ports.EventRingRecords <= 0 || s.Ports.ExternalRingRecords <= 0 {
		add("ports event ring sizes must be positive")
	}
	if s.Router.ControlQueueSize <= 0 {
		add("router.control_queue_size must be positive")
	}
	if s.Router.FailureLogRate <= 0 {
		add("router.failure_log_rate must be positive")
	}
	switch s.Backend.Type {
	case BackendDummy, BackendMalgo:
	default:
		add("backend.type must be %q or %q, got %q", BackendDummy, BackendMalgo, s.Backend.Type)
	}
	if s.Backend.Channels <= 0 {
		add("backend.channels must be positive")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add("sentry.dsn is required when sentry is enabled")
	}
	if s.Diagnostics.TraceEnabled && s.Diagnostics.TraceCapacity <= 0 {
		add("diagnostics.trace_capacity must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("configuration").
		Category(errors.CategoryValidation).
		Build()
}
