package port

import (
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Config is the engine context shared by every port of a session. It is
// passed explicitly to New instead of living in package state.
type Config struct {
	BlockLength int
	SampleRate  int

	// MeterRingBlocks is the meter tap size of audio and CV outputs in blocks
	MeterRingBlocks int
	// MeterEvictBlocks is how many of the oldest blocks a full meter tap drops
	MeterEvictBlocks int
	// EventRingRecords is the meter tap size of event outputs in records
	EventRingRecords int
	// ExternalRingRecords is the device input ring size of event inputs in records
	ExternalRingRecords int

	Publisher events.Publisher
	Log       logger.Logger
}

// DefaultConfig returns a Config with the engine defaults
func DefaultConfig() *Config {
	return &Config{
		BlockLength:         256,
		SampleRate:          48000,
		MeterRingBlocks:     32,
		MeterEvictBlocks:    8,
		EventRingRecords:    64,
		ExternalRingRecords: 256,
	}
}

// Validate checks that every size is usable
func (c *Config) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, errors.Newf("%s must be positive, got %d", name, v).
				Component("port").
				Category(errors.CategoryValidation).
				Build())
		}
	}
	check("block length", c.BlockLength)
	check("sample rate", c.SampleRate)
	check("meter ring blocks", c.MeterRingBlocks)
	check("meter evict blocks", c.MeterEvictBlocks)
	check("event ring records", c.EventRingRecords)
	check("external ring records", c.ExternalRingRecords)
	return errors.Join(errs...)
}

func (c *Config) publisher() events.Publisher {
	if c.Publisher == nil {
		return events.NopPublisher{}
	}
	return c.Publisher
}

func (c *Config) logger() logger.Logger {
	if c.Log == nil {
		return logger.Global().Module("port")
	}
	return c.Log
}
