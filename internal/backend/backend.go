// Package backend drives the router. A backend owns the kickoff goroutine:
// it calls StartCycleContext once per block, either from a ticker or from
// the audio device's playback callback.
package backend

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/router"
)

// Backend types accepted in backend.type
const (
	TypeDummy = "dummy"
	TypeMalgo = "malgo"
)

var log = logger.Global().Module(componentBackend)

// Engine is the cycle entry point of the router
type Engine interface {
	StartCycleContext(ctx context.Context, ti cycle.TimeInfo) error
	KickoffContext() context.Context
	BlockLength() int
	SampleRate() int
}

// Renderer copies the last rendered block into an interleaved buffer
type Renderer interface {
	Render(dst []float32, channels, frames int) int
}

// Driver runs cycles until its context is cancelled
type Driver interface {
	Name() string
	Run(ctx context.Context) error
	Stats() Stats
}

// Stats counts the cycles a driver started
type Stats struct {
	Cycles  uint64 `json:"cycles"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
	Frames  uint64 `json:"frames"`
}

// counters is embedded by drivers
type counters struct {
	cycles  atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
	frames  atomic.Uint64
}

func (c *counters) Stats() Stats {
	return Stats{
		Cycles:  c.cycles.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
		Frames:  c.frames.Load(),
	}
}

// runCycle starts one full block at the current frame position. It reports
// false only when the engine has stopped; skipped and failed cycles are
// counted and the position still advances.
func (c *counters) runCycle(e Engine, kick context.Context) (ok, rendered bool) {
	block := e.BlockLength()
	ti := cycle.TimeInfo{FrameStart: c.frames.Load(), NFrames: uint32(block)}
	err := e.StartCycleContext(kick, ti)
	c.frames.Add(uint64(block))

	switch {
	case err == nil:
		c.cycles.Add(1)
		return true, true
	case errors.Is(err, router.ErrRouterStopped):
		return false, false
	case errors.Is(err, router.ErrRebuildInProgress):
		c.skipped.Add(1)
		return true, false
	default:
		if c.failed.Add(1) == 1 {
			log.Error("cycle failed", logger.Error(err), logger.Uint64("frame", ti.FrameStart))
		}
		return true, false
	}
}

// New creates the driver selected by settings.Backend.Type. master may be
// nil for the dummy backend.
func New(settings *conf.Settings, engine Engine, master Renderer) (Driver, error) {
	switch strings.ToLower(settings.Backend.Type) {
	case "", TypeDummy:
		return NewDummy(engine, settings.Backend.Period), nil
	case TypeMalgo:
		return NewMalgo(engine, master, MalgoConfig{
			Device:   settings.Backend.Device,
			Channels: settings.Backend.Channels,
		}), nil
	default:
		return nil, errors.New(ErrUnknownBackend).
			Component(componentBackend).
			Category(errors.CategoryConfiguration).
			Context("type", settings.Backend.Type).
			Build()
	}
}
