package backend

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tphakala/signalgraph/internal/logger"
)

// Dummy drives cycles from a ticker at the block rate and discards the
// output. It stands in for a device when none is available.
type Dummy struct {
	counters
	engine  Engine
	period  time.Duration
	running atomic.Bool
}

// NewDummy creates a dummy driver. A zero period runs in real time, one
// block length per tick.
func NewDummy(engine Engine, period time.Duration) *Dummy {
	if period <= 0 {
		period = time.Duration(float64(time.Second) * float64(engine.BlockLength()) / float64(engine.SampleRate()))
	}
	return &Dummy{engine: engine, period: period}
}

// Name implements Driver
func (d *Dummy) Name() string { return TypeDummy }

// Period returns the tick interval
func (d *Dummy) Period() time.Duration { return d.period }

// Run ticks until ctx is cancelled or the engine stops. The goroutine is
// locked to its OS thread for the duration, like a device callback thread.
func (d *Dummy) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	log.Info("dummy backend started", logger.Duration("period", d.period))
	kick := d.engine.KickoffContext()
	for {
		select {
		case <-ctx.Done():
			log.Info("dummy backend stopped", logger.Uint64("cycles", d.cycles.Load()))
			return nil
		case <-ticker.C:
		}
		if ok, _ := d.runCycle(d.engine, kick); !ok {
			log.Info("engine stopped, dummy backend exiting")
			return nil
		}
	}
}
