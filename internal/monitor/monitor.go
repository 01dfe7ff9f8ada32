// Package monitor polls the meter taps of output ports from a ticker loop,
// keeps their peak and RMS levels and optionally captures a tap to WAV.
package monitor

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
)

// defaultPollInterval is used when monitor.poll_interval is not set
const defaultPollInterval = 50 * time.Millisecond

var log = logger.Global().Module(componentMonitor)

// Monitor polls every watched tap on an interval
type Monitor struct {
	interval time.Duration
	recorder metrics.Recorder

	mu   sync.RWMutex
	taps map[string]*Tap

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logger.Logger
}

// New creates a stopped monitor. recorder may be nil.
func New(settings *conf.Settings, recorder metrics.Recorder) *Monitor {
	interval := settings.Monitor.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		interval: interval,
		recorder: recorder,
		taps:     make(map[string]*Tap),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
}

// Watch starts polling the meter tap of p under name
func (m *Monitor) Watch(name string, p *port.Port) error {
	t, err := NewTap(name, p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.taps[name] = t
	m.mu.Unlock()
	m.log.Debug("watching meter tap", logger.String("tap", name), logger.String("port", p.String()))
	return nil
}

// Unwatch stops polling name and closes its capture file
func (m *Monitor) Unwatch(name string) error {
	m.mu.Lock()
	t, ok := m.taps[name]
	delete(m.taps, name)
	m.mu.Unlock()
	if !ok {
		return wrapTap(ErrUnknownTap, name)
	}
	if rec := t.attach(nil); rec != nil {
		return rec.Close()
	}
	return nil
}

// Record captures the tap name to a WAV file at path, replacing an earlier
// capture of the same tap
func (m *Monitor) Record(name, path string, sampleRate int) error {
	m.mu.RLock()
	t, ok := m.taps[name]
	m.mu.RUnlock()
	if !ok {
		return wrapTap(ErrUnknownTap, name)
	}
	rec, err := NewWAVRecorder(path, sampleRate)
	if err != nil {
		return err
	}
	if prev := t.attach(rec); prev != nil {
		if err := prev.Close(); err != nil {
			m.log.Warn("failed to close previous capture", logger.String("path", prev.Path()), logger.Error(err))
		}
	}
	m.log.Info("capturing meter tap", logger.String("tap", name), logger.String("path", path))
	return nil
}

// Start begins polling in a background goroutine
func (m *Monitor) Start() {
	m.log.Info("starting meter monitor", logger.Duration("interval", m.interval))
	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop ends polling and finalizes capture files
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, t := range m.taps {
		if rec := t.attach(nil); rec != nil {
			if err := rec.Close(); err != nil {
				m.log.Error("failed to finalize capture", logger.String("tap", name), logger.Error(err))
				continue
			}
			m.log.Info("capture finalized",
				logger.String("path", rec.Path()),
				logger.Int64("frames", rec.Frames()))
		}
	}
}

// Run polls until ctx is cancelled, then stops the monitor
func (m *Monitor) Run(ctx context.Context) error {
	m.Start()
	select {
	case <-ctx.Done():
	case <-m.ctx.Done():
	}
	m.Stop()
	return nil
}

func (m *Monitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.PollOnce()
		case <-m.ctx.Done():
			m.log.Debug("meter monitor loop stopping")
			return
		}
	}
}

// PollOnce polls every tap once
func (m *Monitor) PollOnce() {
	m.mu.RLock()
	taps := slices.Collect(maps.Values(m.taps))
	m.mu.RUnlock()

	for _, t := range taps {
		m.poll(t)
	}
}

func (m *Monitor) poll(t *Tap) {
	start := time.Now()
	wasClipping := t.Last().Clipping
	prevOverruns := t.Last().Overruns

	lvl, err := t.Poll()
	if err != nil {
		m.recorder.RecordError(metrics.OpMeterRead, "capture")
		m.log.Error("capture write failed", logger.String("tap", t.Name()), logger.Error(err))
	}
	if lvl.Blocks == 0 {
		m.recorder.RecordOperation(metrics.OpMeterRead, metrics.StatusSkipped)
		return
	}
	m.recorder.RecordOperation(metrics.OpMeterRead, metrics.StatusSuccess)
	m.recorder.RecordDuration(metrics.OpMeterRead, time.Since(start).Seconds())
	m.recorder.RecordValue(metrics.ValueMeterPeak, float64(lvl.Peak))
	if lvl.Overruns > prevOverruns {
		m.recorder.RecordOperation(metrics.OpMeterRead, metrics.StatusOverrun)
	}

	switch {
	case lvl.Clipping && !wasClipping:
		m.log.Warn("clipping detected",
			logger.String("tap", t.Name()),
			logger.Float64("peak_db", lvl.PeakDB))
	case !lvl.Clipping && wasClipping:
		m.log.Info("clipping cleared",
			logger.String("tap", t.Name()),
			logger.Float64("peak_db", lvl.PeakDB))
	}
}

// Levels returns the latest level of every tap
func (m *Monitor) Levels() map[string]Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Level, len(m.taps))
	for name, t := range m.taps {
		out[name] = t.Last()
	}
	return out
}
