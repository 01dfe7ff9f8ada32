package backend

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

// restartDelay is how long the driver waits before restarting a device that
// stopped on its own
const restartDelay = 100 * time.Millisecond

// MalgoConfig selects the playback device
type MalgoConfig struct {
	// Device is the audio API: alsa, pulse, jack, wasapi, coreaudio or null.
	// Empty picks the platform default.
	Device   string
	Channels int
}

// Malgo drives cycles from a playback device callback. Device periods that
// do not match the block length are bridged by a block adapter.
type Malgo struct {
	counters
	engine Engine
	master Renderer
	cfg    MalgoConfig

	mu      sync.Mutex
	adapter *blockAdapter
	running atomic.Bool
}

// NewMalgo creates a malgo playback driver
func NewMalgo(engine Engine, master Renderer, cfg MalgoConfig) *Malgo {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &Malgo{engine: engine, master: master, cfg: cfg}
}

// Name implements Driver
func (m *Malgo) Name() string { return TypeMalgo }

// Run opens the device, plays until ctx is cancelled and closes it
func (m *Malgo) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	backend, err := audioAPI(m.cfg.Device)
	if err != nil {
		return err
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return deviceError(err, "init_context")
	}
	defer func() { _ = malgoCtx.Uninit() }()

	block := m.engine.BlockLength()
	m.adapter = newBlockAdapter(m.engine, m.master, &m.counters, m.cfg.Channels, block)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.engine.SampleRate())
	deviceConfig.PeriodSizeInFrames = uint32(block)
	deviceConfig.Alsa.NoMMap = 1

	var device *malgo.Device
	onStop := func() {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(restartDelay):
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			if device == nil {
				return
			}
			if err := device.Start(); err != nil {
				log.Error("failed to restart playback device", logger.Error(deviceError(err, "restart_device")))
				return
			}
			log.Warn("playback device restarted")
		}()
	}

	m.mu.Lock()
	device, err = malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onPlayback,
		Stop: onStop,
	})
	if err != nil {
		m.mu.Unlock()
		return deviceError(err, "init_device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		device = nil
		m.mu.Unlock()
		return deviceError(err, "start_device")
	}
	m.mu.Unlock()

	log.Info("playback started",
		logger.String("api", apiName(m.cfg.Device)),
		logger.Int("channels", m.cfg.Channels),
		logger.Int("sample_rate", int(device.SampleRate())),
		logger.Int("block_length", block))

	<-ctx.Done()

	m.mu.Lock()
	_ = device.Stop()
	device.Uninit()
	device = nil
	m.mu.Unlock()

	log.Info("playback stopped", logger.Uint64("cycles", m.cycles.Load()))
	return nil
}

// onPlayback is the device callback, it runs on the device thread
func (m *Malgo) onPlayback(pOutput, _ []byte, frameCount uint32) {
	m.adapter.fill(pOutput, int(frameCount))
}

// audioAPI maps a device name to a malgo backend, defaulting per platform
func audioAPI(name string) (malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "alsa":
		return malgo.BackendAlsa, nil
	case "pulse", "pulseaudio":
		return malgo.BackendPulseaudio, nil
	case "jack":
		return malgo.BackendJack, nil
	case "wasapi":
		return malgo.BackendWasapi, nil
	case "coreaudio":
		return malgo.BackendCoreaudio, nil
	case "null":
		return malgo.BackendNull, nil
	case "":
	default:
		return malgo.BackendNull, errors.New(ErrUnknownBackend).
			Component(componentBackend).
			Category(errors.CategoryConfiguration).
			Context("device", name).
			Build()
	}
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.New(ErrUnsupportedPlatform).
			Component(componentBackend).
			Category(errors.CategoryAudioIO).
			Context("os", runtime.GOOS).
			Build()
	}
}

func apiName(name string) string {
	if name == "" {
		return runtime.GOOS + " default"
	}
	return name
}

// blockAdapter serves device periods of any size from engine blocks. It is
// only used from the device thread.
type blockAdapter struct {
	engine   Engine
	master   Renderer
	counters *counters
	kick     context.Context

	channels int
	block    int
	pending  []float32 // one interleaved block
	pos      int       // next frame of pending to play
	avail    int       // frames left in pending
	stopped  bool
}

func newBlockAdapter(engine Engine, master Renderer, c *counters, channels, block int) *blockAdapter {
	return &blockAdapter{
		engine:   engine,
		master:   master,
		counters: c,
		kick:     engine.KickoffContext(),
		channels: channels,
		block:    block,
		pending:  make([]float32, channels*block),
	}
}

// fill writes up to frames interleaved float32 frames into out, running a cycle
// whenever the pending block is used up. After the engine stops the output
// is silence.
func (a *blockAdapter) fill(out []byte, frames int) {
	ch := a.channels
	frames = min(frames, len(out)/(4*ch))
	written := 0
	for written < frames {
		if a.avail == 0 && !a.next() {
			clear(out[written*ch*4:])
			return
		}
		n := min(frames-written, a.avail)
		src := a.pending[a.pos*ch : (a.pos+n)*ch]
		dst := out[written*ch*4:]
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
		}
		written += n
		a.pos += n
		a.avail -= n
	}
}

// next renders a new block into pending. A skipped or failed cycle plays
// as silence.
func (a *blockAdapter) next() bool {
	if a.stopped {
		return false
	}
	ok, rendered := a.counters.runCycle(a.engine, a.kick)
	if !ok {
		a.stopped = true
		return false
	}
	if rendered && a.master != nil {
		a.master.Render(a.pending, a.channels, a.block)
	} else {
		clear(a.pending)
	}
	a.pos = 0
	a.avail = a.block
	return true
}
