package units

import (
	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/registry"
)

// Demo session defaults
const (
	DemoLookaheadFrames    = 64
	DemoMaxLookaheadFrames = 4096
)

// Host is the part of the router a topology needs to install itself
type Host interface {
	AddUnit(u graph.Unit) error
	Connect(src, dst port.Handle, multiplier float32) (registry.Connection, error)
}

// Demo is a two voice session: an LFO-modulated tone through a gain stage
// and a second tone through a lookahead delay, mixed into the master sink.
// The lookahead makes the gain branch need latency compensation.
type Demo struct {
	Lead      *Tone
	Pad       *Tone
	LFO       *LFO
	Gain      *Gain
	Lookahead *Lookahead
	Mixer     *Mixer
	Master    *Master
}

// NewDemo creates the demo units without wiring them
func NewDemo(cfg *port.Config) (*Demo, error) {
	var (
		d   Demo
		err error
	)
	if d.Lead, err = NewTone(cfg, "lead", 440, 0.4); err != nil {
		return nil, err
	}
	if d.Pad, err = NewTone(cfg, "pad", 220, 0.3); err != nil {
		return nil, err
	}
	if d.LFO, err = NewLFO(cfg, "lfo", 2); err != nil {
		return nil, err
	}
	if d.Gain, err = NewGain(cfg, "lead-gain", 0.8); err != nil {
		return nil, err
	}
	if d.Lookahead, err = NewLookahead(cfg, "pad-lookahead", DemoLookaheadFrames, DemoMaxLookaheadFrames); err != nil {
		return nil, err
	}
	if d.Mixer, err = NewMixer(cfg, "mixer", 2); err != nil {
		return nil, err
	}
	if d.Master, err = NewMaster(cfg, "master"); err != nil {
		return nil, err
	}
	return &d, nil
}

// Units returns the units in creation order
func (d *Demo) Units() []graph.Unit {
	return []graph.Unit{d.Lead, d.Pad, d.LFO, d.Gain, d.Lookahead, d.Mixer, d.Master}
}

// Install adds every unit to h and connects them
func (d *Demo) Install(h Host) error {
	for _, u := range d.Units() {
		if err := h.AddUnit(u); err != nil {
			return err
		}
	}
	links := []struct {
		src, dst   *port.Port
		multiplier float32
	}{
		{d.LFO.Out(), d.Lead.Level(), 0.5},
		{d.Lead.Out(), d.Gain.In(), 1},
		{d.Gain.Out(), d.Mixer.In(0), 1},
		{d.Pad.Out(), d.Lookahead.In(), 1},
		{d.Lookahead.Out(), d.Mixer.In(1), 1},
		{d.Mixer.Out(), d.Master.In(), 1},
	}
	for _, l := range links {
		if _, err := h.Connect(l.src.Handle(), l.dst.Handle(), l.multiplier); err != nil {
			return err
		}
	}
	log.Info("demo session installed",
		logger.Int("units", len(d.Units())),
		logger.Int("connections", len(links)))
	return nil
}
