package units

import (
	"context"
	"math"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

const twoPi = 2 * math.Pi

// Tone is a sine generator with frequency and level controls
type Tone struct {
	base
	sampleRate float64
	phase      float64

	out   *port.Port
	freq  *port.Port
	level *port.Port
}

// NewTone creates a tone generator. The level control accepts CV modulation.
func NewTone(cfg *port.Config, name string, freq, level float32) (*Tone, error) {
	if freq <= 0 || float64(freq) >= float64(cfg.SampleRate)/2 {
		return nil, invalidParameter(name, "frequency", freq)
	}
	if level < 0 || level > 1 {
		return nil, invalidParameter(name, "level", level)
	}
	t := &Tone{base: newBase(cfg, name), sampleRate: float64(cfg.SampleRate)}
	pb := portBuilder{b: &t.base}
	t.freq = pb.add("frequency", port.FlowInput, port.KindControl, 0, control(20, 20000, freq))
	t.level = pb.add("level", port.FlowInput, port.KindControl, port.FlagCVModulated, control(0, 1, level))
	t.out = pb.add("out", port.FlowOutput, port.KindAudio, port.FlagMeter, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return t, nil
}

// Out returns the audio output
func (t *Tone) Out() *port.Port { return t.out }

// Level returns the level control
func (t *Tone) Level() *port.Port { return t.level }

// Frequency returns the frequency control
func (t *Tone) Frequency() *port.Port { return t.freq }

// Process writes the sine for the sub-block
func (t *Tone) Process(_ context.Context, ti cycle.TimeInfo) error {
	inc := twoPi * float64(t.freq.Control()) / t.sampleRate
	level := float64(t.level.Control())
	buf := t.out.Buffer()[ti.LocalOffset:ti.End()]
	for i := range buf {
		buf[i] = float32(level * math.Sin(t.phase))
		t.phase += inc
		if t.phase >= twoPi {
			t.phase -= twoPi
		}
	}
	return nil
}

// LFO is a low frequency sine on a CV output, used to modulate controls
type LFO struct {
	base
	sampleRate float64
	phase      float64

	out  *port.Port
	rate *port.Port
}

// NewLFO creates an LFO running at rate Hz
func NewLFO(cfg *port.Config, name string, rate float32) (*LFO, error) {
	if rate <= 0 || rate > 50 {
		return nil, invalidParameter(name, "rate", rate)
	}
	l := &LFO{base: newBase(cfg, name), sampleRate: float64(cfg.SampleRate)}
	pb := portBuilder{b: &l.base}
	l.rate = pb.add("rate", port.FlowInput, port.KindControl, 0, control(0.01, 50, rate))
	l.out = pb.add("cv", port.FlowOutput, port.KindCV, 0, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return l, nil
}

// Out returns the CV output
func (l *LFO) Out() *port.Port { return l.out }

// Process writes the CV for the sub-block
func (l *LFO) Process(_ context.Context, ti cycle.TimeInfo) error {
	inc := twoPi * float64(l.rate.Control()) / l.sampleRate
	buf := l.out.Buffer()[ti.LocalOffset:ti.End()]
	for i := range buf {
		buf[i] = float32(math.Sin(l.phase))
		l.phase = math.Mod(l.phase+inc, twoPi)
	}
	return nil
}
