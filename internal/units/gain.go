package units

import (
	"context"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

// unityGain is the tolerance below which a gain is treated as 1.0
const unityGain = 1e-5

// Gain scales its input by the gain control
type Gain struct {
	base
	in   *port.Port
	out  *port.Port
	gain *port.Port
}

// NewGain creates a gain stage with an initial gain in [0, 2]
func NewGain(cfg *port.Config, name string, gain float32) (*Gain, error) {
	if gain < 0 || gain > 2 {
		return nil, invalidParameter(name, "gain", gain)
	}
	g := &Gain{base: newBase(cfg, name)}
	pb := portBuilder{b: &g.base}
	g.in = pb.add("in", port.FlowInput, port.KindAudio, port.FlagLimit, port.Range{})
	g.gain = pb.add("gain", port.FlowInput, port.KindControl, 0, control(0, 2, gain))
	g.out = pb.add("out", port.FlowOutput, port.KindAudio, 0, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return g, nil
}

// In returns the audio input
func (g *Gain) In() *port.Port { return g.in }

// Out returns the audio output
func (g *Gain) Out() *port.Port { return g.out }

// GainControl returns the gain control port
func (g *Gain) GainControl() *port.Port { return g.gain }

// Process copies the input to the output, scaled by the gain
func (g *Gain) Process(_ context.Context, ti cycle.TimeInfo) error {
	lo, hi := ti.LocalOffset, ti.End()
	src := g.in.Buffer()[lo:hi]
	dst := g.out.Buffer()[lo:hi]

	k := g.gain.Control()
	if d := k - 1; d < unityGain && d > -unityGain {
		copy(dst, src)
		return nil
	}
	for i, v := range src {
		dst[i] = v * k
	}
	return nil
}
