package units

import (
	"context"
	"fmt"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

// maxMixerInputs bounds the channel strips of a mixer
const maxMixerInputs = 32

// Mixer sums its inputs, each scaled by its own level control
type Mixer struct {
	base
	inputs []*port.Port
	levels []*port.Port
	out    *port.Port
}

// NewMixer creates a mixer with n inputs at unity level
func NewMixer(cfg *port.Config, name string, n int) (*Mixer, error) {
	if n < 1 || n > maxMixerInputs {
		return nil, invalidParameter(name, "inputs", n)
	}
	m := &Mixer{
		base:   newBase(cfg, name),
		inputs: make([]*port.Port, n),
		levels: make([]*port.Port, n),
	}
	pb := portBuilder{b: &m.base}
	for i := range n {
		m.inputs[i] = pb.add(fmt.Sprintf("in%d", i+1), port.FlowInput, port.KindAudio, port.FlagLimit, port.Range{})
		m.levels[i] = pb.add(fmt.Sprintf("level%d", i+1), port.FlowInput, port.KindControl, 0, control(0, 2, 1))
	}
	m.out = pb.add("out", port.FlowOutput, port.KindAudio, 0, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return m, nil
}

// In returns input i, counted from zero
func (m *Mixer) In(i int) *port.Port { return m.inputs[i] }

// Level returns the level control of input i
func (m *Mixer) Level(i int) *port.Port { return m.levels[i] }

// Out returns the mix output
func (m *Mixer) Out() *port.Port { return m.out }

// Process sums the inputs into the output
func (m *Mixer) Process(_ context.Context, ti cycle.TimeInfo) error {
	lo, hi := ti.LocalOffset, ti.End()
	dst := m.out.Buffer()[lo:hi]
	for i, in := range m.inputs {
		k := m.levels[i].Control()
		if k == 0 {
			continue
		}
		for j, v := range in.Buffer()[lo:hi] {
			dst[j] += v * k
		}
	}
	return nil
}
