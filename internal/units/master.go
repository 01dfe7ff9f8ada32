package units

import (
	"context"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

// Master is the session sink. Its metered output holds the block a backend
// plays once the cycle is complete.
type Master struct {
	base
	in  *port.Port
	out *port.Port
}

// NewMaster creates the master sink
func NewMaster(cfg *port.Config, name string) (*Master, error) {
	m := &Master{base: newBase(cfg, name)}
	pb := portBuilder{b: &m.base}
	m.in = pb.add("in", port.FlowInput, port.KindAudio, port.FlagLimit, port.Range{})
	m.out = pb.add("out", port.FlowOutput, port.KindAudio, port.FlagMeter, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return m, nil
}

// In returns the audio input
func (m *Master) In() *port.Port { return m.in }

// Out returns the metered output
func (m *Master) Out() *port.Port { return m.out }

// Process copies the summed input to the output
func (m *Master) Process(_ context.Context, ti cycle.TimeInfo) error {
	lo, hi := ti.LocalOffset, ti.End()
	copy(m.out.Buffer()[lo:hi], m.in.Buffer()[lo:hi])
	return nil
}

// Render interleaves frames of the last block into dst, repeating the mono
// signal on every channel. It returns the number of frames written. Call it
// from the goroutine that ran the cycle.
func (m *Master) Render(dst []float32, channels, frames int) int {
	if channels < 1 {
		return 0
	}
	buf := m.out.Buffer()
	frames = min(frames, len(buf), len(dst)/channels)
	for i := range frames {
		v := buf[i]
		for c := range channels {
			dst[i*channels+c] = v
		}
	}
	return frames
}
