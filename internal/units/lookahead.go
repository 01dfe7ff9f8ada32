package units

import (
	"context"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

// Lookahead delays its input by a configurable number of frames and reports
// that delay as its latency, the way a lookahead limiter does
type Lookahead struct {
	base
	in  *port.Port
	out *port.Port

	frames atomic.Int32
	line   []float32
	pos    int
}

// NewLookahead creates a lookahead delay of frames, adjustable up to maxFrames
func NewLookahead(cfg *port.Config, name string, frames, maxFrames int) (*Lookahead, error) {
	if maxFrames <= 0 {
		return nil, invalidParameter(name, "max_frames", maxFrames)
	}
	if frames < 0 || frames > maxFrames {
		return nil, invalidParameter(name, "frames", frames)
	}
	l := &Lookahead{base: newBase(cfg, name), line: make([]float32, maxFrames)}
	l.frames.Store(int32(frames))
	pb := portBuilder{b: &l.base}
	l.in = pb.add("in", port.FlowInput, port.KindAudio, 0, port.Range{})
	l.out = pb.add("out", port.FlowOutput, port.KindAudio, 0, port.Range{})
	if pb.err != nil {
		return nil, pb.err
	}
	return l, nil
}

// In returns the audio input
func (l *Lookahead) In() *port.Port { return l.in }

// Out returns the audio output
func (l *Lookahead) Out() *port.Port { return l.out }

// Latency returns the current delay in frames
func (l *Lookahead) Latency() int { return int(l.frames.Load()) }

// SetFrames changes the delay. The router needs a soft recalc afterwards
// for downstream compensation to follow.
func (l *Lookahead) SetFrames(frames int) error {
	if frames < 0 || frames > len(l.line) {
		return invalidParameter(l.name, "frames", frames)
	}
	l.frames.Store(int32(frames))
	return nil
}

// Process writes the input delayed by Latency frames
func (l *Lookahead) Process(_ context.Context, ti cycle.TimeInfo) error {
	lo, hi := ti.LocalOffset, ti.End()
	src := l.in.Buffer()[lo:hi]
	dst := l.out.Buffer()[lo:hi]

	n := int(l.frames.Load())
	if n == 0 {
		copy(dst, src)
		return nil
	}
	size := len(l.line)
	for i, v := range src {
		r := l.pos - n
		if r < 0 {
			r += size
		}
		dst[i] = l.line[r]
		l.line[l.pos] = v
		l.pos++
		if l.pos == size {
			l.pos = 0
		}
	}
	return nil
}
