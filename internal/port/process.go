package port

import (
	"context"
	"time"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/logger"
)

// unityEpsilon is how close a multiplier must be to 1 to take the add path
const unityEpsilon = 0.00001

// audioLimit is the range summed audio is limited to on FlagLimit ports
var audioLimit = Range{Min: -2, Max: 2}

// Process runs the port for the sub-block described by ti. Input ports pull
// from their source links, output ports feed their meter tap on the final
// sub-block.
func (p *Port) Process(_ context.Context, ti cycle.TimeInfo) {
	lo, hi := ti.LocalOffset, ti.End()
	if int(hi) > p.cfg.BlockLength || lo > hi {
		return
	}
	final := int(hi) == p.cfg.BlockLength

	switch p.id.Kind {
	case KindEvent:
		p.processEvents(lo, hi, final)
	case KindAudio, KindCV:
		p.processSignal(lo, hi, final)
	case KindControl:
		if p.id.Flow == FlowInput && p.id.Flags.Has(FlagCVModulated) {
			p.modulate(lo)
		}
	}
}

// PrepareOutput clears the part of an output port the owning unit is about
// to write. Event queues are cleared once per block.
func (p *Port) PrepareOutput(ti cycle.TimeInfo) {
	switch p.id.Kind {
	case KindAudio, KindCV:
		if int(ti.End()) <= len(p.buf) {
			clear(p.buf[ti.LocalOffset:ti.End()])
		}
	case KindEvent:
		if ti.LocalOffset == 0 {
			p.events.Clear()
		}
	}
}

func (p *Port) processSignal(lo, hi uint32, final bool) {
	if p.id.Flow == FlowInput {
		seg := p.buf[lo:hi]
		clear(seg)

		limit := p.id.Kind == KindCV || p.id.Flags.Has(FlagLimit)
		rng := audioLimit
		depth := float32(1)
		if p.id.Kind == KindCV {
			rng = p.rng
			depth = p.rng.Half()
		}

		for _, l := range p.sources {
			if !l.Enabled {
				continue
			}
			src := l.signal(lo, hi)
			m := depth * l.Multiplier
			if abs32(m-1) < unityEpsilon {
				add(seg, src)
			} else {
				mix(seg, src, m)
			}
		}

		if limit && absPeak(seg) > rng.Max {
			for i, v := range seg {
				seg[i] = rng.Clamp(v)
			}
		}
	}

	if final && p.tap != nil {
		p.tap.pushBlock(p.buf)
	}
}

func (p *Port) processEvents(lo, hi uint32, final bool) {
	if p.id.Flow == FlowInput {
		if lo == 0 {
			p.events.Clear()
		}
		mask := p.ChannelMask()
		for _, l := range p.sources {
			if !l.Enabled {
				continue
			}
			l.collectEvents(p.events, lo, hi, p.cfg.BlockLength, mask)
		}
		if p.external != nil {
			p.drainExternal(lo, hi, mask)
		}
		p.events.Sort()
	}

	if final && p.tap != nil && p.events.Len() > 0 {
		now := time.Now().UnixNano()
		for _, e := range p.events.events {
			p.tap.pushEvent(now, e)
		}
	}
}

// PushExternal queues an event from a device thread. Only one goroutine may
// push to a given port. It returns false when the ring is full.
func (p *Port) PushExternal(e MIDIEvent) bool {
	if p.external == nil {
		return false
	}
	var rec [RecordSize]byte
	EncodeRecord(rec[:], time.Now().UnixNano(), e)
	return p.external.Write(rec[:]) == RecordSize
}

// drainExternal moves device events due before hi into the queue. Events
// timed past the block are clamped to its last frame, events for an already
// processed sub-block are delivered at lo.
func (p *Port) drainExternal(lo, hi uint32, mask uint16) {
	bl := uint32(p.cfg.BlockLength)
	for p.external.ReadSpace() >= RecordSize {
		p.external.Peek(p.record[:])
		_, e := DecodeRecord(p.record[:])
		if e.Time >= bl {
			p.clampedEvents.Add(1)
			if dropped, ok := p.clampWarn.Allow(); ok {
				p.log.Warn("external event time outside block, clamping",
					logger.String("port", p.id.String()),
					logger.Int64("time", int64(e.Time)),
					logger.Int("block_length", int(bl)),
					logger.Suppressed(dropped))
			}
			e.Time = bl - 1
		}
		if e.Time >= hi {
			return
		}
		if e.Time < lo {
			e.Time = lo
		}
		p.external.Skip(RecordSize)
		if e.passes(mask) {
			p.events.Add(e)
		}
	}
}

func add(dst, src []float32) {
	src = src[:len(dst)]
	for i := range dst {
		dst[i] += src[i]
	}
}

func mix(dst, src []float32, k float32) {
	src = src[:len(dst)]
	for i := range dst {
		dst[i] += src[i] * k
	}
}

func absPeak(buf []float32) float32 {
	var peak float32
	for _, v := range buf {
		if a := abs32(v); a > peak {
			peak = a
		}
	}
	return peak
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
