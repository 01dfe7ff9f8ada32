package router

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/ringbuffer"
)

// controlRecordSize is the encoded size of a ControlChange in the ring
const controlRecordSize = 16

// Tempo bounds accepted by control changes
const (
	maxBPM         = 999
	maxBeatsPerBar = 16
	maxBeatUnit    = 16
)

// ChangeKind selects what a ControlChange modifies
type ChangeKind uint8

const (
	// ChangeBPM sets the tempo in beats per minute
	ChangeBPM ChangeKind = iota + 1
	// ChangeBeatsPerBar sets the time signature numerator
	ChangeBeatsPerBar
	// ChangeBeatUnit sets the time signature denominator (2, 4, 8 or 16)
	ChangeBeatUnit
	// ChangePortValue sets the base value of the control port Handle
	ChangePortValue
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeBPM:
		return "bpm"
	case ChangeBeatsPerBar:
		return "beats_per_bar"
	case ChangeBeatUnit:
		return "beat_unit"
	case ChangePortValue:
		return "port_value"
	default:
		return "unknown"
	}
}

// ControlChange is an out-of-band parameter change applied atomically at the
// start of the next cycle
type ControlChange struct {
	Kind   ChangeKind
	Handle port.Handle
	Value  float32
	// Normalized maps Value from [0,1] onto the port range (ChangePortValue)
	Normalized bool
}

// encode writes c as {kind u8, normalized u8, pad u16, handle u32, value f32, reserved u32}
func (c ControlChange) encode(b []byte) {
	clear(b[:controlRecordSize])
	b[0] = byte(c.Kind)
	if c.Normalized {
		b[1] = 1
	}
	binary.LittleEndian.PutUint32(b[4:], uint32(c.Handle))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(c.Value))
}

func decodeControlChange(b []byte) ControlChange {
	return ControlChange{
		Kind:       ChangeKind(b[0]),
		Normalized: b[1] == 1,
		Handle:     port.Handle(binary.LittleEndian.Uint32(b[4:])),
		Value:      math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}
}

// controlQueue carries changes from any goroutine to the kickoff goroutine.
// Writers are serialized by mu, the single reader is the kickoff.
type controlQueue struct {
	mu   sync.Mutex
	ring *ringbuffer.Ring
	wbuf [controlRecordSize]byte
	rbuf [controlRecordSize]byte
}

func newControlQueue(records int) *controlQueue {
	return &controlQueue{ring: ringbuffer.New(records*controlRecordSize + 1)}
}

func (q *controlQueue) push(c ControlChange) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	c.encode(q.wbuf[:])
	return q.ring.Write(q.wbuf[:]) == controlRecordSize
}

// pop returns the oldest change. Only the kickoff goroutine may call it.
func (q *controlQueue) pop() (ControlChange, bool) {
	if q.ring.Read(q.rbuf[:]) != controlRecordSize {
		return ControlChange{}, false
	}
	return decodeControlChange(q.rbuf[:]), true
}

func (q *controlQueue) pending() int {
	return q.ring.ReadSpace() / controlRecordSize
}

// validate rejects changes the kickoff could not apply
func (r *Router) validate(c ControlChange) error {
	switch c.Kind {
	case ChangeBPM:
		if c.Value <= 0 || c.Value > maxBPM {
			return wrap(ErrInvalidControlChange, "bpm", c.Value)
		}
	case ChangeBeatsPerBar:
		if c.Value < 1 || c.Value > maxBeatsPerBar || c.Value != float32(math.Trunc(float64(c.Value))) {
			return wrap(ErrInvalidControlChange, "beats_per_bar", c.Value)
		}
	case ChangeBeatUnit:
		u := int(c.Value)
		if float32(u) != c.Value || u < 2 || u > maxBeatUnit || u&(u-1) != 0 {
			return wrap(ErrInvalidControlChange, "beat_unit", c.Value)
		}
	case ChangePortValue:
		p, ok := r.ports.Get(c.Handle)
		if !ok {
			return wrap(port.ErrUnknownHandle, "handle", uint32(c.Handle))
		}
		if p.Kind() != port.KindControl {
			return wrap(port.ErrNotControl, "port", p.String())
		}
	default:
		return wrap(ErrInvalidControlChange, "kind", uint8(c.Kind))
	}
	return nil
}

// QueueControlPortChange enqueues c for the next cycle's draining step. It is
// safe to call from any goroutine and never blocks on a running cycle.
func (r *Router) QueueControlPortChange(c ControlChange) error {
	if r.stopped.Load() {
		return ErrRouterStopped
	}
	if err := r.validate(c); err != nil {
		r.recorder.RecordOperation(metrics.OpControlQueue, metrics.StatusError)
		return err
	}
	if !r.controls.push(c) {
		r.recorder.RecordOperation(metrics.OpControlQueue, metrics.StatusDropped)
		return wrap(ErrControlQueueFull, "pending", r.controls.pending())
	}
	r.recorder.RecordOperation(metrics.OpControlQueue, metrics.StatusSuccess)
	return nil
}

// drainControls applies every queued change. Called by the kickoff with
// graph access held, before any node runs.
func (r *Router) drainControls() {
	for {
		c, ok := r.controls.pop()
		if !ok {
			return
		}
		r.applyControl(c)
		r.recorder.RecordOperation(metrics.OpControlChange, c.Kind.String())
	}
}

func (r *Router) applyControl(c ControlChange) {
	switch c.Kind {
	case ChangeBPM:
		r.tempo.BPM = c.Value
		r.publishTempo(events.KindTempoChanged, float64(c.Value))
	case ChangeBeatsPerBar:
		r.tempo.BeatsPerBar = int(c.Value)
		r.publishTempo(events.KindTimeSignatureChanged, float64(c.Value))
	case ChangeBeatUnit:
		r.tempo.BeatUnit = int(c.Value)
		r.publishTempo(events.KindTimeSignatureChanged, float64(c.Value))
	case ChangePortValue:
		p, ok := r.ports.Get(c.Handle)
		if !ok {
			// unregistered after it was queued
			return
		}
		if err := p.SetControlValue(c.Value, c.Normalized, true); err != nil {
			if dropped, ok := r.failWarn.Allow(); ok {
				r.log.Warn("control change not applied",
					logger.String("port", p.String()),
					logger.Error(err),
					logger.Suppressed(dropped))
			}
		}
	}
}

func (r *Router) publishTempo(kind events.Kind, v float64) {
	r.publisher.TryPublish(events.Event{Kind: kind, Value: v, Source: componentRouter})
}

// Tempo returns the tempo applied to the most recent cycle
func (r *Router) Tempo() cycle.Tempo {
	if t := r.tempoSnapshot.Load(); t != nil {
		return *t
	}
	return cycle.DefaultTempo
}
