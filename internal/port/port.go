// Package port implements the typed endpoints that carry audio, CV, control
// and event data between processing units.
//
// A Port owns a block-length buffer (audio and CV), an event queue (event
// ports) or a control value (control ports). Input ports pull from their
// source links when processed. Output ports optionally snapshot each block
// into a meter Tap read by non-real-time consumers.
package port

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/ringbuffer"
)

// Kind is the data type a port carries
type Kind uint8

const (
	KindAudio Kind = iota
	KindCV
	KindControl
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindCV:
		return "cv"
	case KindControl:
		return "control"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Flow is the direction of a port relative to its owner
type Flow uint8

const (
	FlowInput Flow = iota
	FlowOutput
)

func (f Flow) String() string {
	if f == FlowOutput {
		return "output"
	}
	return "input"
}

// Flags modify port behavior
type Flags uint16

const (
	// FlagToggle snaps control values to 0 or 1
	FlagToggle Flags = 1 << iota
	// FlagInteger rounds control values
	FlagInteger
	// FlagCVModulated recomputes a control input from its CV sources every cycle
	FlagCVModulated
	// FlagLimit limits summed audio to the port range when it overshoots
	FlagLimit
	// FlagMeter enables the meter tap on an output port
	FlagMeter
	// FlagExternalInput enables the external device event ring on an input event port
	FlagExternalInput
)

// Has reports whether all bits of f2 are set
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Identifier names a port and describes its type
type Identifier struct {
	OwnerID string
	Label   string
	Flow    Flow
	Kind    Kind
	Flags   Flags
}

func (id Identifier) String() string {
	owner := id.OwnerID
	if owner == "" {
		owner = "-"
	}
	return owner + "/" + id.Label
}

// Range holds the value limits of a port
type Range struct {
	Min     float32
	Max     float32
	Default float32
	Zero    float32
}

// DefaultRange returns the range a port of kind k gets when none is given
func DefaultRange(k Kind) Range {
	switch k {
	case KindAudio:
		return Range{Min: 0, Max: 2}
	case KindCV:
		return Range{Min: -1, Max: 1}
	default:
		return Range{Min: 0, Max: 1}
	}
}

// Half returns (max-min)/2, the modulation depth of CV connections
func (r Range) Half() float32 {
	return (r.Max - r.Min) * 0.5
}

// Clamp limits v to [Min, Max]
func (r Range) Clamp(v float32) float32 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Port is a typed endpoint owned by a unit or standing alone.
type Port struct {
	id     Identifier
	rng    Range
	handle atomic.Uint32
	cfg    *Config

	buf    []float32
	events *EventQueue

	base    atomic.Uint32
	control atomic.Uint32

	// set by graph commit while no cycle runs
	sources []*Link
	dests   []Handle

	channelMask atomic.Uint32

	tap      *Tap
	external *ringbuffer.Ring
	record   [RecordSize]byte

	clampedEvents atomic.Uint64
	clampWarn     *logger.Throttle
	log           logger.Logger
}

// New creates a port. Audio and CV ports get a buffer of cfg.BlockLength
// frames. A zero Range selects DefaultRange for the kind.
func New(cfg *Config, id Identifier, rng Range) (*Port, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == (Range{}) {
		rng = DefaultRange(id.Kind)
	}
	if rng.Min > rng.Max {
		return nil, newPortError(id, "min %g greater than max %g", rng.Min, rng.Max)
	}

	p := &Port{
		id:        id,
		rng:       rng,
		cfg:       cfg,
		clampWarn: logger.NewThrottle(1),
		log:       cfg.logger(),
	}
	p.channelMask.Store(AllChannels)

	switch id.Kind {
	case KindAudio, KindCV:
		p.buf = make([]float32, cfg.BlockLength)
	case KindEvent:
		p.events = NewEventQueue(MaxEvents)
	case KindControl:
		def := rng.Clamp(rng.Default)
		p.base.Store(math.Float32bits(def))
		p.control.Store(math.Float32bits(def))
	}

	if id.Flow == FlowOutput && id.Flags.Has(FlagMeter) && id.Kind != KindControl {
		p.tap = newTap(p)
	}
	if id.Flow == FlowInput && id.Kind == KindEvent && id.Flags.Has(FlagExternalInput) {
		p.external = ringbuffer.New(cfg.ExternalRingRecords * RecordSize)
	}
	return p, nil
}

// ID returns the port identifier
func (p *Port) ID() Identifier { return p.id }

// Range returns the value limits
func (p *Port) Range() Range { return p.rng }

// Kind is shorthand for ID().Kind
func (p *Port) Kind() Kind { return p.id.Kind }

// Flow is shorthand for ID().Flow
func (p *Port) Flow() Flow { return p.id.Flow }

// Handle returns the handle assigned by a Table, or 0
func (p *Port) Handle() Handle { return Handle(p.handle.Load()) }

// Buffer returns the audio or CV buffer. Units write outputs here.
func (p *Port) Buffer() []float32 { return p.buf }

// Events returns the event queue of an event port
func (p *Port) Events() *EventQueue { return p.events }

// Tap returns the meter tap or nil
func (p *Port) Tap() *Tap { return p.tap }

// Sources returns the links feeding this port in the committed graph
func (p *Port) Sources() []*Link { return p.sources }

// Dests returns the handles this port feeds in the committed graph
func (p *Port) Dests() []Handle { return p.dests }

// SetLinks installs the source links and destinations of the committed
// graph. Callers must ensure no cycle is running.
func (p *Port) SetLinks(sources []*Link, dests []Handle) {
	p.sources = sources
	p.dests = dests
}

// ChannelMask returns the 16-bit MIDI channel filter of an event input
func (p *Port) ChannelMask() uint16 { return uint16(p.channelMask.Load()) }

// SetChannelMask sets the MIDI channel filter. Bit n passes channel n+1.
func (p *Port) SetChannelMask(mask uint16) { p.channelMask.Store(uint32(mask)) }

// ClampedEvents returns how many external events arrived with out-of-block times
func (p *Port) ClampedEvents() uint64 { return p.clampedEvents.Load() }

// Clear zeroes the buffer and event queue
func (p *Port) Clear() {
	if p.buf != nil {
		clear(p.buf)
	}
	if p.events != nil {
		p.events.Clear()
	}
}

// Free releases the rings. The port must already be disconnected.
func (p *Port) Free() {
	if p.tap != nil {
		p.tap.free()
	}
	if p.external != nil {
		p.external.Free()
	}
	p.sources = nil
	p.dests = nil
}

func (p *Port) String() string {
	return p.id.String()
}
