// Package events provides an asynchronous notification bus. Real-time code
// publishes small value events with TryPublish, which never blocks, and
// consumer workers deliver them to the MQTT notifier, the status server and
// telemetry.
package events

import (
	"time"

	"github.com/tphakala/signalgraph/internal/errors"
)

// Kind identifies what an Event reports
type Kind uint8

const (
	// KindValueChanged reports a committed control port value
	KindValueChanged Kind = iota + 1
	// KindTempoChanged reports a BPM change applied at kickoff
	KindTempoChanged
	// KindTimeSignatureChanged reports a beats-per-bar or beat-unit change
	KindTimeSignatureChanged
	// KindGraphRebuilt reports a committed graph rebuild or soft recalc
	KindGraphRebuilt
	// KindLatencyChanged reports a new maximum playback latency
	KindLatencyChanged
	// KindNodeFailed reports a node that failed and was zero-filled
	KindNodeFailed
	// KindError carries an enhanced error for telemetry
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindValueChanged:
		return "value_changed"
	case KindTempoChanged:
		return "tempo_changed"
	case KindTimeSignatureChanged:
		return "time_signature_changed"
	case KindGraphRebuilt:
		return "graph_rebuilt"
	case KindLatencyChanged:
		return "latency_changed"
	case KindNodeFailed:
		return "node_failed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a value type so publishing from the processing path does not allocate.
type Event struct {
	Kind Kind
	// Handle is the port handle for value events
	Handle uint32
	Value  float64
	// Count carries node counts, latency frames or cycle numbers depending on Kind
	Count int64
	// Source names the unit or component that produced the event
	Source string
	Err    *errors.EnhancedError
	Time   time.Time
}

// Publisher accepts events without blocking
type Publisher interface {
	TryPublish(ev Event) bool
}

// Consumer processes events delivered by the bus workers
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent handles a single event
	ProcessEvent(ev Event) error
}

// BusStats contains runtime statistics for monitoring
type BusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
	FastPathHits    uint64 // events discarded because no consumer is registered
}

// NopPublisher drops every event
type NopPublisher struct{}

// TryPublish implements Publisher
func (NopPublisher) TryPublish(Event) bool { return false }

// ConsumerFunc adapts a function to Consumer
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(Event) error
}

// Name implements Consumer
func (c ConsumerFunc) Name() string { return c.ConsumerName }

// ProcessEvent implements Consumer
func (c ConsumerFunc) ProcessEvent(ev Event) error { return c.Fn(ev) }
