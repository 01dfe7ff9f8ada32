package port

import (
	"cmp"
	"encoding/binary"
	"slices"
)

const (
	// MaxEvents is the capacity of an event port queue per block
	MaxEvents = 128
	// RecordSize is the byte size of an event record in rings
	RecordSize = 16
	// AllChannels passes every MIDI channel
	AllChannels = 0xFFFF
)

// MIDIEvent is a short MIDI message timed in frames from the block start
type MIDIEvent struct {
	Time uint32
	Size uint8
	Raw  [3]byte
}

// NoteOn builds a note-on event. channel is zero-based.
func NoteOn(t uint32, channel, note, velocity uint8) MIDIEvent {
	return MIDIEvent{Time: t, Size: 3, Raw: [3]byte{0x90 | channel&0x0F, note & 0x7F, velocity & 0x7F}}
}

// NoteOff builds a note-off event. channel is zero-based.
func NoteOff(t uint32, channel, note uint8) MIDIEvent {
	return MIDIEvent{Time: t, Size: 3, Raw: [3]byte{0x80 | channel&0x0F, note & 0x7F, 0}}
}

// Channel returns the zero-based channel of a channel voice message
func (e MIDIEvent) Channel() (uint8, bool) {
	status := e.Raw[0]
	if status < 0x80 || status >= 0xF0 {
		return 0, false
	}
	return status & 0x0F, true
}

// passes reports whether e goes through the channel mask
func (e MIDIEvent) passes(mask uint16) bool {
	ch, ok := e.Channel()
	if !ok {
		return true
	}
	return mask&(1<<ch) != 0
}

// EventQueue is a fixed-capacity list of events for one block
type EventQueue struct {
	events  []MIDIEvent
	dropped uint64
}

// NewEventQueue creates a queue holding up to capacity events
func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{events: make([]MIDIEvent, 0, capacity)}
}

// Add appends e. It returns false and counts a drop when the queue is full.
func (q *EventQueue) Add(e MIDIEvent) bool {
	if len(q.events) == cap(q.events) {
		q.dropped++
		return false
	}
	q.events = append(q.events, e)
	return true
}

// Len returns the number of queued events
func (q *EventQueue) Len() int { return len(q.events) }

// At returns the i-th event
func (q *EventQueue) At(i int) MIDIEvent { return q.events[i] }

// All returns the queued events. The slice is valid until the next mutation.
func (q *EventQueue) All() []MIDIEvent { return q.events }

// Dropped returns how many events did not fit
func (q *EventQueue) Dropped() uint64 { return q.dropped }

// Clear empties the queue
func (q *EventQueue) Clear() { q.events = q.events[:0] }

// Sort orders events by time, keeping arrival order for equal times
func (q *EventQueue) Sort() {
	slices.SortStableFunc(q.events, func(a, b MIDIEvent) int {
		return cmp.Compare(a.Time, b.Time)
	})
}

// EncodeRecord writes e with its system timestamp into dst[:RecordSize].
// Layout: systime int64, time uint32, size uint8, raw [3]byte, little endian.
func EncodeRecord(dst []byte, systime int64, e MIDIEvent) {
	_ = dst[RecordSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], uint64(systime))
	binary.LittleEndian.PutUint32(dst[8:12], e.Time)
	dst[12] = e.Size
	dst[13] = e.Raw[0]
	dst[14] = e.Raw[1]
	dst[15] = e.Raw[2]
}

// DecodeRecord reads a record written by EncodeRecord
func DecodeRecord(src []byte) (systime int64, e MIDIEvent) {
	_ = src[RecordSize-1]
	systime = int64(binary.LittleEndian.Uint64(src[0:8]))
	e.Time = binary.LittleEndian.Uint32(src[8:12])
	e.Size = src[12]
	e.Raw = [3]byte{src[13], src[14], src[15]}
	return systime, e
}
