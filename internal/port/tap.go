package port

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/ringbuffer"
)

// Tap is the meter ring of an output port. The processing thread writes one
// block (audio, CV) or one record per event on the final sub-block of each
// cycle. A non-real-time poller reads it.
//
// When the ring is full the writer drops the oldest data before writing.
// Dropping moves the read cursor, so the writer does it only while holding
// mu, which the reader holds for every read. If the reader is busy the
// newest block is discarded instead and counted as an overrun.
type Tap struct {
	mu   sync.Mutex
	ring *ringbuffer.Ring

	kind        Kind
	blockLength int
	unit        int // bytes per block or per record
	evict       int // units dropped when full

	wbuf []byte
	rbuf []byte

	overruns  atomic.Uint64
	evictions atomic.Uint64
}

func newTap(p *Port) *Tap {
	t := &Tap{kind: p.id.Kind, blockLength: p.cfg.BlockLength}
	switch p.id.Kind {
	case KindEvent:
		t.unit = RecordSize
		t.evict = 1
		t.ring = ringbuffer.New(p.cfg.EventRingRecords*RecordSize + 1)
	default:
		t.unit = p.cfg.BlockLength * 4
		t.evict = p.cfg.MeterEvictBlocks
		t.ring = ringbuffer.New(p.cfg.MeterRingBlocks*t.unit + 1)
	}
	t.wbuf = make([]byte, t.unit)
	t.rbuf = make([]byte, t.unit)
	return t
}

// Kind returns the kind of the tapped port
func (t *Tap) Kind() Kind { return t.kind }

// BlockLength returns the number of samples per block
func (t *Tap) BlockLength() int { return t.blockLength }

// Overruns returns how many blocks or records were discarded
func (t *Tap) Overruns() uint64 { return t.overruns.Load() }

// Evictions returns how many times old data was dropped to make room
func (t *Tap) Evictions() uint64 { return t.evictions.Load() }

// Pending returns the number of unread blocks or records
func (t *Tap) Pending() int {
	return t.ring.ReadSpace() / t.unit
}

// Mlock pins the ring memory
func (t *Tap) Mlock() error {
	return t.ring.Mlock()
}

// makeRoom ensures one unit of write space, evicting up to evict units
func (t *Tap) makeRoom() bool {
	if t.ring.WriteSpace() >= t.unit {
		return true
	}
	if !t.mu.TryLock() {
		t.overruns.Add(1)
		return false
	}
	n := min(t.evict, t.ring.ReadSpace()/t.unit)
	if n > 0 && t.ring.Skip(n*t.unit) > 0 {
		t.evictions.Add(1)
	}
	t.mu.Unlock()
	if t.ring.WriteSpace() < t.unit {
		t.overruns.Add(1)
		return false
	}
	return true
}

// pushBlock writes one block of samples
func (t *Tap) pushBlock(samples []float32) {
	if !t.makeRoom() {
		return
	}
	for i, v := range samples {
		binary.LittleEndian.PutUint32(t.wbuf[i*4:], math.Float32bits(v))
	}
	t.ring.Write(t.wbuf)
}

// pushEvent writes one event record
func (t *Tap) pushEvent(systime int64, e MIDIEvent) {
	if !t.makeRoom() {
		return
	}
	EncodeRecord(t.wbuf, systime, e)
	t.ring.Write(t.wbuf)
}

// ReadBlock copies the oldest block into dst, which must hold BlockLength
// samples. It returns false when no full block is available.
func (t *Tap) ReadBlock(dst []float32) bool {
	if t.kind == KindEvent || len(dst) < t.blockLength {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ring.Read(t.rbuf) == 0 {
		return false
	}
	for i := range t.blockLength {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.rbuf[i*4:]))
	}
	return true
}

// ReadEvent returns the oldest event record
func (t *Tap) ReadEvent() (systime int64, e MIDIEvent, ok bool) {
	if t.kind != KindEvent {
		return 0, MIDIEvent{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ring.Read(t.rbuf) == 0 {
		return 0, MIDIEvent{}, false
	}
	systime, e = DecodeRecord(t.rbuf)
	return systime, e, true
}

func (t *Tap) free() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring.Free()
}
