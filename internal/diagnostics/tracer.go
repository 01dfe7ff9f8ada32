// Package diagnostics provides execution tracing of the processing graph
// and system snapshots for status reporting.
package diagnostics

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/ringbuffer"
	"github.com/tphakala/signalgraph/internal/logger"
)

// recordSize is the encoded size of one trace record
const recordSize = 32

// Phase marks whether a record opens or closes a node execution
type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseFinish
)

func (p Phase) String() string {
	if p == PhaseStart {
		return "start"
	}
	return "finish"
}

// Record is one node start or finish mark. Seq is a total order across all
// workers of one tracer.
type Record struct {
	Seq     uint64        `json:"seq"`
	Cycle   uint64        `json:"cycle"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Node    int32         `json:"node"`
	Worker  int           `json:"worker"`
	Phase   Phase         `json:"phase"`
}

// Span is the start and finish sequence numbers of one node in one cycle
type Span struct {
	Start, Finish uint64
}

// Tracer collects node execution marks from many workers into a bounded
// ring. When the ring is full new records are dropped and counted.
type Tracer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	seq     uint64
	buf     [recordSize]byte
	start   time.Time
	session uuid.UUID
	dropped atomic.Uint64
	log     logger.Logger
}

// NewTracer creates a tracer holding up to capacity records
func NewTracer(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = 4096
	}
	t := &Tracer{
		rb:      ringbuffer.New(capacity * recordSize),
		start:   time.Now(),
		session: uuid.New(),
		log:     logger.Global().Module("diagnostics"),
	}
	t.log.Debug("trace session started",
		logger.String("session", t.session.String()),
		logger.Int("capacity", capacity))
	return t
}

// Session returns the trace session identifier
func (t *Tracer) Session() string { return t.session.String() }

// Dropped returns the number of records lost to a full ring
func (t *Tracer) Dropped() uint64 { return t.dropped.Load() }

// NodeStarted records the start of a node execution
func (t *Tracer) NodeStarted(cycleNum uint64, node int32, worker int) {
	t.record(cycleNum, node, worker, PhaseStart)
}

// NodeFinished records the end of a node execution
func (t *Tracer) NodeFinished(cycleNum uint64, node int32, worker int) {
	t.record(cycleNum, node, worker, PhaseFinish)
}

func (t *Tracer) record(cycleNum uint64, node int32, worker int, phase Phase) {
	elapsed := time.Since(t.start)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rb.Free() < recordSize {
		t.dropped.Add(1)
		return
	}
	t.seq++
	binary.LittleEndian.PutUint64(t.buf[0:], t.seq)
	binary.LittleEndian.PutUint64(t.buf[8:], cycleNum)
	binary.LittleEndian.PutUint64(t.buf[16:], uint64(elapsed))
	binary.LittleEndian.PutUint32(t.buf[24:], uint32(node))
	binary.LittleEndian.PutUint16(t.buf[28:], uint16(worker))
	t.buf[30] = byte(phase)
	if _, err := t.rb.Write(t.buf[:]); err != nil {
		t.dropped.Add(1)
	}
}

// Drain removes and returns every buffered record in order
func (t *Tracer) Drain() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.rb.Length() / recordSize
	if n == 0 {
		return nil
	}
	raw := make([]byte, n*recordSize)
	read, err := t.rb.Read(raw)
	if err != nil {
		t.log.Warn("trace drain failed", logger.Error(err))
		return nil
	}

	out := make([]Record, 0, read/recordSize)
	for off := 0; off+recordSize <= read; off += recordSize {
		b := raw[off : off+recordSize]
		out = append(out, Record{
			Seq:     binary.LittleEndian.Uint64(b[0:]),
			Cycle:   binary.LittleEndian.Uint64(b[8:]),
			Elapsed: time.Duration(binary.LittleEndian.Uint64(b[16:])),
			Node:    int32(binary.LittleEndian.Uint32(b[24:])),
			Worker:  int(binary.LittleEndian.Uint16(b[28:])),
			Phase:   Phase(b[30]),
		})
	}
	return out
}

// Reset discards buffered records
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rb.Reset()
}

// CycleSpans groups the records of one cycle by node
func CycleSpans(records []Record, cycleNum uint64) map[int32]Span {
	spans := make(map[int32]Span)
	for _, r := range records {
		if r.Cycle != cycleNum {
			continue
		}
		s := spans[r.Node]
		if r.Phase == PhaseStart {
			s.Start = r.Seq
		} else {
			s.Finish = r.Seq
		}
		spans[r.Node] = s
	}
	return spans
}
