package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/tphakala/signalgraph/internal/port"
)

// Clip detection thresholds, in linear amplitude
const (
	clipThreshold = 1.0
	// clipRelease is about -1 dBFS
	clipRelease = 0.89
	// silenceDB is reported for an empty or silent poll
	silenceDB = -120.0
)

// Level is the meter reading of one poll
type Level struct {
	Peak      float32   `json:"peak"`
	RMS       float32   `json:"rms"`
	PeakDB    float64   `json:"peak_db"`
	RMSDB     float64   `json:"rms_db"`
	Clipping  bool      `json:"clipping"`
	Blocks    int       `json:"blocks"`
	Overruns  uint64    `json:"overruns"`
	Evictions uint64    `json:"evictions"`
	Time      time.Time `json:"time"`
}

// Tap polls the meter ring of one output port
type Tap struct {
	name string
	src  *port.Tap
	buf  []float32

	mu       sync.Mutex
	rec      *WAVRecorder
	last     Level
	clipping bool
}

// NewTap wraps the meter ring of p
func NewTap(name string, p *port.Port) (*Tap, error) {
	src := p.Tap()
	if src == nil || src.Kind() == port.KindEvent {
		return nil, wrapTap(ErrNoTap, name)
	}
	return &Tap{name: name, src: src, buf: make([]float32, src.BlockLength())}, nil
}

// Name returns the tap name
func (t *Tap) Name() string { return t.name }

// Poll drains every block in the ring and returns the level over them. A
// poll that finds no block reports silence with Blocks zero. Blocks are
// appended to the capture file when one is attached.
func (t *Tap) Poll() (Level, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		peak   float32
		sumSq  float64
		n      int
		blocks int
		err    error
	)
	for t.src.ReadBlock(t.buf) {
		blocks++
		for _, v := range t.buf {
			a := float32(math.Abs(float64(v)))
			peak = max(peak, a)
			sumSq += float64(v) * float64(v)
		}
		n += len(t.buf)
		if t.rec != nil && err == nil {
			err = t.rec.Write(t.buf)
		}
	}

	lvl := Level{
		Peak:      peak,
		Blocks:    blocks,
		Overruns:  t.src.Overruns(),
		Evictions: t.src.Evictions(),
		Time:      time.Now(),
	}
	if n > 0 {
		lvl.RMS = float32(math.Sqrt(sumSq / float64(n)))
	}
	lvl.PeakDB = toDB(lvl.Peak)
	lvl.RMSDB = toDB(lvl.RMS)

	// hysteresis so a signal hovering at full scale does not flap
	switch {
	case !t.clipping && peak >= clipThreshold:
		t.clipping = true
	case t.clipping && blocks > 0 && peak < clipRelease:
		t.clipping = false
	}
	lvl.Clipping = t.clipping

	if blocks > 0 {
		t.last = lvl
	}
	return lvl, err
}

// Last returns the level of the most recent poll that found data
func (t *Tap) Last() Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// attach sets the capture file, returning the previous one
func (t *Tap) attach(rec *WAVRecorder) *WAVRecorder {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.rec
	t.rec = rec
	return prev
}

func toDB(v float32) float64 {
	if v <= 0 {
		return silenceDB
	}
	return max(20*math.Log10(float64(v)), silenceDB)
}
