package port

// Link is one enabled connection as seen by its destination port. The graph
// creates links at build time. Delay lines are allocated then so that
// processing never allocates.
type Link struct {
	Src        *Port
	Multiplier float32
	Enabled    bool

	delay int

	// audio and CV delay line
	line    []float32
	pos     int
	scratch []float32

	// event delay carry: pending holds delayed events due in the current
	// block, next holds those that spill into the following block
	pending *EventQueue
	next    *EventQueue
}

// NewLink creates a link from src
func NewLink(src *Port, multiplier float32, enabled bool) *Link {
	return &Link{Src: src, Multiplier: multiplier, Enabled: enabled}
}

// Delay returns the compensation delay in frames
func (l *Link) Delay() int { return l.delay }

// SetDelay sets the compensation delay and allocates the delay storage for
// a destination with blockLength frames. Existing delayed samples are kept
// when the size does not change.
func (l *Link) SetDelay(frames, blockLength int) {
	if frames < 0 {
		frames = 0
	}
	if frames == l.delay && (frames == 0 || l.line != nil || l.pending != nil) {
		return
	}
	l.delay = frames
	l.pos = 0
	l.line, l.scratch, l.pending, l.next = nil, nil, nil, nil
	if frames == 0 {
		return
	}
	switch l.Src.Kind() {
	case KindAudio, KindCV:
		l.line = make([]float32, frames)
		l.scratch = make([]float32, blockLength)
	case KindEvent:
		l.pending = NewEventQueue(MaxEvents)
		l.next = NewEventQueue(MaxEvents)
	}
}

// signal returns the source samples for [lo, hi), passed through the delay
// line when one is set
func (l *Link) signal(lo, hi uint32) []float32 {
	in := l.Src.buf[lo:hi]
	if l.line == nil {
		return in
	}
	out := l.scratch[lo:hi]
	n := len(l.line)
	for i, v := range in {
		out[i] = l.line[l.pos]
		l.line[l.pos] = v
		l.pos++
		if l.pos == n {
			l.pos = 0
		}
	}
	return out
}

// collectEvents appends the source events for [lo, hi) to dst, shifted by
// the link delay
func (l *Link) collectEvents(dst *EventQueue, lo, hi uint32, blockLength int, mask uint16) {
	src := l.Src.events
	if l.pending == nil {
		for _, e := range src.events {
			if e.Time >= lo && e.Time < hi && e.passes(mask) {
				dst.Add(e)
			}
		}
		return
	}

	for _, e := range l.pending.events {
		if e.Time >= lo && e.Time < hi && e.passes(mask) {
			dst.Add(e)
		}
	}
	d := uint32(l.delay)
	bl := uint32(blockLength)
	for _, e := range src.events {
		if e.Time < lo || e.Time >= hi {
			continue
		}
		e.Time += d
		switch {
		case e.Time >= bl:
			e.Time -= bl
			if e.Time >= bl {
				// delays longer than a block are capped to the next block
				e.Time = bl - 1
			}
			l.next.Add(e)
		case e.Time < hi:
			if e.passes(mask) {
				dst.Add(e)
			}
		default:
			l.pending.Add(e)
		}
	}

	if hi == bl {
		l.pending, l.next = l.next, l.pending
		l.next.Clear()
	}
}
