package port

import (
	"sync"
	"sync/atomic"
)

// Handle is a stable reference to a registered port. Zero is never assigned.
type Handle uint32

// InvalidHandle is the zero handle
const InvalidHandle Handle = 0

// Table resolves handles to ports. Lookups are lock-free and safe from the
// processing path. Registration copies the slot slice and publishes it
// atomically. Handles are never reused within a Table.
type Table struct {
	mu    sync.Mutex
	slots atomic.Pointer[[]*Port]
	live  int
}

// NewTable creates an empty table
func NewTable() *Table {
	t := &Table{}
	empty := make([]*Port, 1) // slot 0 is InvalidHandle
	t.slots.Store(&empty)
	return t
}

// Register assigns a handle to p. Registering the same port twice returns its
// existing handle.
func (t *Table) Register(p *Port) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h := p.Handle(); h != InvalidHandle {
		if cur := *t.slots.Load(); int(h) < len(cur) && cur[h] == p {
			return h
		}
	}

	cur := *t.slots.Load()
	next := make([]*Port, len(cur)+1)
	copy(next, cur)
	h := Handle(len(cur))
	next[h] = p
	t.slots.Store(&next)
	t.live++
	p.handle.Store(uint32(h))
	return h
}

// Unregister removes the port behind h
func (t *Table) Unregister(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.slots.Load()
	if h == InvalidHandle || int(h) >= len(cur) || cur[h] == nil {
		return
	}
	next := make([]*Port, len(cur))
	copy(next, cur)
	next[h].handle.Store(uint32(InvalidHandle))
	next[h] = nil
	t.slots.Store(&next)
	t.live--
}

// Get resolves h
func (t *Table) Get(h Handle) (*Port, bool) {
	cur := *t.slots.Load()
	if int(h) >= len(cur) || h == InvalidHandle {
		return nil, false
	}
	p := cur[h]
	return p, p != nil
}

// Len returns the number of registered ports
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Each calls fn for every registered port in handle order
func (t *Table) Each(fn func(Handle, *Port)) {
	cur := *t.slots.Load()
	for i, p := range cur {
		if p != nil {
			fn(Handle(i), p)
		}
	}
}
