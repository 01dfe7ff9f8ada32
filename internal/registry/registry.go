// Package registry keeps the set of port connections. It is edited from
// non-real-time goroutines. The graph builder reads a snapshot of it at
// rebuild time, so edits never affect a cycle in progress.
package registry

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/port"
)

// Connection links a source port to a destination port
type Connection struct {
	Src        port.Handle
	Dest       port.Handle
	Multiplier float32
	Enabled    bool
	Locked     bool
}

type key struct {
	src, dst port.Handle
}

// Guard vets a connection that is about to become enabled. conns is the
// registry without that change. It runs under the registry lock and must
// not call back into the registry.
type Guard func(conns []Connection, src, dst port.Handle) error

// Registry is the connection set of one engine session.
type Registry struct {
	mu    sync.RWMutex
	table *port.Table
	conns []*Connection
	index map[key]*Connection
	guard Guard

	generation atomic.Uint64
}

// New creates an empty registry validating against table
func New(table *port.Table) *Registry {
	return &Registry{
		table: table,
		index: make(map[key]*Connection),
	}
}

// SetGuard installs g. Every edit that enables a connection is checked by
// it and rejected on error, so the registry never holds a connection the
// guard refused.
func (r *Registry) SetGuard(g Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = g
}

// Generation increases on every change. Caches keyed by it are invalidated
// by any edit.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Len returns the number of connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Find returns the connection from src to dst
func (r *Registry) Find(src, dst port.Handle) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.index[key{src, dst}]; ok {
		return *c, true
	}
	return Connection{}, false
}

// CheckPair validates a proposed connection without touching the registry
func (r *Registry) CheckPair(src, dst port.Handle) error {
	if src == dst {
		return connectionError(ErrSelfConnection, src, dst)
	}
	sp, ok := r.table.Get(src)
	if !ok {
		return connectionError(ErrUnknownPort, src, dst)
	}
	dp, ok := r.table.Get(dst)
	if !ok {
		return connectionError(ErrUnknownPort, src, dst)
	}
	if !Compatible(sp.ID(), dp.ID()) {
		return connectionError(ErrIncompatiblePorts, src, dst)
	}
	return nil
}

// Compatible reports whether data can flow from src to dst. Connections go
// from an output to an input. Audio feeds audio or CV, CV feeds CV or
// control inputs, events feed events.
func Compatible(src, dst port.Identifier) bool {
	if src.Flow != port.FlowOutput || dst.Flow != port.FlowInput {
		return false
	}
	switch src.Kind {
	case port.KindAudio:
		return dst.Kind == port.KindAudio || dst.Kind == port.KindCV
	case port.KindCV:
		return dst.Kind == port.KindCV || dst.Kind == port.KindControl
	case port.KindEvent:
		return dst.Kind == port.KindEvent
	default:
		return false
	}
}

// EnsureConnect creates the connection or updates an existing one with the
// given attributes. Enabling it runs the guard first.
func (r *Registry) EnsureConnect(src, dst port.Handle, multiplier float32, locked, enabled bool) (Connection, error) {
	if err := r.CheckPair(src, dst); err != nil {
		return Connection{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{src, dst}
	c, ok := r.index[k]
	if enabled && (!ok || !c.Enabled) {
		if err := r.checkLocked(src, dst); err != nil {
			return Connection{}, err
		}
	}
	if !ok {
		c = &Connection{Src: src, Dest: dst}
		r.conns = append(r.conns, c)
		r.index[k] = c
	}
	c.Multiplier = multiplier
	c.Locked = locked
	c.Enabled = enabled
	r.generation.Add(1)
	return *c, nil
}

// EnsureDisconnect removes the connection if present. Locked connections
// are kept unless force is set.
func (r *Registry) EnsureDisconnect(src, dst port.Handle, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{src, dst}
	c, ok := r.index[k]
	if !ok {
		return nil
	}
	if c.Locked && !force {
		return connectionError(ErrLocked, src, dst)
	}
	r.removeLocked(k, c)
	return nil
}

func (r *Registry) removeLocked(k key, c *Connection) {
	delete(r.index, k)
	r.conns = slices.DeleteFunc(r.conns, func(x *Connection) bool { return x == c })
	r.generation.Add(1)
}

// DisconnectPort removes every connection touching h, locked or not, and
// returns how many were removed. Call it before a port is destroyed.
func (r *Registry) DisconnectPort(h port.Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, c := range r.index {
		if k.src == h || k.dst == h {
			r.removeLocked(k, c)
			n++
		}
	}
	return n
}

// SourcesOrDests returns the connections feeding h when sources is set,
// otherwise the connections leaving h, in insertion order
func (r *Registry) SourcesOrDests(h port.Handle, sources bool) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Connection
	for _, c := range r.conns {
		if (sources && c.Dest == h) || (!sources && c.Src == h) {
			out = append(out, *c)
		}
	}
	return out
}

// Snapshot returns a copy of all connections in insertion order
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Connection {
	out := make([]Connection, len(r.conns))
	for i, c := range r.conns {
		out[i] = *c
	}
	return out
}

// SetEnabled toggles a connection. Enabling a disabled one runs the guard.
func (r *Registry) SetEnabled(src, dst port.Handle, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.index[key{src, dst}]
	if !ok {
		return connectionError(ErrNotConnected, src, dst)
	}
	if c.Enabled == enabled {
		return nil
	}
	if enabled {
		if err := r.checkLocked(src, dst); err != nil {
			return err
		}
	}
	c.Enabled = enabled
	r.generation.Add(1)
	return nil
}

func (r *Registry) checkLocked(src, dst port.Handle) error {
	if r.guard == nil {
		return nil
	}
	return r.guard(r.snapshotLocked(), src, dst)
}

// SetMultiplier changes the gain applied to a connection
func (r *Registry) SetMultiplier(src, dst port.Handle, multiplier float32) error {
	return r.edit(src, dst, func(c *Connection) { c.Multiplier = multiplier })
}

// SetLocked marks a connection as locked against plain disconnects
func (r *Registry) SetLocked(src, dst port.Handle, locked bool) error {
	return r.edit(src, dst, func(c *Connection) { c.Locked = locked })
}

func (r *Registry) edit(src, dst port.Handle, fn func(*Connection)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.index[key{src, dst}]
	if !ok {
		return connectionError(ErrNotConnected, src, dst)
	}
	fn(c)
	r.generation.Add(1)
	return nil
}
