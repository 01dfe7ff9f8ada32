package router

import (
	"slices"
	"sync"

	"github.com/tphakala/signalgraph/internal/graph"
)

// Catalog supplies the processing units of the project. The router reads it
// only while rebuilding the graph.
type Catalog interface {
	Units() []graph.Unit
}

// MutableCatalog is a Catalog the router can add units to and remove them from
type MutableCatalog interface {
	Catalog
	Add(u graph.Unit) error
	Remove(id string) (graph.Unit, bool)
}

// UnitSet is an ordered, concurrency-safe MutableCatalog
type UnitSet struct {
	mu    sync.RWMutex
	units []graph.Unit
}

// NewUnitSet creates a set holding units in the given order
func NewUnitSet(units ...graph.Unit) *UnitSet {
	return &UnitSet{units: slices.Clone(units)}
}

// Units returns a snapshot of the units
func (s *UnitSet) Units() []graph.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.units)
}

// Add appends u. IDs must be unique.
func (s *UnitSet) Add(u graph.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.units, func(x graph.Unit) bool { return x.ID() == u.ID() }) {
		return wrap(ErrDuplicateUnit, "unit", u.ID())
	}
	s.units = append(s.units, u)
	return nil
}

// Remove deletes the unit with id and returns it
func (s *UnitSet) Remove(id string) (graph.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.units, func(x graph.Unit) bool { return x.ID() == id })
	if i < 0 {
		return nil, false
	}
	u := s.units[i]
	s.units = slices.Delete(s.units, i, i+1)
	return u, true
}

// Get returns the unit with id
func (s *UnitSet) Get(id string) (graph.Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.units, func(x graph.Unit) bool { return x.ID() == id })
	if i < 0 {
		return nil, false
	}
	return s.units[i], true
}

// Len returns the number of units
func (s *UnitSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}
