// Package units provides the processing units of the demo session: signal
// generators, a gain stage, a lookahead delay, a mixer and the master sink
// that backends read from.
package units

import (
	"github.com/google/uuid"

	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/port"
)

var log = logger.Global().Module(componentUnits)

// base carries the identity and ports shared by every unit
type base struct {
	id    string
	name  string
	cfg   *port.Config
	ports []*port.Port
}

func newBase(cfg *port.Config, name string) base {
	return base{id: uuid.NewString(), name: name, cfg: cfg}
}

// ID returns the unit's unique identifier
func (b *base) ID() string { return b.id }

// Name returns the unit's display name
func (b *base) Name() string { return b.name }

// Ports returns every port of the unit
func (b *base) Ports() []*port.Port { return b.ports }

// Latency is zero unless a unit overrides it
func (b *base) Latency() int { return 0 }

// Port returns the port with the given label
func (b *base) Port(label string) *port.Port {
	for _, p := range b.ports {
		if p.ID().Label == label {
			return p
		}
	}
	return nil
}

func (b *base) addPort(label string, flow port.Flow, kind port.Kind, flags port.Flags, rng port.Range) (*port.Port, error) {
	p, err := port.New(b.cfg, port.Identifier{
		OwnerID: b.name,
		Label:   label,
		Flow:    flow,
		Kind:    kind,
		Flags:   flags,
	}, rng)
	if err != nil {
		return nil, err
	}
	b.ports = append(b.ports, p)
	return p, nil
}

// portBuilder creates a unit's ports in order and stops at the first error
type portBuilder struct {
	b   *base
	err error
}

func (pb *portBuilder) add(label string, flow port.Flow, kind port.Kind, flags port.Flags, rng port.Range) *port.Port {
	if pb.err != nil {
		return nil
	}
	p, err := pb.b.addPort(label, flow, kind, flags, rng)
	pb.err = err
	return p
}

// control returns a control input port range with the given default
func control(minV, maxV, def float32) port.Range {
	return port.Range{Min: minV, Max: maxV, Default: def}
}
