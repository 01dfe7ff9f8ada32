package graph

import (
	"context"
	"sync/atomic"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/port"
)

// Unit is a processing unit: a plugin, fader, track processor or anything
// else that reads input ports and writes output ports.
type Unit interface {
	ID() string
	Name() string
	Ports() []*port.Port
	// Latency is the unit's intrinsic processing delay in frames
	Latency() int
	Process(ctx context.Context, ti cycle.TimeInfo) error
}

// NodeKind tells what a node wraps
type NodeKind uint8

const (
	NodeUnit NodeKind = iota
	NodePort
)

// Node is one vertex of the processing graph. Edges are indices into
// Graph.Nodes.
type Node struct {
	Kind NodeKind
	Unit Unit
	Port *port.Port
	Name string
	// Index is the node's position in Graph.Nodes
	Index int32

	Preds []int32
	Succs []int32

	// InDegree is len(Preds), the initial remaining count of every cycle
	InDegree int32
	// Latency is the intrinsic latency, zero for ports
	Latency int
	// Arrival is the latest time, in frames, a signal reaches this node
	Arrival int
	// Route is the longest latency sum from this node to a terminal node
	Route int

	remaining atomic.Int32
	outputs   []*port.Port
}

// Terminal reports whether no node depends on n
func (n *Node) Terminal() bool { return len(n.Succs) == 0 }

// Root reports whether n depends on no node
func (n *Node) Root() bool { return len(n.Preds) == 0 }

// Reset restores the remaining-predecessor count for a new cycle
func (n *Node) Reset() { n.remaining.Store(n.InDegree) }

// Release decrements the remaining count and reports whether it reached zero
func (n *Node) Release() bool { return n.remaining.Add(-1) == 0 }

// Process runs the unit or port for ti. Output ports of a unit are cleared
// for the sub-block before the unit writes them.
func (n *Node) Process(ctx context.Context, ti cycle.TimeInfo) error {
	if n.Kind == NodePort {
		n.Port.Process(ctx, ti)
		return nil
	}
	for _, p := range n.outputs {
		p.PrepareOutput(ti)
	}
	return n.Unit.Process(ctx, ti)
}

// ZeroOutputs silences what the node produces for ti. It is used after a
// node fails so dependents run with silence.
func (n *Node) ZeroOutputs(ti cycle.TimeInfo) {
	if n.Kind == NodePort {
		n.Port.PrepareOutput(ti)
		return
	}
	for _, p := range n.outputs {
		p.PrepareOutput(ti)
	}
}
