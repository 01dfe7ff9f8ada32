// Package graph builds the processing graph from units, ports and the
// connection registry snapshot. Nodes live in one slice and reference each
// other by index. A built graph is validated acyclic, topologically ordered
// and latency compensated before it is handed to the router.
package graph

import (
	"slices"

	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/registry"
)

// Graph is an immutable processing topology plus the link state the ports
// use while it is committed.
type Graph struct {
	Nodes []Node
	// Order is a topological order of Nodes
	Order     []int32
	Roots     []int32
	Terminals []int32

	blockLength int
	portIndex   map[port.Handle]int32
	unitIndex   map[string]int32

	// links and dests are installed on the ports by Attach
	links map[*port.Port][]*port.Link
	dests map[*port.Port][]port.Handle
	// edges maps each link to its connection endpoints for latency updates
	edges []linkEdge

	maxLatency int
}

type linkEdge struct {
	link     *port.Link
	src, dst int32
}

// topology is the result of the first build phase
type topology struct {
	nodes     []Node
	portIndex map[port.Handle]int32
	unitIndex map[string]int32
	byPort    map[*port.Port]int32
	conns     []registry.Connection
}

// Build creates a graph for units and the enabled connections. Ports owned
// by units are always part of the graph. Standalone ports take part when a
// connection references them. Nothing is attached to ports until Attach.
func Build(units []Unit, conns []registry.Connection, ports *port.Table, blockLength int) (*Graph, error) {
	topo, err := buildTopology(units, conns, ports)
	if err != nil {
		return nil, err
	}
	order, err := kahn(topo.nodes)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes:       topo.nodes,
		Order:       order,
		blockLength: blockLength,
		portIndex:   topo.portIndex,
		unitIndex:   topo.unitIndex,
		links:       make(map[*port.Port][]*port.Link),
		dests:       make(map[*port.Port][]port.Handle),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Root() {
			g.Roots = append(g.Roots, int32(i))
		}
		if n.Terminal() {
			g.Terminals = append(g.Terminals, int32(i))
		}
	}

	for _, c := range topo.conns {
		si, di := topo.portIndex[c.Src], topo.portIndex[c.Dest]
		src, dst := g.Nodes[si].Port, g.Nodes[di].Port
		l := port.NewLink(src, c.Multiplier, true)
		g.links[dst] = append(g.links[dst], l)
		g.dests[src] = append(g.dests[src], c.Dest)
		g.edges = append(g.edges, linkEdge{link: l, src: si, dst: di})
	}

	g.updateLatencies()
	return g, nil
}

// CanConnect reports whether adding src→dst to conns keeps the graph valid.
// It builds the topology only and never touches the ports.
func CanConnect(units []Unit, conns []registry.Connection, ports *port.Table, src, dst port.Handle) error {
	sp, ok := ports.Get(src)
	if !ok {
		return wrapValidation(ErrDanglingConnection, "src", uint32(src))
	}
	dp, ok := ports.Get(dst)
	if !ok {
		return wrapValidation(ErrDanglingConnection, "dest", uint32(dst))
	}
	if src == dst || !registry.Compatible(sp.ID(), dp.ID()) {
		return wrapValidation(ErrInvalidPairing, "pair", sp.String()+" -> "+dp.String())
	}

	proposed := make([]registry.Connection, 0, len(conns)+1)
	proposed = append(proposed, conns...)
	proposed = append(proposed, registry.Connection{Src: src, Dest: dst, Multiplier: 1, Enabled: true})

	topo, err := buildTopology(units, proposed, ports)
	if err != nil {
		return err
	}
	_, err = kahn(topo.nodes)
	return err
}

func buildTopology(units []Unit, conns []registry.Connection, ports *port.Table) (*topology, error) {
	t := &topology{
		portIndex: make(map[port.Handle]int32),
		unitIndex: make(map[string]int32),
		byPort:    make(map[*port.Port]int32),
	}

	// count first so the arena never grows
	size := len(units)
	for _, u := range units {
		size += len(u.Ports())
	}
	var standalone []*port.Port
	for _, c := range conns {
		if !c.Enabled {
			continue
		}
		for _, h := range [2]port.Handle{c.Src, c.Dest} {
			p, ok := ports.Get(h)
			if !ok {
				return nil, wrapValidation(ErrDanglingConnection, "handle", uint32(h))
			}
			if p.ID().OwnerID == "" && !slices.Contains(standalone, p) {
				standalone = append(standalone, p)
			}
		}
	}
	size += len(standalone)
	t.nodes = make([]Node, 0, size)

	addPort := func(p *port.Port) int32 {
		if idx, ok := t.byPort[p]; ok {
			return idx
		}
		idx := int32(len(t.nodes))
		t.nodes = append(t.nodes, Node{Kind: NodePort, Port: p, Name: p.String(), Index: idx})
		t.byPort[p] = idx
		if h := p.Handle(); h != port.InvalidHandle {
			t.portIndex[h] = idx
		}
		return idx
	}

	for _, u := range units {
		ui := int32(len(t.nodes))
		t.nodes = append(t.nodes, Node{Kind: NodeUnit, Unit: u, Name: u.Name(), Index: ui, Latency: max(u.Latency(), 0)})
		t.unitIndex[u.ID()] = ui
		for _, p := range u.Ports() {
			pi := addPort(p)
			if p.Flow() == port.FlowInput {
				link(t.nodes, pi, ui)
			} else {
				link(t.nodes, ui, pi)
				t.nodes[ui].outputs = append(t.nodes[ui].outputs, p)
			}
		}
	}
	for _, p := range standalone {
		addPort(p)
	}

	for _, c := range conns {
		if !c.Enabled {
			continue
		}
		si, ok := t.portIndex[c.Src]
		if !ok {
			return nil, wrapValidation(ErrDanglingConnection, "src", uint32(c.Src))
		}
		di, ok := t.portIndex[c.Dest]
		if !ok {
			return nil, wrapValidation(ErrDanglingConnection, "dest", uint32(c.Dest))
		}
		link(t.nodes, si, di)
		t.conns = append(t.conns, c)
	}

	for i := range t.nodes {
		t.nodes[i].InDegree = int32(len(t.nodes[i].Preds))
	}
	return t, nil
}

func link(nodes []Node, from, to int32) {
	nodes[from].Succs = append(nodes[from].Succs, to)
	nodes[to].Preds = append(nodes[to].Preds, from)
}

// kahn returns a topological order or ErrCycleDetected naming the nodes
// left on the cycle
func kahn(nodes []Node) ([]int32, error) {
	indeg := make([]int32, len(nodes))
	queue := make([]int32, 0, len(nodes))
	for i := range nodes {
		indeg[i] = int32(len(nodes[i].Preds))
		if indeg[i] == 0 {
			queue = append(queue, int32(i))
		}
	}

	order := make([]int32, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, s := range nodes[n].Succs {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) != len(nodes) {
		var stuck []string
		for i := range nodes {
			if indeg[i] > 0 {
				stuck = append(stuck, nodes[i].Name)
			}
		}
		return nil, cycleError(stuck)
	}
	return order, nil
}

// Attach installs the graph's links on its ports. The caller must make sure
// no cycle runs, normally by holding the router's graph lock.
func (g *Graph) Attach() {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == NodePort {
			n.Port.SetLinks(g.links[n.Port], g.dests[n.Port])
		}
	}
}

// Detach removes the graph's links from its ports
func (g *Graph) Detach() {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == NodePort {
			n.Port.SetLinks(nil, nil)
		}
	}
}

// Reset prepares every node for a new cycle
func (g *Graph) Reset() {
	for i := range g.Nodes {
		g.Nodes[i].Reset()
	}
}

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.Nodes) }

// BlockLength returns the block length the link delays were sized for
func (g *Graph) BlockLength() int { return g.blockLength }

// MaxPlaybackLatency returns the largest latency sum over all paths
func (g *Graph) MaxPlaybackLatency() int { return g.maxLatency }

// PortNode returns the node index of the port behind h
func (g *Graph) PortNode(h port.Handle) (int32, bool) {
	i, ok := g.portIndex[h]
	return i, ok
}

// UnitNode returns the node index of the unit with id
func (g *Graph) UnitNode(id string) (int32, bool) {
	i, ok := g.unitIndex[id]
	return i, ok
}

// LinkDelay returns the compensation delay of the connection src→dst
func (g *Graph) LinkDelay(src, dst port.Handle) (int, bool) {
	si, ok := g.portIndex[src]
	if !ok {
		return 0, false
	}
	di, ok := g.portIndex[dst]
	if !ok {
		return 0, false
	}
	for _, e := range g.edges {
		if e.src == si && e.dst == di {
			return e.link.Delay(), true
		}
	}
	return 0, false
}

// Units returns the units in topological order
func (g *Graph) Units() []Unit {
	var out []Unit
	for _, i := range g.Order {
		if g.Nodes[i].Kind == NodeUnit {
			out = append(out, g.Nodes[i].Unit)
		}
	}
	return out
}
