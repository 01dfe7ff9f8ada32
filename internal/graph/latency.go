package graph

// updateLatencies computes arrival and route latencies in topological order
// and sizes the delay of every link so that all signals reaching a unit line
// up with the slowest one.
func (g *Graph) updateLatencies() {
	for _, i := range g.Order {
		n := &g.Nodes[i]
		if n.Kind == NodeUnit {
			n.Latency = max(n.Unit.Latency(), 0)
		}
		arrival := 0
		for _, p := range n.Preds {
			pred := &g.Nodes[p]
			arrival = max(arrival, pred.Arrival+pred.Latency)
		}
		n.Arrival = arrival
	}

	g.maxLatency = 0
	for k := len(g.Order) - 1; k >= 0; k-- {
		n := &g.Nodes[g.Order[k]]
		down := 0
		for _, s := range n.Succs {
			down = max(down, g.Nodes[s].Route)
		}
		n.Route = n.Latency + down
		if n.Root() {
			g.maxLatency = max(g.maxLatency, n.Route)
		}
	}

	for _, e := range g.edges {
		src := &g.Nodes[e.src]
		delay := g.target(e.dst) - (src.Arrival + src.Latency)
		e.link.SetDelay(delay, g.blockLength)
	}
}

// target is the arrival time a link into node dst must be aligned to: the
// owning unit's arrival, or the port's own for standalone ports
func (g *Graph) target(dst int32) int {
	n := &g.Nodes[dst]
	for _, s := range n.Succs {
		if g.Nodes[s].Kind == NodeUnit {
			return g.Nodes[s].Arrival
		}
	}
	return n.Arrival
}

// SoftRecalc re-reads unit latencies and updates arrival times, route
// latencies and link delays without rebuilding the topology. Delay lines
// keep their contents when their length does not change.
func (g *Graph) SoftRecalc() {
	g.updateLatencies()
}
