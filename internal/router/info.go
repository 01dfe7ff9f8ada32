package router

import (
	"time"

	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/registry"
)

// NodeInfo describes one graph node for status output
type NodeInfo struct {
	Index   int32   `json:"index" yaml:"index"`
	Name    string  `json:"name" yaml:"name"`
	Kind    string  `json:"kind" yaml:"kind"`
	Latency int     `json:"latency" yaml:"latency"`
	Arrival int     `json:"arrival" yaml:"arrival"`
	Route   int     `json:"route" yaml:"route"`
	Preds   []int32 `json:"preds,omitempty" yaml:"preds,omitempty"`
	Succs   []int32 `json:"succs,omitempty" yaml:"succs,omitempty"`
}

// LinkInfo describes one enabled connection and its compensation delay
type LinkInfo struct {
	Src        string  `json:"src" yaml:"src"`
	Dest       string  `json:"dest" yaml:"dest"`
	Multiplier float32 `json:"multiplier" yaml:"multiplier"`
	Locked     bool    `json:"locked" yaml:"locked"`
	Delay      int     `json:"delay" yaml:"delay"`
}

// GraphInfo is an immutable snapshot of the committed graph
type GraphInfo struct {
	Nodes              []NodeInfo `json:"nodes" yaml:"nodes"`
	Order              []int32    `json:"order" yaml:"order"`
	Links              []LinkInfo `json:"links" yaml:"links"`
	MaxPlaybackLatency int        `json:"max_playback_latency" yaml:"max_playback_latency"`
	RegistryGeneration uint64     `json:"registry_generation" yaml:"registry_generation"`
	BuiltAt            time.Time  `json:"built_at" yaml:"built_at"`
	Soft               bool       `json:"soft" yaml:"soft"`
}

func nodeKind(k graph.NodeKind) string {
	if k == graph.NodeUnit {
		return "unit"
	}
	return "port"
}

func (r *Router) snapshot(g *graph.Graph, conns []registry.Connection, soft bool) *GraphInfo {
	info := &GraphInfo{
		Nodes:              make([]NodeInfo, len(g.Nodes)),
		Order:              g.Order,
		MaxPlaybackLatency: g.MaxPlaybackLatency(),
		RegistryGeneration: r.reg.Generation(),
		BuiltAt:            time.Now(),
		Soft:               soft,
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		info.Nodes[i] = NodeInfo{
			Index:   int32(i),
			Name:    n.Name,
			Kind:    nodeKind(n.Kind),
			Latency: n.Latency,
			Arrival: n.Arrival,
			Route:   n.Route,
			Preds:   n.Preds,
			Succs:   n.Succs,
		}
	}
	for _, c := range conns {
		delay, ok := g.LinkDelay(c.Src, c.Dest)
		if !ok {
			continue
		}
		src, _ := r.ports.Get(c.Src)
		dst, _ := r.ports.Get(c.Dest)
		if src == nil || dst == nil {
			continue
		}
		info.Links = append(info.Links, LinkInfo{
			Src:        src.String(),
			Dest:       dst.String(),
			Multiplier: c.Multiplier,
			Locked:     c.Locked,
			Delay:      delay,
		})
	}
	return info
}

// Info returns the snapshot of the committed graph, nil before the first build
func (r *Router) Info() *GraphInfo {
	return r.info.Load()
}
