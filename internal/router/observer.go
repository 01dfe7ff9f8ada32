package router

import (
	"sync/atomic"
	"time"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
)

// nodeObserver records unit timings and reports node failures. Failure logs
// are throttled, a unit can fail on every cycle.
type nodeObserver struct {
	recorder  metrics.Recorder
	publisher events.Publisher
	failWarn  *logger.Throttle
	log       logger.Logger

	// timers holds the duration observer of each unit node of the
	// committed graph, indexed by node
	timers atomic.Pointer[[]metrics.DurationObserver]
}

func newNodeObserver(recorder metrics.Recorder, publisher events.Publisher, failWarn *logger.Throttle, log logger.Logger) *nodeObserver {
	return &nodeObserver{
		recorder:  recorder,
		publisher: publisher,
		failWarn:  failWarn,
		log:       log,
	}
}

// bind resolves the unit timers of g. It runs at commit, before any cycle
// uses g.
func (o *nodeObserver) bind(g *graph.Graph) {
	timers := make([]metrics.DurationObserver, len(g.Nodes))
	for i := range g.Nodes {
		if g.Nodes[i].Kind == graph.NodeUnit {
			timers[i] = metrics.UnitObserver(o.recorder, g.Nodes[i].Name)
		}
	}
	o.timers.Store(&timers)
}

// NodeProcessed implements scheduler.Observer
func (o *nodeObserver) NodeProcessed(n *graph.Node, d time.Duration, err error) {
	if timers := o.timers.Load(); timers != nil && int(n.Index) < len(*timers) {
		if t := (*timers)[n.Index]; t != nil {
			t.Observe(d.Seconds())
		}
	}
	if err == nil {
		return
	}

	category := string(errors.CategoryProcessing)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Category != errors.CategoryGeneric {
		category = string(ee.Category)
	}
	o.recorder.RecordError(metrics.OpNodeProcess, category)
	o.publisher.TryPublish(events.Event{Kind: events.KindNodeFailed, Source: n.Name, Err: ee})

	if dropped, ok := o.failWarn.Allow(); ok {
		o.log.Warn("node failed, outputs zeroed for this cycle",
			logger.String("node", n.Name),
			logger.String("category", category),
			logger.Error(err),
			logger.Suppressed(dropped))
	}
}
