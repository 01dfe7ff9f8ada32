package scheduler

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentScheduler = "scheduler"

// ErrNotRunning is returned when a cycle is requested from a stopped pool
var ErrNotRunning = errors.Newf("worker pool is not running").
	Component(componentScheduler).
	Category(errors.CategoryState).
	Build()

// ErrQueueTooSmall is returned when a graph has more nodes than the ready queue holds
var ErrQueueTooSmall = errors.Newf("ready queue smaller than graph").
	Component(componentScheduler).
	Category(errors.CategoryLimit).
	Build()

// ErrAlreadyRunning is returned by Start on a running pool
var ErrAlreadyRunning = errors.Newf("worker pool already running").
	Component(componentScheduler).
	Category(errors.CategoryState).
	Build()

// nodePanic wraps a recovered panic value so it can travel as an error
func nodePanic(node string, value any) error {
	return errors.Newf("node %s panicked: %v", node, value).
		Component(componentScheduler).
		Category(errors.CategoryWorker).
		Context("node", node).
		Build()
}
