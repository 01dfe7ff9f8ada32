// Package scheduler runs a processing graph on a fixed set of worker
// goroutines, each locked to its own OS thread.
//
// A cycle starts with every node's remaining-predecessor counter reset and
// the root nodes pushed to the ready queue. A worker pops a node, processes
// it and decrements each successor; successors that reach zero are pushed.
// The cycle completes when the last terminal node finishes.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Tracer receives node start and finish marks. Implementations must not block.
type Tracer interface {
	NodeStarted(cycleNum uint64, node int32, worker int)
	NodeFinished(cycleNum uint64, node int32, worker int)
}

// Observer is told about every processed node. err is non-nil when the node
// failed and its outputs were zero-filled. Implementations must not block.
type Observer interface {
	NodeProcessed(n *graph.Node, d time.Duration, err error)
}

// Config configures a Pool
type Config struct {
	Workers       int
	QueueCapacity int
	Tracer        Tracer
	Observer      Observer
	Log           logger.Logger
}

// task is one ready node. It carries the cycle's graph and timing so a
// worker never reads state that the next kickoff may overwrite.
type task struct {
	g    *graph.Graph
	node int32
	ti   cycle.TimeInfo
}

// Pool is a fixed set of processing workers
type Pool struct {
	cfg Config
	log logger.Logger

	queue chan task
	done  chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup

	running   atomic.Bool
	terminals atomic.Int32
	mu        sync.Mutex
}

// New creates a stopped pool
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	log := cfg.Log
	if log == nil {
		log = logger.Global().Module("scheduler")
	}
	return &Pool{cfg: cfg, log: log}
}

// Workers returns the number of worker goroutines
func (p *Pool) Workers() int { return p.cfg.Workers }

// QueueCapacity returns the ready queue size
func (p *Pool) QueueCapacity() int { return p.cfg.QueueCapacity }

// Running reports whether workers are started
func (p *Pool) Running() bool { return p.running.Load() }

// Start spawns the workers. ctx is the parent of each worker's context and
// should not be cancelled before Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}
	p.queue = make(chan task, p.cfg.QueueCapacity)
	p.done = make(chan struct{}, 1)
	p.quit = make(chan struct{})

	ready := make(chan struct{}, p.cfg.Workers)
	for i := range p.cfg.Workers {
		p.wg.Add(1)
		go p.worker(cycle.WithRole(ctx, cycle.RoleWorker), i, ready)
	}
	for range p.cfg.Workers {
		<-ready
	}
	p.running.Store(true)

	p.log.Info("worker pool started",
		logger.Int("workers", p.cfg.Workers),
		logger.Int("queue_capacity", p.cfg.QueueCapacity))
	return nil
}

// Stop terminates the workers and waits for them. It must not be called
// while a cycle runs.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Swap(false) {
		return
	}
	close(p.quit)
	p.wg.Wait()
	p.log.Debug("worker pool stopped")
}

// Resize restarts the pool with a larger ready queue. It must not be called
// while a cycle runs.
func (p *Pool) Resize(ctx context.Context, queueCapacity int) error {
	if queueCapacity <= p.cfg.QueueCapacity {
		return nil
	}
	wasRunning := p.Running()
	p.Stop()
	p.mu.Lock()
	p.cfg.QueueCapacity = queueCapacity
	p.mu.Unlock()
	if wasRunning {
		return p.Start(ctx)
	}
	return nil
}

// Run executes g for ti and blocks until every node has been processed.
// Only one goroutine may call Run at a time.
func (p *Pool) Run(g *graph.Graph, ti cycle.TimeInfo) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	if g == nil || g.Len() == 0 {
		return nil
	}
	if g.Len() > cap(p.queue) {
		return ErrQueueTooSmall
	}

	g.Reset()
	p.terminals.Store(int32(len(g.Terminals)))
	for _, r := range g.Roots {
		p.queue <- task{g: g, node: r, ti: ti}
	}
	<-p.done
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, ready chan<- struct{}) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ready <- struct{}{}
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.queue:
			p.execute(ctx, id, t)
		}
	}
}

func (p *Pool) execute(ctx context.Context, worker int, t task) {
	n := &t.g.Nodes[t.node]

	if p.cfg.Tracer != nil {
		p.cfg.Tracer.NodeStarted(t.ti.Cycle, t.node, worker)
	}
	var start time.Time
	if p.cfg.Observer != nil {
		start = time.Now()
	}

	err := safeProcess(ctx, n, t.ti)
	if err != nil {
		n.ZeroOutputs(t.ti)
	}

	if p.cfg.Observer != nil {
		p.cfg.Observer.NodeProcessed(n, time.Since(start), err)
	}
	if p.cfg.Tracer != nil {
		p.cfg.Tracer.NodeFinished(t.ti.Cycle, t.node, worker)
	}

	for _, s := range n.Succs {
		if t.g.Nodes[s].Release() {
			p.queue <- task{g: t.g, node: s, ti: t.ti}
		}
	}

	if n.Terminal() && p.terminals.Add(-1) == 0 {
		p.done <- struct{}{}
	}
}

// safeProcess turns a panic in node code into an error
func safeProcess(ctx context.Context, n *graph.Node, ti cycle.TimeInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nodePanic(n.Name, r)
		}
	}()
	return n.Process(ctx, ti)
}

// String describes the pool for logs
func (p *Pool) String() string {
	return fmt.Sprintf("pool(workers=%d, queue=%d)", p.cfg.Workers, p.cfg.QueueCapacity)
}
