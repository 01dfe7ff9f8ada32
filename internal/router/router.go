// Package router owns the committed processing graph. It runs one cycle per
// backend callback, applies queued control changes at cycle start and
// rebuilds the graph when the project topology changes.
//
// Rebuilds and cycles are serialized by a single mutex. A rebuild takes it
// with Lock, a cycle only with TryLock, so the callback never waits for a
// rebuild: the cycle is skipped instead.
package router

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/signalgraph/internal/cpuspec"
	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/registry"
	"github.com/tphakala/signalgraph/internal/scheduler"
)

// Defaults applied by New for zero Config fields
const (
	DefaultQueueCapacity      = 1024
	DefaultControlQueueSize   = 256
	DefaultValidationCacheTTL = 30 * time.Second
	DefaultFailureLogRate     = 1.0
)

// Config wires a Router to its collaborators. Ports is required, everything
// else has a default.
type Config struct {
	Ports    *port.Config
	Table    *port.Table
	Registry *registry.Registry
	Catalog  Catalog

	// Workers is the processing thread count, 0 sizes it from the CPU
	Workers       int
	QueueCapacity int

	// ControlQueueSize is the control ring size in changes
	ControlQueueSize int
	// ValidationCacheTTL is how long CanConnect results are reused
	ValidationCacheTTL time.Duration
	// FailureLogRate is the number of node failure logs per second
	FailureLogRate float64

	Metrics   metrics.Recorder
	Tracer    scheduler.Tracer
	Publisher events.Publisher
	Log       logger.Logger
}

// Router is the façade over the processing graph and its worker pool
type Router struct {
	cfg       Config
	log       logger.Logger
	ports     *port.Table
	reg       *registry.Registry
	catalog   Catalog
	pool      *scheduler.Pool
	recorder  metrics.Recorder
	publisher events.Publisher

	ctx        context.Context
	cancel     context.CancelFunc
	kickoffCtx context.Context

	// editMu serializes topology edits from control goroutines: the
	// registry or catalog change and the rebuild that follows it
	editMu sync.Mutex

	// graphAccess guards g, preroll and tempo
	graphAccess sync.Mutex
	g           *graph.Graph
	preroll     int
	tempo       cycle.Tempo

	rebuilding    atomic.Bool
	stopped       atomic.Bool
	maxLatency    atomic.Int64
	cycles        atomic.Uint64
	skipped       atomic.Uint64
	unitGen       atomic.Uint64
	info          atomic.Pointer[GraphInfo]
	tempoSnapshot atomic.Pointer[cycle.Tempo]

	controls   *controlQueue
	validation *cache.Cache
	failWarn   *logger.Throttle
	observer   *nodeObserver
}

// New creates a router, starts its workers and commits the initial graph.
// Worker start or graph build failures are returned as hard errors.
func New(cfg Config) (*Router, error) {
	if cfg.Ports == nil {
		return nil, errors.Newf("router requires a port config").
			Component(componentRouter).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := cfg.Ports.Validate(); err != nil {
		return nil, err
	}
	if cfg.Table == nil {
		cfg.Table = port.NewTable()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(cfg.Table)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = NewUnitSet()
	}
	cfg.Workers = cpuspec.GetCPUSpec().WorkerCount(cfg.Workers)
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.ControlQueueSize <= 0 {
		cfg.ControlQueueSize = DefaultControlQueueSize
	}
	if cfg.ValidationCacheTTL <= 0 {
		cfg.ValidationCacheTTL = DefaultValidationCacheTTL
	}
	if cfg.FailureLogRate <= 0 {
		cfg.FailureLogRate = DefaultFailureLogRate
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoOpRecorder()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Global().Module(componentRouter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:        cfg,
		log:        cfg.Log,
		ports:      cfg.Table,
		reg:        cfg.Registry,
		catalog:    cfg.Catalog,
		recorder:   cfg.Metrics,
		publisher:  cfg.Publisher,
		ctx:        ctx,
		cancel:     cancel,
		kickoffCtx: cycle.WithRole(ctx, cycle.RoleKickoff),
		tempo:      cycle.DefaultTempo,
		controls:   newControlQueue(cfg.ControlQueueSize),
		validation: cache.New(cfg.ValidationCacheTTL, 2*cfg.ValidationCacheTTL),
		failWarn:   logger.NewThrottle(cfg.FailureLogRate),
	}

	r.observer = newNodeObserver(r.recorder, r.publisher, r.failWarn, r.log)
	r.pool = scheduler.New(scheduler.Config{
		Workers:       cfg.Workers,
		QueueCapacity: cfg.QueueCapacity,
		Tracer:        cfg.Tracer,
		Observer:      r.observer,
		Log:           r.log.Module("scheduler"),
	})
	if err := r.pool.Start(ctx); err != nil {
		cancel()
		return nil, errors.New(err).
			Component(componentRouter).
			Category(errors.CategoryWorker).
			Context("workers", cfg.Workers).
			Build()
	}
	r.recorder.RecordValue(metrics.ValueWorkers, float64(r.pool.Workers()))

	r.reg.SetGuard(func(conns []registry.Connection, src, dst port.Handle) error {
		return graph.CanConnect(r.catalog.Units(), conns, r.ports, src, dst)
	})
	if err := r.RecalcGraph(false); err != nil {
		r.pool.Stop()
		cancel()
		return nil, err
	}

	r.log.Info("router started",
		logger.Int("workers", r.pool.Workers()),
		logger.Int("block_length", cfg.Ports.BlockLength),
		logger.Int("sample_rate", cfg.Ports.SampleRate))
	return r, nil
}

// StartCycle runs one cycle for ti and blocks until every node is done. It
// is StartCycleContext with the router's own kickoff context.
func (r *Router) StartCycle(ti cycle.TimeInfo) error {
	return r.StartCycleContext(r.kickoffCtx, ti)
}

// StartCycleContext runs one cycle. ctx must carry the kickoff role, see
// KickoffContext. The cycle is skipped with ErrRebuildInProgress when a
// rebuild holds the graph.
func (r *Router) StartCycleContext(ctx context.Context, ti cycle.TimeInfo) error {
	if r.stopped.Load() {
		return ErrRouterStopped
	}
	if !cycle.IsKickoffThread(ctx) {
		return ErrNotKickoffThread
	}
	if ti.NFrames == 0 || int(ti.End()) > r.cfg.Ports.BlockLength {
		return wrap(ErrInvalidTimeInfo, "span", fmt.Sprintf("%d+%d", ti.LocalOffset, ti.NFrames))
	}

	if !r.graphAccess.TryLock() {
		r.skipped.Add(1)
		r.recorder.RecordOperation(metrics.OpCycle, metrics.StatusSkipped)
		return ErrRebuildInProgress
	}
	defer r.graphAccess.Unlock()
	if r.stopped.Load() {
		return ErrRouterStopped
	}

	start := time.Now()

	// draining
	before := r.tempo
	r.drainControls()
	if r.tempo != before {
		t := r.tempo
		r.tempoSnapshot.Store(&t)
	}

	// kickoff
	ti.Cycle = r.cycles.Add(1)
	ti.Tempo = r.tempo
	ti.GlobalLatencyOffset = int(r.maxLatency.Load()) - r.preroll
	r.preroll = max(r.preroll-int(ti.NFrames), 0)

	// running
	if err := r.pool.Run(r.g, ti); err != nil {
		r.recorder.RecordOperation(metrics.OpCycle, metrics.StatusError)
		return err
	}

	r.recorder.RecordOperation(metrics.OpCycle, metrics.StatusSuccess)
	r.recorder.RecordDuration(metrics.OpCycle, time.Since(start).Seconds())
	return nil
}

// RecalcGraph recomputes the graph. With soft set only latencies and link
// delays of the committed graph are updated. Otherwise a new graph is built
// from the catalog and the registry and swapped in; on error the committed
// graph stays in place.
func (r *Router) RecalcGraph(soft bool) error {
	r.editMu.Lock()
	defer r.editMu.Unlock()
	return r.recalc(soft)
}

// recalc is RecalcGraph for callers holding editMu
func (r *Router) recalc(soft bool) error {
	if r.stopped.Load() {
		return ErrRouterStopped
	}

	r.graphAccess.Lock()
	defer r.graphAccess.Unlock()
	r.rebuilding.Store(true)
	defer r.rebuilding.Store(false)

	start := time.Now()
	op := metrics.OpRebuild
	if soft && r.g != nil {
		op = metrics.OpSoftRecalc
		r.g.SoftRecalc()
		r.commit(r.g, true)
		r.recorder.RecordOperation(op, metrics.StatusSuccess)
		r.recorder.RecordDuration(op, time.Since(start).Seconds())
		return nil
	}

	conns := r.reg.Snapshot()
	g, err := graph.Build(r.catalog.Units(), conns, r.ports, r.cfg.Ports.BlockLength)
	if err != nil {
		r.recorder.RecordOperation(op, metrics.StatusError)
		r.log.Warn("graph rebuild rejected", logger.Error(err))
		return err
	}
	if need := g.Len(); need > r.pool.QueueCapacity() {
		if err := r.pool.Resize(r.ctx, nextPowerOfTwo(need)); err != nil {
			r.recorder.RecordOperation(op, metrics.StatusError)
			return errors.New(err).
				Component(componentRouter).
				Category(errors.CategoryWorker).
				Context("queue_capacity", need).
				Build()
		}
		r.recorder.RecordValue(metrics.ValueQueueCapacity, float64(r.pool.QueueCapacity()))
	}

	if r.g != nil {
		r.g.Detach()
	}
	g.Attach()
	r.observer.bind(g)
	r.g = g
	r.commit(g, false)

	r.recorder.RecordOperation(op, metrics.StatusSuccess)
	r.recorder.RecordDuration(op, time.Since(start).Seconds())
	r.log.Debug("graph rebuilt",
		logger.Int("nodes", g.Len()),
		logger.Int("roots", len(g.Roots)),
		logger.Int("terminals", len(g.Terminals)),
		logger.Int("max_playback_latency", g.MaxPlaybackLatency()),
		logger.Duration("took", time.Since(start)))
	return nil
}

// commit publishes the latency and snapshot of g. graphAccess must be held.
func (r *Router) commit(g *graph.Graph, soft bool) {
	latency := g.MaxPlaybackLatency()
	old := r.maxLatency.Swap(int64(latency))
	r.preroll = latency

	r.info.Store(r.snapshot(g, r.reg.Snapshot(), soft))
	r.recorder.RecordValue(metrics.ValueGraphNodes, float64(g.Len()))
	r.recorder.RecordValue(metrics.ValuePlaybackLatency, float64(latency))

	r.publisher.TryPublish(events.Event{
		Kind:   events.KindGraphRebuilt,
		Count:  int64(g.Len()),
		Source: componentRouter,
	})
	if old != int64(latency) {
		r.publisher.TryPublish(events.Event{
			Kind:   events.KindLatencyChanged,
			Count:  int64(latency),
			Source: componentRouter,
		})
	}
}

// CanConnect reports whether connecting src to dst keeps the graph valid,
// without committing anything. Results are cached per registry generation.
func (r *Router) CanConnect(src, dst port.Handle) error {
	key := fmt.Sprintf("%d:%d:%d:%d", r.reg.Generation(), r.unitGen.Load(), src, dst)
	if v, ok := r.validation.Get(key); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}
	err := graph.CanConnect(r.catalog.Units(), r.reg.Snapshot(), r.ports, src, dst)
	if err != nil {
		r.validation.SetDefault(key, err)
	} else {
		r.validation.SetDefault(key, nil)
	}
	return err
}

// Connect validates and adds src→dst, then rebuilds the graph. An existing
// connection keeps its lock state. On a failed rebuild the registry is
// rolled back.
func (r *Router) Connect(src, dst port.Handle, multiplier float32) (registry.Connection, error) {
	r.editMu.Lock()
	defer r.editMu.Unlock()

	if err := r.CanConnect(src, dst); err != nil {
		return registry.Connection{}, err
	}
	prev, existed := r.reg.Find(src, dst)
	c, err := r.reg.EnsureConnect(src, dst, multiplier, prev.Locked, true)
	if err != nil {
		return registry.Connection{}, err
	}
	if err := r.recalc(false); err != nil {
		r.restoreConnection(src, dst, prev, existed)
		return registry.Connection{}, err
	}
	return c, nil
}

// Disconnect removes src→dst, then rebuilds the graph
func (r *Router) Disconnect(src, dst port.Handle) error {
	r.editMu.Lock()
	defer r.editMu.Unlock()

	prev, existed := r.reg.Find(src, dst)
	if !existed {
		return nil
	}
	if err := r.reg.EnsureDisconnect(src, dst, false); err != nil {
		return err
	}
	if err := r.recalc(false); err != nil {
		r.restoreConnection(src, dst, prev, true)
		return err
	}
	return nil
}

// SetEnabled enables or disables src→dst and rebuilds the graph. Enabling
// is validated like a new connection.
func (r *Router) SetEnabled(src, dst port.Handle, enabled bool) error {
	r.editMu.Lock()
	defer r.editMu.Unlock()

	prev, existed := r.reg.Find(src, dst)
	if !existed {
		return r.reg.SetEnabled(src, dst, enabled)
	}
	if prev.Enabled == enabled {
		return nil
	}
	if enabled {
		if err := r.CanConnect(src, dst); err != nil {
			return err
		}
	}
	if err := r.reg.SetEnabled(src, dst, enabled); err != nil {
		return err
	}
	if err := r.recalc(false); err != nil {
		r.restoreConnection(src, dst, prev, true)
		return err
	}
	return nil
}

// SetMultiplier changes the gain of src→dst. Enabled connections are
// rebuilt into the graph so the new gain reaches the links.
func (r *Router) SetMultiplier(src, dst port.Handle, multiplier float32) error {
	r.editMu.Lock()
	defer r.editMu.Unlock()

	prev, existed := r.reg.Find(src, dst)
	if err := r.reg.SetMultiplier(src, dst, multiplier); err != nil {
		return err
	}
	if !existed || !prev.Enabled {
		return nil
	}
	if err := r.recalc(false); err != nil {
		r.restoreConnection(src, dst, prev, true)
		return err
	}
	return nil
}

// restoreConnection puts src→dst back to prev, or removes it when it did
// not exist before. editMu must be held.
func (r *Router) restoreConnection(src, dst port.Handle, prev registry.Connection, existed bool) {
	var err error
	if existed {
		_, err = r.reg.EnsureConnect(src, dst, prev.Multiplier, prev.Locked, prev.Enabled)
	} else {
		err = r.reg.EnsureDisconnect(src, dst, true)
	}
	if err != nil {
		r.log.Error("failed to roll back connection",
			logger.Int("src", int(src)),
			logger.Int("dest", int(dst)),
			logger.Error(err))
	}
}

// AddUnit registers the unit's ports, adds it to the catalog and rebuilds.
// On a failed rebuild the unit is taken out again.
func (r *Router) AddUnit(u graph.Unit) error {
	mc, ok := r.catalog.(MutableCatalog)
	if !ok {
		return ErrCatalogReadOnly
	}

	r.editMu.Lock()
	defer r.editMu.Unlock()

	var registered []port.Handle
	for _, p := range u.Ports() {
		if p.Handle() == port.InvalidHandle {
			registered = append(registered, r.ports.Register(p))
		}
	}
	if err := mc.Add(u); err != nil {
		for _, h := range registered {
			r.ports.Unregister(h)
		}
		return err
	}
	r.unitGen.Add(1)

	if err := r.recalc(false); err != nil {
		mc.Remove(u.ID())
		r.unitGen.Add(1)
		for _, h := range registered {
			r.ports.Unregister(h)
		}
		return err
	}
	r.log.Info("unit added", logger.String("unit", u.Name()), logger.String("id", u.ID()))
	return nil
}

// RemoveUnit severs every connection of the unit's ports, rebuilds the
// graph without it and only then unregisters and frees its ports. When the
// rebuild fails the unit and its connections are put back.
func (r *Router) RemoveUnit(id string) error {
	mc, ok := r.catalog.(MutableCatalog)
	if !ok {
		return ErrCatalogReadOnly
	}

	r.editMu.Lock()
	defer r.editMu.Unlock()

	u, ok := mc.Remove(id)
	if !ok {
		return wrap(ErrUnknownUnit, "unit", id)
	}
	r.unitGen.Add(1)

	var severed []registry.Connection
	for _, p := range u.Ports() {
		h := p.Handle()
		if h == port.InvalidHandle {
			continue
		}
		for _, c := range r.reg.SourcesOrDests(h, true) {
			if !slices.Contains(severed, c) {
				severed = append(severed, c)
			}
		}
		for _, c := range r.reg.SourcesOrDests(h, false) {
			if !slices.Contains(severed, c) {
				severed = append(severed, c)
			}
		}
		r.reg.DisconnectPort(h)
	}

	if err := r.recalc(false); err != nil {
		if addErr := mc.Add(u); addErr != nil {
			r.log.Error("failed to restore unit", logger.String("unit", u.Name()), logger.Error(addErr))
		}
		r.unitGen.Add(1)
		for _, c := range severed {
			r.restoreConnection(c.Src, c.Dest, c, true)
		}
		return err
	}
	for _, p := range u.Ports() {
		if h := p.Handle(); h != port.InvalidHandle {
			r.ports.Unregister(h)
		}
		p.Free()
	}
	r.log.Info("unit removed",
		logger.String("unit", u.Name()),
		logger.String("id", id),
		logger.Int("connections_severed", len(severed)))
	return nil
}

// Stop makes later cycles and rebuilds fail with ErrRouterStopped, waits for
// a running cycle, stops the workers and detaches the graph. It is idempotent.
func (r *Router) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.graphAccess.Lock()
	defer r.graphAccess.Unlock()

	r.pool.Stop()
	if r.g != nil {
		r.g.Detach()
		r.g = nil
	}
	r.validation.Flush()
	r.cancel()
	r.log.Info("router stopped",
		logger.Uint64("cycles", r.cycles.Load()),
		logger.Uint64("skipped_cycles", r.skipped.Load()))
}

// KickoffContext returns a context carrying the kickoff role for backends
// that call StartCycleContext
func (r *Router) KickoffContext() context.Context { return r.kickoffCtx }

// Rebuilding reports whether a rebuild is in progress
func (r *Router) Rebuilding() bool { return r.rebuilding.Load() }

// Stopped reports whether Stop was called
func (r *Router) Stopped() bool { return r.stopped.Load() }

// MaxPlaybackLatency returns the maximum route latency in frames
func (r *Router) MaxPlaybackLatency() int { return int(r.maxLatency.Load()) }

// Cycles returns the number of cycles run
func (r *Router) Cycles() uint64 { return r.cycles.Load() }

// SkippedCycles returns the number of cycles skipped during rebuilds
func (r *Router) SkippedCycles() uint64 { return r.skipped.Load() }

// PendingControlChanges returns the number of queued control changes
func (r *Router) PendingControlChanges() int { return r.controls.pending() }

// Workers returns the processing thread count
func (r *Router) Workers() int { return r.pool.Workers() }

// BlockLength returns the engine block length in frames
func (r *Router) BlockLength() int { return r.cfg.Ports.BlockLength }

// SampleRate returns the engine sample rate
func (r *Router) SampleRate() int { return r.cfg.Ports.SampleRate }

// Ports returns the port table
func (r *Router) Ports() *port.Table { return r.ports }

// Registry returns the connection registry
func (r *Router) Registry() *registry.Registry { return r.reg }

// Catalog returns the unit catalog
func (r *Router) Catalog() Catalog { return r.catalog }

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
