package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/diagnostics"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/graph"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/registry"
)

const testBlock = 256

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

var errBoom = errors.NewStd("boom")

// testUnit copies its audio input to its output, or writes a constant level
// when it has no input
type testUnit struct {
	id      string
	latency int
	level   float32
	in, out *port.Port
	ctl     *port.Port

	fail   atomic.Bool
	runs   atomic.Int64
	lastTI atomic.Pointer[cycle.TimeInfo]
}

func (u *testUnit) ID() string   { return u.id }
func (u *testUnit) Name() string { return u.id }
func (u *testUnit) Latency() int { return u.latency }

func (u *testUnit) Ports() []*port.Port {
	var ps []*port.Port
	for _, p := range []*port.Port{u.in, u.ctl, u.out} {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ps
}

func (u *testUnit) Process(_ context.Context, ti cycle.TimeInfo) error {
	u.runs.Add(1)
	u.lastTI.Store(&ti)
	if u.fail.Load() {
		return errBoom
	}
	if u.out == nil {
		return nil
	}
	lo, hi := ti.LocalOffset, ti.End()
	dst := u.out.Buffer()[lo:hi]
	if u.in != nil {
		copy(dst, u.in.Buffer()[lo:hi])
		return nil
	}
	for i := range dst {
		dst[i] = u.level
	}
	return nil
}

type unitOpts struct {
	in, out, ctl bool
	latency      int
	level        float32
}

func newTestUnit(t *testing.T, cfg *port.Config, id string, o unitOpts) *testUnit {
	t.Helper()
	u := &testUnit{id: id, latency: o.latency, level: o.level}
	mk := func(label string, flow port.Flow, kind port.Kind) *port.Port {
		p, err := port.New(cfg, port.Identifier{OwnerID: id, Label: label, Flow: flow, Kind: kind}, port.Range{})
		require.NoError(t, err)
		return p
	}
	if o.in {
		u.in = mk("in", port.FlowInput, port.KindAudio)
	}
	if o.out {
		u.out = mk("out", port.FlowOutput, port.KindAudio)
	}
	if o.ctl {
		u.ctl = mk("gain", port.FlowInput, port.KindControl)
	}
	return u
}

type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) TryPublish(ev events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *eventSink) count(kind events.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	r        *Router
	cfg      *port.Config
	recorder *metrics.TestRecorder
	sink     *eventSink
	tracer   *diagnostics.Tracer
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	pcfg := port.DefaultConfig()
	pcfg.BlockLength = testBlock
	pcfg.Log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)

	h := &harness{
		cfg:      pcfg,
		recorder: metrics.NewTestRecorder(),
		sink:     &eventSink{},
		tracer:   diagnostics.NewTracer(1 << 14),
	}
	pcfg.Publisher = h.sink

	cfg := Config{
		Ports:     pcfg,
		Workers:   4,
		Metrics:   h.recorder,
		Tracer:    h.tracer,
		Publisher: h.sink,
		Log:       logger.NewSlogLogger(nil, logger.LogLevelError, nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	h.r = r
	return h
}

func (h *harness) add(t *testing.T, id string, o unitOpts) *testUnit {
	t.Helper()
	u := newTestUnit(t, h.cfg, id, o)
	require.NoError(t, h.r.AddUnit(u))
	return u
}

func (h *harness) connect(t *testing.T, src, dst *port.Port, multiplier float32) {
	t.Helper()
	_, err := h.r.Connect(src.Handle(), dst.Handle(), multiplier)
	require.NoError(t, err)
}

func fullBlock() cycle.TimeInfo {
	return cycle.TimeInfo{NFrames: testBlock}
}

func (h *harness) nodeIndex(t *testing.T, name string) int32 {
	t.Helper()
	for _, n := range h.r.Info().Nodes {
		if n.Name == name {
			return n.Index
		}
	}
	t.Fatalf("node %q not in graph", name)
	return -1
}

func TestChainNeverStartsBeforePredecessorsFinish(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true, level: 1})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	c := h.add(t, "C", unitOpts{in: true})
	h.connect(t, a.out, b.in, 1)
	h.connect(t, b.out, c.in, 1)
	h.tracer.Reset()

	const cycles = 200
	for range cycles {
		require.NoError(t, h.r.StartCycle(fullBlock()))
	}

	recs := h.tracer.Drain()
	require.Zero(t, h.tracer.Dropped())
	ai, bi, ci := h.nodeIndex(t, "A"), h.nodeIndex(t, "B"), h.nodeIndex(t, "C")
	for cyc := uint64(1); cyc <= cycles; cyc++ {
		spans := diagnostics.CycleSpans(recs, cyc)
		require.Contains(t, spans, ci)
		assert.Greater(t, spans[ci].Start, spans[ai].Finish, "cycle %d: C started before A finished", cyc)
		assert.Greater(t, spans[ci].Start, spans[bi].Finish, "cycle %d: C started before B finished", cyc)
		assert.Greater(t, spans[bi].Start, spans[ai].Finish, "cycle %d: B started before A finished", cyc)
	}
	assert.Equal(t, int64(cycles), c.runs.Load())
	assert.InDelta(t, 1.0, c.in.Buffer()[testBlock-1], 1e-6)
	assert.Equal(t, cycles, h.recorder.GetOperationCount(metrics.OpCycle, metrics.StatusSuccess))
}

func TestMixOfTwoSources(t *testing.T) {
	h := newHarness(t, nil)
	n1 := h.add(t, "n1", unitOpts{out: true, level: 0.5})
	n2 := h.add(t, "n2", unitOpts{out: true, level: 0.25})
	mix := h.add(t, "mix", unitOpts{in: true})
	h.connect(t, n1.out, mix.in, 1.0)
	h.connect(t, n2.out, mix.in, 0.5)

	require.NoError(t, h.r.StartCycle(fullBlock()))

	for i, v := range mix.in.Buffer() {
		want := n1.out.Buffer()[i] + 0.5*n2.out.Buffer()[i]
		require.InDelta(t, want, v, 1e-6, "frame %d", i)
	}
	assert.InDelta(t, 0.625, mix.in.Buffer()[0], 1e-6)
}

func TestCycleSkippedWhileRebuilding(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "A", unitOpts{out: true})

	h.r.graphAccess.Lock()
	err := h.r.StartCycle(fullBlock())
	h.r.graphAccess.Unlock()

	require.ErrorIs(t, err, ErrRebuildInProgress)
	assert.Equal(t, uint64(1), h.r.SkippedCycles())
	assert.Equal(t, uint64(0), h.r.Cycles())
	assert.Equal(t, 1, h.recorder.GetOperationCount(metrics.OpCycle, metrics.StatusSkipped))

	require.NoError(t, h.r.StartCycle(fullBlock()))
	assert.Equal(t, uint64(1), h.r.Cycles())
}

func TestRebuildConcurrentWithCycles(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true, level: 1})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	h.connect(t, a.out, b.in, 1)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			err := h.r.StartCycle(fullBlock())
			if err != nil && !errors.Is(err, ErrRebuildInProgress) {
				t.Errorf("unexpected cycle error: %v", err)
				return
			}
		}
	})
	for i := range 50 {
		require.NoError(t, h.r.RecalcGraph(i%2 == 0))
	}
	close(stop)
	wg.Wait()

	assert.False(t, h.r.Rebuilding())
	assert.Positive(t, h.r.Cycles()+h.r.SkippedCycles())
}

func TestStopRejectsLaterCalls(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "A", unitOpts{out: true})
	require.NoError(t, h.r.StartCycle(fullBlock()))

	h.r.Stop()
	h.r.Stop()

	assert.True(t, h.r.Stopped())
	assert.ErrorIs(t, h.r.StartCycle(fullBlock()), ErrRouterStopped)
	assert.ErrorIs(t, h.r.RecalcGraph(false), ErrRouterStopped)
	assert.ErrorIs(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBPM, Value: 90}), ErrRouterStopped)
}

func TestStartCycleValidation(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.r.StartCycle(cycle.TimeInfo{}), ErrInvalidTimeInfo)
	assert.ErrorIs(t, h.r.StartCycle(cycle.TimeInfo{LocalOffset: 200, NFrames: 100}), ErrInvalidTimeInfo)
	assert.ErrorIs(t, h.r.StartCycleContext(context.Background(), fullBlock()), ErrNotKickoffThread)
	assert.NoError(t, h.r.StartCycleContext(h.r.KickoffContext(), fullBlock()))
}

func TestControlChangesAppliedAtCycleStart(t *testing.T) {
	h := newHarness(t, nil)
	u := h.add(t, "synth", unitOpts{out: true, ctl: true})

	require.NoError(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBPM, Value: 140}))
	require.NoError(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBeatsPerBar, Value: 3}))
	require.NoError(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBeatUnit, Value: 8}))
	require.NoError(t, h.r.QueueControlPortChange(ControlChange{
		Kind: ChangePortValue, Handle: u.ctl.Handle(), Value: 0.5, Normalized: true,
	}))
	assert.Equal(t, 4, h.r.PendingControlChanges())
	assert.InDelta(t, 0, u.ctl.BaseValue(), 1e-6, "nothing applies before the cycle")

	require.NoError(t, h.r.StartCycle(fullBlock()))

	assert.Equal(t, 0, h.r.PendingControlChanges())
	want := cycle.Tempo{BPM: 140, BeatsPerBar: 3, BeatUnit: 8}
	assert.Equal(t, want, h.r.Tempo())
	require.NotNil(t, u.lastTI.Load())
	assert.Equal(t, want, u.lastTI.Load().Tempo, "nodes observe the drained tempo")
	assert.InDelta(t, 0.5, u.ctl.BaseValue(), 1e-6)

	assert.Equal(t, 1, h.sink.count(events.KindTempoChanged))
	assert.Equal(t, 2, h.sink.count(events.KindTimeSignatureChanged))
	assert.Equal(t, 1, h.sink.count(events.KindValueChanged))
	assert.Equal(t, 1, h.recorder.GetOperationCount(metrics.OpControlChange, ChangeBPM.String()))
}

func TestControlChangeValidation(t *testing.T) {
	h := newHarness(t, nil)
	u := h.add(t, "synth", unitOpts{out: true, ctl: true})

	tests := []struct {
		name   string
		change ControlChange
		want   error
	}{
		{"zero bpm", ControlChange{Kind: ChangeBPM, Value: 0}, ErrInvalidControlChange},
		{"fractional beats per bar", ControlChange{Kind: ChangeBeatsPerBar, Value: 3.5}, ErrInvalidControlChange},
		{"beat unit not power of two", ControlChange{Kind: ChangeBeatUnit, Value: 3}, ErrInvalidControlChange},
		{"unknown kind", ControlChange{Kind: 99}, ErrInvalidControlChange},
		{"unknown handle", ControlChange{Kind: ChangePortValue, Handle: 9999}, port.ErrUnknownHandle},
		{"audio port", ControlChange{Kind: ChangePortValue, Handle: u.out.Handle()}, port.ErrNotControl},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, h.r.QueueControlPortChange(tt.change), tt.want)
		})
	}
	assert.Equal(t, 0, h.r.PendingControlChanges())
}

func TestControlQueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ControlQueueSize = 2 })

	require.NoError(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBPM, Value: 100}))
	require.NoError(t, h.r.QueueControlPortChange(ControlChange{Kind: ChangeBPM, Value: 110}))
	err := h.r.QueueControlPortChange(ControlChange{Kind: ChangeBPM, Value: 120})
	require.ErrorIs(t, err, ErrControlQueueFull)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))

	require.NoError(t, h.r.StartCycle(fullBlock()))
	assert.InDelta(t, 110, h.r.Tempo().BPM, 1e-6, "changes apply in order")
}

func TestControlRecordLayout(t *testing.T) {
	t.Parallel()

	c := ControlChange{Kind: ChangePortValue, Handle: 0x01020304, Value: 0.75, Normalized: true}
	var b [controlRecordSize]byte
	c.encode(b[:])

	assert.Equal(t, byte(ChangePortValue), b[0])
	assert.Equal(t, byte(1), b[1])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[4:8])
	assert.Equal(t, c, decodeControlChange(b[:]))
}

func TestCanConnectRejectsCycleAndCaches(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{in: true, out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	h.connect(t, a.out, b.in, 1)

	err := h.r.CanConnect(b.out.Handle(), a.in.Handle())
	require.ErrorIs(t, err, graph.ErrCycleDetected)
	assert.True(t, errors.IsCategory(err, errors.CategoryGraph))

	items := h.r.validation.ItemCount()
	require.ErrorIs(t, h.r.CanConnect(b.out.Handle(), a.in.Handle()), graph.ErrCycleDetected)
	assert.Equal(t, items, h.r.validation.ItemCount(), "second query is served from the cache")

	_, err = h.r.Connect(b.out.Handle(), a.in.Handle(), 1)
	require.ErrorIs(t, err, graph.ErrCycleDetected)
	_, found := h.r.Registry().Find(b.out.Handle(), a.in.Handle())
	assert.False(t, found, "rejected connection is never registered")

	assert.ErrorIs(t, h.r.CanConnect(a.in.Handle(), b.in.Handle()), graph.ErrInvalidPairing)
}

func TestFailedRebuildKeepsCommittedGraph(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{in: true, out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	h.connect(t, a.out, b.in, 1)
	before := h.r.Info()

	// a port dropped from the table behind the router leaves a dangling connection
	h.r.Ports().Unregister(b.in.Handle())

	require.ErrorIs(t, h.r.RecalcGraph(false), graph.ErrDanglingConnection)
	assert.Same(t, before, h.r.Info())
	assert.NoError(t, h.r.StartCycle(fullBlock()))
	assert.Equal(t, 1, h.recorder.GetOperationCount(metrics.OpRebuild, metrics.StatusError))
}

func TestAddAndRemoveUnit(t *testing.T) {
	h := newHarness(t, nil)
	src := h.add(t, "src", unitOpts{out: true, level: 1})
	dst := h.add(t, "dst", unitOpts{in: true})
	h.connect(t, src.out, dst.in, 1)
	require.NoError(t, h.r.StartCycle(fullBlock()))

	outHandle := src.out.Handle()
	require.NoError(t, h.r.RemoveUnit("src"))

	_, ok := h.r.Ports().Get(outHandle)
	assert.False(t, ok, "ports are unregistered after removal")
	assert.Empty(t, h.r.Registry().Snapshot())
	for _, n := range h.r.Info().Nodes {
		assert.NotEqual(t, "src", n.Name)
	}

	require.NoError(t, h.r.StartCycle(fullBlock()))
	assert.InDelta(t, 0, dst.in.Buffer()[0], 1e-6)

	assert.ErrorIs(t, h.r.RemoveUnit("src"), ErrUnknownUnit)
	dup := newTestUnit(t, h.cfg, "dst", unitOpts{in: true})
	assert.ErrorIs(t, h.r.AddUnit(dup), ErrDuplicateUnit)
}

type fixedCatalog []graph.Unit

func (c fixedCatalog) Units() []graph.Unit { return c }

func TestReadOnlyCatalog(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Catalog = fixedCatalog(nil) })

	u := newTestUnit(t, h.cfg, "x", unitOpts{out: true})
	assert.ErrorIs(t, h.r.AddUnit(u), ErrCatalogReadOnly)
	assert.ErrorIs(t, h.r.RemoveUnit("x"), ErrCatalogReadOnly)
}

func TestGlobalLatencyOffsetCountsDownPreroll(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true, latency: 128})
	c := h.add(t, "C", unitOpts{in: true})
	h.connect(t, a.out, b.in, 1)
	h.connect(t, b.out, c.in, 1)
	require.Equal(t, 128, h.r.MaxPlaybackLatency())

	var offsets []int
	for range 4 {
		require.NoError(t, h.r.StartCycle(cycle.TimeInfo{NFrames: 64}))
		offsets = append(offsets, c.lastTI.Load().GlobalLatencyOffset)
	}
	assert.Equal(t, []int{0, 64, 128, 128}, offsets)

	v, ok := h.recorder.GetValue(metrics.ValuePlaybackLatency)
	require.True(t, ok)
	assert.InDelta(t, 128, v, 0)
	assert.Positive(t, h.sink.count(events.KindLatencyChanged))
}

func TestSoftRecalcPicksUpLatencyChange(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true, latency: 32})
	h.connect(t, a.out, b.in, 1)
	require.Equal(t, 32, h.r.MaxPlaybackLatency())

	b.latency = 96
	require.NoError(t, h.r.RecalcGraph(true))

	assert.Equal(t, 96, h.r.MaxPlaybackLatency())
	assert.True(t, h.r.Info().Soft)
	assert.Equal(t, 1, h.recorder.GetOperationCount(metrics.OpSoftRecalc, metrics.StatusSuccess))
}

func TestNodeFailureIsIsolated(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true, level: 1})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	c := h.add(t, "C", unitOpts{in: true})
	side := h.add(t, "side", unitOpts{out: true, level: 0.5})
	h.connect(t, a.out, b.in, 1)
	h.connect(t, b.out, c.in, 1)

	require.NoError(t, h.r.StartCycle(fullBlock()))
	require.InDelta(t, 1, c.in.Buffer()[0], 1e-6)

	b.fail.Store(true)
	require.NoError(t, h.r.StartCycle(fullBlock()))

	assert.Equal(t, int64(2), c.runs.Load(), "dependents still run")
	assert.Equal(t, int64(2), side.runs.Load(), "independent branches still run")
	for _, v := range c.in.Buffer() {
		require.InDelta(t, 0, v, 1e-9, "failed node output must be silent")
	}
	assert.Equal(t, 1, h.recorder.GetErrorCount(metrics.OpNodeProcess, string(errors.CategoryProcessing)))
	assert.Equal(t, 1, h.sink.count(events.KindNodeFailed))
	assert.NotEmpty(t, h.recorder.GetDurations(metrics.OpUnitPrefix+"B"))
}

func TestGraphInfoSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true})
	b := h.add(t, "B", unitOpts{in: true})
	h.connect(t, a.out, b.in, 0.5)

	info := h.r.Info()
	require.NotNil(t, info)
	assert.Len(t, info.Nodes, 4)
	assert.Len(t, info.Order, 4)
	require.Len(t, info.Links, 1)
	assert.Equal(t, "A/out", info.Links[0].Src)
	assert.Equal(t, "B/in", info.Links[0].Dest)
	assert.InDelta(t, 0.5, info.Links[0].Multiplier, 1e-6)
	assert.Equal(t, h.r.Registry().Generation(), info.RegistryGeneration)
}

func TestQueueGrowsWithGraph(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.QueueCapacity = 2 })
	for _, id := range []string{"a", "b", "c"} {
		h.add(t, id, unitOpts{in: true, out: true})
	}
	require.NoError(t, h.r.StartCycle(fullBlock()))
	v, ok := h.recorder.GetValue(metrics.ValueQueueCapacity)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, float64(9))
}

func TestEnablingBackEdgeIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{in: true, out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true})
	h.connect(t, a.out, b.in, 1)

	// a disabled back edge is harmless and may be stored
	_, err := h.r.Registry().EnsureConnect(b.out.Handle(), a.in.Handle(), 1, false, false)
	require.NoError(t, err)

	require.ErrorIs(t, h.r.Registry().SetEnabled(b.out.Handle(), a.in.Handle(), true), graph.ErrCycleDetected)
	require.ErrorIs(t, h.r.SetEnabled(b.out.Handle(), a.in.Handle(), true), graph.ErrCycleDetected)
	_, err = h.r.Registry().EnsureConnect(b.out.Handle(), a.in.Handle(), 1, false, true)
	require.ErrorIs(t, err, graph.ErrCycleDetected)

	c, ok := h.r.Registry().Find(b.out.Handle(), a.in.Handle())
	require.True(t, ok)
	assert.False(t, c.Enabled)

	// topology editing keeps working
	require.NoError(t, h.r.RecalcGraph(false))
	h.add(t, "C", unitOpts{in: true})
	require.NoError(t, h.r.RemoveUnit("C"))
	require.NoError(t, h.r.StartCycle(fullBlock()))
}

func TestSetEnabledAndMultiplierRebuild(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true, level: 1})
	b := h.add(t, "B", unitOpts{in: true})
	h.connect(t, a.out, b.in, 1)

	require.NoError(t, h.r.SetMultiplier(a.out.Handle(), b.in.Handle(), 0.25))
	require.Len(t, h.r.Info().Links, 1)
	assert.InDelta(t, 0.25, h.r.Info().Links[0].Multiplier, 1e-6)
	require.NoError(t, h.r.StartCycle(fullBlock()))
	assert.InDelta(t, 0.25, b.in.Buffer()[0], 1e-6)

	require.NoError(t, h.r.SetEnabled(a.out.Handle(), b.in.Handle(), false))
	assert.Empty(t, h.r.Info().Links)
	require.NoError(t, h.r.StartCycle(fullBlock()))
	assert.InDelta(t, 0, b.in.Buffer()[0], 1e-6)

	require.NoError(t, h.r.SetEnabled(a.out.Handle(), b.in.Handle(), true))
	assert.Len(t, h.r.Info().Links, 1)

	assert.ErrorIs(t, h.r.SetEnabled(b.in.Handle(), a.out.Handle(), true), registry.ErrNotConnected)
	assert.ErrorIs(t, h.r.SetMultiplier(b.in.Handle(), a.out.Handle(), 1), registry.ErrNotConnected)
}

func TestConcurrentConnectsNeverCloseCycle(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{in: true, out: true})
	b := h.add(t, "B", unitOpts{in: true, out: true})

	for range 50 {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Go(func() { _, errs[0] = h.r.Connect(a.out.Handle(), b.in.Handle(), 1) })
		wg.Go(func() { _, errs[1] = h.r.Connect(b.out.Handle(), a.in.Handle(), 1) })
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, graph.ErrCycleDetected)
				failed++
			}
		}
		require.Equal(t, 1, failed, "exactly one direction wins")
		require.Len(t, h.r.Registry().Snapshot(), 1)
		require.NoError(t, h.r.RecalcGraph(false))

		require.NoError(t, h.r.Disconnect(a.out.Handle(), b.in.Handle()))
		require.NoError(t, h.r.Disconnect(b.out.Handle(), a.in.Handle()))
	}
}

func TestFailedRebuildRollsBackEdits(t *testing.T) {
	h := newHarness(t, nil)
	a := h.add(t, "A", unitOpts{out: true, level: 1})
	b := h.add(t, "B", unitOpts{in: true})
	c := h.add(t, "C", unitOpts{in: true})
	h.connect(t, a.out, b.in, 0.5)
	outHandle := a.out.Handle()

	h.r.Stop()

	_, err := h.r.Connect(a.out.Handle(), c.in.Handle(), 1)
	require.ErrorIs(t, err, ErrRouterStopped)
	_, found := h.r.Registry().Find(a.out.Handle(), c.in.Handle())
	assert.False(t, found, "connection added before the failed rebuild is removed")

	require.ErrorIs(t, h.r.SetMultiplier(a.out.Handle(), b.in.Handle(), 2), ErrRouterStopped)
	conn, ok := h.r.Registry().Find(a.out.Handle(), b.in.Handle())
	require.True(t, ok)
	assert.InDelta(t, 0.5, conn.Multiplier, 1e-6)

	require.ErrorIs(t, h.r.RemoveUnit("A"), ErrRouterStopped)
	set, ok := h.r.Catalog().(*UnitSet)
	require.True(t, ok)
	_, ok = set.Get("A")
	assert.True(t, ok, "unit is restored")
	_, ok = h.r.Ports().Get(outHandle)
	assert.True(t, ok, "ports stay registered")
	conn, ok = h.r.Registry().Find(outHandle, b.in.Handle())
	require.True(t, ok, "severed connections are restored")
	assert.True(t, conn.Enabled)
	assert.InDelta(t, 0.5, conn.Multiplier, 1e-6)
}

// passUnit copies its input to its output, or writes a constant level when
// it has no input, without touching the heap
type passUnit struct {
	id      string
	level   float32
	in, out *port.Port
	ports   []*port.Port
}

func (u *passUnit) ID() string          { return u.id }
func (u *passUnit) Name() string        { return u.id }
func (u *passUnit) Latency() int        { return 0 }
func (u *passUnit) Ports() []*port.Port { return u.ports }

func (u *passUnit) Process(_ context.Context, ti cycle.TimeInfo) error {
	lo, hi := ti.LocalOffset, ti.End()
	dst := u.out.Buffer()[lo:hi]
	if u.in != nil {
		copy(dst, u.in.Buffer()[lo:hi])
		return nil
	}
	for i := range dst {
		dst[i] = u.level
	}
	return nil
}

func TestStartCycleDoesNotAllocate(t *testing.T) {
	if raceEnabled {
		t.Skip("the race detector allocates")
	}
	h := newHarness(t, func(c *Config) {
		c.Metrics = metrics.NewNoOpRecorder()
		c.Tracer = nil
		c.Publisher = nil
	})

	mk := func(owner, label string, flow port.Flow) *port.Port {
		p, err := port.New(h.cfg, port.Identifier{OwnerID: owner, Label: label, Flow: flow, Kind: port.KindAudio}, port.Range{})
		require.NoError(t, err)
		return p
	}
	src := &passUnit{id: "src", level: 0.5, out: mk("src", "out", port.FlowOutput)}
	src.ports = []*port.Port{src.out}
	mid := &passUnit{id: "mid", in: mk("mid", "in", port.FlowInput), out: mk("mid", "out", port.FlowOutput)}
	mid.ports = []*port.Port{mid.in, mid.out}
	sink := &passUnit{id: "sink", in: mk("sink", "in", port.FlowInput), out: mk("sink", "out", port.FlowOutput)}
	sink.ports = []*port.Port{sink.in, sink.out}
	for _, u := range []*passUnit{src, mid, sink} {
		require.NoError(t, h.r.AddUnit(u))
	}
	h.connect(t, src.out, mid.in, 1)
	h.connect(t, mid.out, sink.in, 0.5)

	ti := fullBlock()
	allocs := testing.AllocsPerRun(200, func() {
		if err := h.r.StartCycle(ti); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs, "a cycle must not allocate")
	assert.InDelta(t, 0.25, sink.out.Buffer()[0], 1e-6)
}
