package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/signalgraph/internal/backend"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/diagnostics"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/monitor"
	"github.com/tphakala/signalgraph/internal/observability"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/router"
	"github.com/tphakala/signalgraph/internal/units"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// fakeEngine answers status queries from fixed values
type fakeEngine struct {
	mu       sync.Mutex
	info     *router.GraphInfo
	stopped  bool
	recalcs  []bool
	controls []router.ControlChange
	err      error
}

func (e *fakeEngine) Info() *router.GraphInfo { return e.info }

func (e *fakeEngine) RecalcGraph(soft bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recalcs = append(e.recalcs, soft)
	return e.err
}

func (e *fakeEngine) QueueControlPortChange(c router.ControlChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.controls = append(e.controls, c)
	return nil
}

func (e *fakeEngine) Tempo() cycle.Tempo         { return cycle.DefaultTempo }
func (e *fakeEngine) Cycles() uint64             { return 42 }
func (e *fakeEngine) SkippedCycles() uint64      { return 1 }
func (e *fakeEngine) MaxPlaybackLatency() int    { return 64 }
func (e *fakeEngine) PendingControlChanges() int { return 0 }
func (e *fakeEngine) Workers() int               { return 4 }
func (e *fakeEngine) BlockLength() int           { return 256 }
func (e *fakeEngine) SampleRate() int            { return 48000 }
func (e *fakeEngine) Stopped() bool              { return e.stopped }

type fakeDriver struct{ stats backend.Stats }

func (d *fakeDriver) Name() string              { return "dummy" }
func (d *fakeDriver) Run(context.Context) error { return nil }
func (d *fakeDriver) Stats() backend.Stats      { return d.stats }

type fixedLevels map[string]monitor.Level

func (l fixedLevels) Levels() map[string]monitor.Level { return l }

type fixedBus events.BusStats

func (b fixedBus) Stats() events.BusStats { return events.BusStats(b) }

func enabledSettings() *conf.Settings {
	return &conf.Settings{Telemetry: conf.TelemetrySettings{Enabled: true, Listen: "127.0.0.1:0"}}
}

func newTestServer(t *testing.T, engine Engine, opts Options) *Server {
	t.Helper()
	s, err := New(enabledSettings(), engine, opts)
	require.NoError(t, err)
	s.log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresEnabledTelemetry(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.Settings{}, &fakeEngine{}, Options{})
	require.ErrorIs(t, err, ErrDisabled)
	_, err = New(enabledSettings(), nil, Options{})
	require.ErrorIs(t, err, ErrNoEngine)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, Options{
		Driver:  &fakeDriver{stats: backend.Stats{Cycles: 10, Frames: 2560}},
		Bus:     fixedBus{EventsReceived: 3},
		Version: "1.2.3",
	})
	rec := do(t, s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, statusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, uint64(42), resp.Engine.Cycles)
	assert.Equal(t, 64, resp.Engine.MaxPlaybackLatency)
	assert.InDelta(t, 120, resp.Engine.Tempo.BPM, 0)
	assert.Equal(t, 4, resp.Engine.Tempo.BeatsPerBar)
	require.NotNil(t, resp.Backend)
	assert.Equal(t, "dummy", resp.Backend.Name)
	assert.Equal(t, uint64(2560), resp.Backend.Frames)
	require.NotNil(t, resp.Events)
	assert.Equal(t, uint64(3), resp.Events.EventsReceived)
	assert.Positive(t, resp.System.Goroutines)
}

func TestHealthDegradedAndStopped(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, Options{Driver: &fakeDriver{stats: backend.Stats{Failed: 1}}})
	rec := do(t, s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	s = newTestServer(t, &fakeEngine{stopped: true}, Options{})
	rec = do(t, s, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"stopped"`)
}

func TestGraphEndpoints(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{info: &router.GraphInfo{MaxPlaybackLatency: 64, Order: []int32{0, 1}}}
	s := newTestServer(t, e, Options{})

	rec := do(t, s, http.MethodGet, "/api/v1/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info router.GraphInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 64, info.MaxPlaybackLatency)
	assert.Equal(t, []int32{0, 1}, info.Order)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/graph/recalc", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/graph/recalc?soft=true", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/graph/recalc?soft=maybe", "").Code)
	assert.Equal(t, []bool{false, true}, e.recalcs)
}

func TestGraphMissing(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/graph", "").Code)
}

func TestRecalcErrorMapsCategory(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{err: errors.Newf("cycle detected").Component("graph").Category(errors.CategoryGraph).Build()}
	s := newTestServer(t, e, Options{})
	rec := do(t, s, http.MethodPost, "/api/v1/graph/recalc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(errors.CategoryGraph), resp.Category)
}

func TestControl(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{}
	s := newTestServer(t, e, Options{})

	rec := do(t, s, http.MethodPost, "/api/v1/control", `{"kind":"port_value","handle":7,"value":0.5,"normalized":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/v1/control", `{"kind":"bpm","value":140}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, e.controls, 2)
	assert.Equal(t, router.ControlChange{Kind: router.ChangePortValue, Handle: port.Handle(7), Value: 0.5, Normalized: true}, e.controls[0])
	assert.Equal(t, router.ChangeBPM, e.controls[1].Kind)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/control", `{"kind":"swing"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/control", `{"kind":`).Code)
}

func TestStatusForCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"queue full", router.ErrControlQueueFull, http.StatusTooManyRequests},
		{"invalid change", router.ErrInvalidControlChange, http.StatusBadRequest},
		{"unknown handle", port.ErrUnknownHandle, http.StatusNotFound},
		{"stopped", router.ErrRouterStopped, http.StatusConflict},
		{"plain", errors.NewStd("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestLevelsAndMetrics(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Engine.RecordOperation(metrics.OpCycle, metrics.StatusSuccess)

	s := newTestServer(t, &fakeEngine{}, Options{
		Metrics: m,
		Levels:  fixedLevels{"master": {Peak: 0.5, Blocks: 2}},
	})

	rec := do(t, s, http.MethodGet, "/api/v1/levels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var levels map[string]monitor.Level
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	assert.InDelta(t, 0.5, levels["master"].Peak, 1e-6)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signalgraph_operations_total{operation="cycle",status="success"} 1`)

	rec = do(t, s, http.MethodGet, "/debug/pprof/cmdline", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTrace(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/trace", "").Code)

	tracer := diagnostics.NewTracer(64)
	tracer.NodeStarted(3, 0, 0)
	tracer.NodeFinished(3, 0, 0)
	tracer.NodeStarted(3, 1, 1)
	tracer.NodeFinished(3, 1, 1)
	s = newTestServer(t, &fakeEngine{}, Options{Tracer: tracer})

	rec := do(t, s, http.MethodGet, "/api/v1/trace?cycle=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TraceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tracer.Session(), resp.Session)
	assert.Len(t, resp.Records, 4)
	require.Len(t, resp.Spans, 2)
	assert.Less(t, resp.Spans[0].Finish, resp.Spans[1].Start)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/trace?cycle=-1", "").Code)
}

func TestDemoGraphThroughRouter(t *testing.T) {
	pcfg := port.DefaultConfig()
	pcfg.Log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	r, err := router.New(router.Config{
		Ports:   pcfg,
		Workers: 2,
		Log:     logger.NewSlogLogger(nil, logger.LogLevelError, nil),
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)

	demo, err := units.NewDemo(pcfg)
	require.NoError(t, err)
	require.NoError(t, demo.Install(r))

	s := newTestServer(t, r, Options{})
	rec := do(t, s, http.MethodGet, "/api/v1/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info router.GraphInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, units.DemoLookaheadFrames, info.MaxPlaybackLatency)
	assert.NotEmpty(t, info.Links)

	body := `{"kind":"port_value","handle":` + jsonUint(uint32(demo.Gain.GainControl().Handle())) + `,"value":1.5}`
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/v1/control", body).Code)
	assert.Equal(t, 1, r.PendingControlChanges())

	body = `{"kind":"port_value","handle":` + jsonUint(uint32(demo.Gain.Out().Handle())) + `,"value":1}`
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/control", body).Code)
}

func TestRunServesAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	settings := enabledSettings()
	settings.Telemetry.Listen = addr
	s, err := New(settings, &fakeEngine{}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/api/v1/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	client.CloseIdleConnections()

	cancel()
	require.NoError(t, <-done)
}

func jsonUint(v uint32) string {
	b, _ := json.Marshal(v)
	return string(b)
}
