package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/signalgraph/internal/backend"
	"github.com/tphakala/signalgraph/internal/diagnostics"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/monitor"
	"github.com/tphakala/signalgraph/internal/port"
	"github.com/tphakala/signalgraph/internal/router"
)

// Health status values
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusStopped  = "stopped"
)

// TempoStatus is the tempo snapshot the next cycle will use
type TempoStatus struct {
	BPM         float32 `json:"bpm"`
	BeatsPerBar int     `json:"beats_per_bar"`
	BeatUnit    int     `json:"beat_unit"`
}

// EngineStatus summarizes the router
type EngineStatus struct {
	Cycles             uint64      `json:"cycles"`
	SkippedCycles      uint64      `json:"skipped_cycles"`
	MaxPlaybackLatency int         `json:"max_playback_latency"`
	PendingControls    int         `json:"pending_controls"`
	Workers            int         `json:"workers"`
	BlockLength        int         `json:"block_length"`
	SampleRate         int         `json:"sample_rate"`
	Tempo              TempoStatus `json:"tempo"`
}

// BackendStatus reports the driver running cycles
type BackendStatus struct {
	Name string `json:"name"`
	backend.Stats
}

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Uptime        string                 `json:"uptime"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Engine        EngineStatus           `json:"engine"`
	Backend       *BackendStatus         `json:"backend,omitempty"`
	Events        *events.BusStats       `json:"events,omitempty"`
	System        diagnostics.SystemInfo `json:"system"`
}

// ControlRequest is the body of POST /api/v1/control
type ControlRequest struct {
	Kind       string  `json:"kind"`
	Handle     uint32  `json:"handle,omitempty"`
	Value      float32 `json:"value"`
	Normalized bool    `json:"normalized,omitempty"`
}

// TraceResponse is the body of GET /api/v1/trace
type TraceResponse struct {
	Session string                     `json:"session"`
	Dropped uint64                     `json:"dropped"`
	Records []diagnostics.Record       `json:"records"`
	Spans   map[int32]diagnostics.Span `json:"spans,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	uptime := time.Since(s.startTime)
	tempo := s.engine.Tempo()
	resp := HealthResponse{
		Status:        statusHealthy,
		Version:       s.opts.Version,
		Timestamp:     time.Now(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Engine: EngineStatus{
			Cycles:             s.engine.Cycles(),
			SkippedCycles:      s.engine.SkippedCycles(),
			MaxPlaybackLatency: s.engine.MaxPlaybackLatency(),
			PendingControls:    s.engine.PendingControlChanges(),
			Workers:            s.engine.Workers(),
			BlockLength:        s.engine.BlockLength(),
			SampleRate:         s.engine.SampleRate(),
			Tempo: TempoStatus{
				BPM:         tempo.BPM,
				BeatsPerBar: tempo.BeatsPerBar,
				BeatUnit:    tempo.BeatUnit,
			},
		},
		System: diagnostics.CaptureSystemInfo(),
	}
	if s.opts.Driver != nil {
		st := s.opts.Driver.Stats()
		resp.Backend = &BackendStatus{Name: s.opts.Driver.Name(), Stats: st}
		if st.Failed > 0 {
			resp.Status = statusDegraded
		}
	}
	if s.opts.Bus != nil {
		st := s.opts.Bus.Stats()
		resp.Events = &st
	}
	code := http.StatusOK
	if s.engine.Stopped() {
		resp.Status = statusStopped
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) graph(c echo.Context) error {
	info := s.engine.Info()
	if info == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no graph committed"})
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) recalc(c echo.Context) error {
	soft := false
	if v := c.QueryParam("soft"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "soft must be a boolean", Category: string(errors.CategoryValidation)})
		}
		soft = b
	}
	if err := s.engine.RecalcGraph(soft); err != nil {
		return s.handleError(c, err, "graph recalculation failed")
	}
	return c.JSON(http.StatusOK, s.engine.Info())
}

func (s *Server) control(c echo.Context) error {
	var req ControlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Category: string(errors.CategoryValidation)})
	}
	kind, ok := parseChangeKind(req.Kind)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown control kind " + strconv.Quote(req.Kind), Category: string(errors.CategoryValidation)})
	}
	err := s.engine.QueueControlPortChange(router.ControlChange{
		Kind:       kind,
		Handle:     port.Handle(req.Handle),
		Value:      req.Value,
		Normalized: req.Normalized,
	})
	if err != nil {
		return s.handleError(c, err, "control change rejected")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) levels(c echo.Context) error {
	if s.opts.Levels == nil {
		return c.JSON(http.StatusOK, map[string]monitor.Level{})
	}
	return c.JSON(http.StatusOK, s.opts.Levels.Levels())
}

// trace drains the execution tracer. With ?cycle=N the node spans of that
// cycle are included.
func (s *Server) trace(c echo.Context) error {
	if s.opts.Tracer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "execution tracing disabled"})
	}
	records := s.opts.Tracer.Drain()
	resp := TraceResponse{
		Session: s.opts.Tracer.Session(),
		Dropped: s.opts.Tracer.Dropped(),
		Records: records,
	}
	if v := c.QueryParam("cycle"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cycle must be an unsigned integer", Category: string(errors.CategoryValidation)})
		}
		resp.Spans = diagnostics.CycleSpans(records, n)
	}
	return c.JSON(http.StatusOK, resp)
}

func parseChangeKind(s string) (router.ChangeKind, bool) {
	for k := router.ChangeBPM; k <= router.ChangePortValue; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
