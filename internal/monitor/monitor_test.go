package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/cycle"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
	"github.com/tphakala/signalgraph/internal/port"
)

const testBlock = 64

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func meteredPort(t *testing.T) *port.Port {
	t.Helper()
	cfg := port.DefaultConfig()
	cfg.BlockLength = testBlock
	cfg.Log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	p, err := port.New(cfg, port.Identifier{
		OwnerID: "master",
		Label:   "out",
		Flow:    port.FlowOutput,
		Kind:    port.KindAudio,
		Flags:   port.FlagMeter,
	}, port.Range{})
	require.NoError(t, err)
	return p
}

// emit writes one block of v and runs the port so the meter ring receives it
func emit(p *port.Port, v float32) {
	buf := p.Buffer()
	for i := range buf {
		buf[i] = v
		if i%2 == 1 {
			buf[i] = -v
		}
	}
	p.Process(context.Background(), cycle.TimeInfo{NFrames: testBlock})
}

func TestTapLevels(t *testing.T) {
	t.Parallel()

	p := meteredPort(t)
	tap, err := NewTap("master", p)
	require.NoError(t, err)

	lvl, err := tap.Poll()
	require.NoError(t, err)
	assert.Zero(t, lvl.Blocks)
	assert.InDelta(t, silenceDB, lvl.PeakDB, 0)

	emit(p, 0.5)
	emit(p, 0.25)
	lvl, err = tap.Poll()
	require.NoError(t, err)
	assert.Equal(t, 2, lvl.Blocks)
	assert.InDelta(t, 0.5, lvl.Peak, 1e-6)
	// mean square is (0.25 + 0.0625) / 2
	assert.InDelta(t, 0.3953, lvl.RMS, 1e-3)
	assert.InDelta(t, -6.02, lvl.PeakDB, 0.01)
	assert.False(t, lvl.Clipping)
	assert.Equal(t, lvl, tap.Last())
}

func TestTapClipHysteresis(t *testing.T) {
	t.Parallel()

	p := meteredPort(t)
	tap, err := NewTap("master", p)
	require.NoError(t, err)

	steps := []struct {
		level float32
		want  bool
	}{
		{1.2, true},
		{0.95, true},
		{0.5, false},
		{0.95, false},
	}
	for _, s := range steps {
		emit(p, s.level)
		lvl, err := tap.Poll()
		require.NoError(t, err)
		assert.Equal(t, s.want, lvl.Clipping, "level %g", s.level)
	}
}

func TestNewTapRequiresMeter(t *testing.T) {
	t.Parallel()

	cfg := port.DefaultConfig()
	p, err := port.New(cfg, port.Identifier{OwnerID: "x", Label: "out", Flow: port.FlowOutput, Kind: port.KindAudio}, port.Range{})
	require.NoError(t, err)
	_, err = NewTap("x", p)
	assert.ErrorIs(t, err, ErrNoTap)
}

func TestRecordWritesWAV(t *testing.T) {
	p := meteredPort(t)
	rec := metrics.NewTestRecorder()
	m := New(&conf.Settings{}, rec)
	require.NoError(t, m.Watch("master", p))

	path := filepath.Join(t.TempDir(), "captures", "master.wav")
	require.NoError(t, m.Record("master", path, 48000))
	assert.ErrorIs(t, m.Record("missing", path, 48000), ErrUnknownTap)

	for range 3 {
		emit(p, 0.5)
	}
	m.PollOnce()
	m.PollOnce()
	m.Stop()

	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpMeterRead, metrics.StatusSuccess))
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpMeterRead, metrics.StatusSkipped))
	peak, ok := rec.GetValue(metrics.ValueMeterPeak)
	require.True(t, ok)
	assert.InDelta(t, 0.5, peak, 1e-6)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 3*testBlock)
	assert.InDelta(t, 16383, buf.Data[0], 1)
	assert.InDelta(t, -16383, buf.Data[1], 1)
}

func TestMonitorLoop(t *testing.T) {
	p := meteredPort(t)
	m := New(&conf.Settings{Monitor: conf.MonitorSettings{PollInterval: time.Millisecond}}, nil)
	require.NoError(t, m.Watch("master", p))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	emit(p, 0.75)
	require.Eventually(t, func() bool {
		return m.Levels()["master"].Blocks > 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.InDelta(t, 0.75, m.Levels()["master"].Peak, 1e-6)

	require.NoError(t, m.Unwatch("master"))
	assert.ErrorIs(t, m.Unwatch("master"), ErrUnknownTap)
	assert.Empty(t, m.Levels())
}
