package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeToken completes immediately unless hang is set
type fakeToken struct {
	err  error
	hang bool
}

func (t *fakeToken) Wait() bool                     { return !t.hang }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.hang {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes instead of talking to a broker
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishHang  bool
	publishErr   error
	messages     []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishHang || c.publishErr != nil {
		return &fakeToken{err: c.publishErr, hang: c.publishHang}
	}
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func newTestNotifier(t *testing.T, fc *fakeClient, rec metrics.Recorder) *Notifier {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.Topic = "studio/engine/"
	cfg.ReconnectCooldown = 0
	n, err := newNotifier(cfg, rec, func(opts *mqtt.ClientOptions) brokerClient {
		assert.Equal(t, "signalgraph", opts.ClientID)
		return fc
	})
	require.NoError(t, err)
	return n
}

func TestNotifierPublishesGraphEvents(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	rec := metrics.NewTestRecorder()
	n := newTestNotifier(t, fc, rec)
	require.NoError(t, n.Connect(context.Background()))
	require.True(t, n.IsConnected())

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindGraphRebuilt, Count: 7, Time: now}))
	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindLatencyChanged, Count: 64, Source: "router", Time: now}))
	// value changes are off by default
	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindValueChanged, Handle: 3, Value: 0.5}))
	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindError}))

	sent := fc.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "studio/engine/graph_rebuilt", sent[0].topic)
	assert.Equal(t, "studio/engine/latency_changed", sent[1].topic)

	var msg Message
	require.NoError(t, json.Unmarshal(sent[1].payload, &msg))
	assert.Equal(t, "latency_changed", msg.Kind)
	assert.Equal(t, "router", msg.Source)
	assert.Equal(t, int64(64), msg.Count)
	assert.True(t, now.Equal(msg.Time))

	assert.Equal(t, 2, rec.GetOperationCount(metrics.OpNotifyPublish, metrics.StatusSuccess))

	n.Disconnect()
	assert.True(t, fc.disconnected)
	assert.False(t, n.IsConnected())
}

func TestNotifierPublishValues(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	n := newTestNotifier(t, fc, nil)
	n.cfg.PublishValues = true
	require.NoError(t, n.Connect(context.Background()))

	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindValueChanged, Handle: 3, Value: 0.5}))
	sent := fc.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "studio/engine/value_changed", sent[0].topic)
}

func TestNotifierDropsWhileDisconnected(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	rec := metrics.NewTestRecorder()
	n := newTestNotifier(t, fc, rec)

	require.NoError(t, n.ProcessEvent(events.Event{Kind: events.KindNodeFailed, Source: "lead"}))
	assert.Empty(t, fc.sent())
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpNotifyPublish, metrics.StatusDropped))

	err := n.Publish("x", []byte("{}"))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestNotifierPublishFailures(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{publishHang: true}
	rec := metrics.NewTestRecorder()
	n := newTestNotifier(t, fc, rec)
	require.NoError(t, n.Connect(context.Background()))

	err := n.ProcessEvent(events.Event{Kind: events.KindTempoChanged, Value: 140})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpNotifyPublish, metrics.StatusError))
	assert.Equal(t, 1, rec.GetErrorCount(metrics.OpNotifyPublish, "timeout"))

	fc.mu.Lock()
	fc.publishHang = false
	fc.publishErr = errors.NewStd("broker refused")
	fc.mu.Unlock()
	err = n.ProcessEvent(events.Event{Kind: events.KindTempoChanged, Value: 140})
	require.Error(t, err)
	assert.Equal(t, 1, rec.GetErrorCount(metrics.OpNotifyPublish, "publish"))
}

func TestNotifierConnect(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connectErr: errors.NewStd("refused")}
	n := newTestNotifier(t, fc, nil)
	err := n.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, n.IsConnected())

	n.cfg.ReconnectCooldown = time.Hour
	assert.ErrorIs(t, n.Connect(context.Background()), ErrConnectCooldown)
}

func TestNewNotifierFromSettings(t *testing.T) {
	t.Parallel()

	_, err := NewNotifier(&conf.Settings{}, nil)
	require.ErrorIs(t, err, ErrInvalidBroker)

	n, err := NewNotifier(&conf.Settings{MQTT: conf.MQTTSettings{
		Enabled:  true,
		Broker:   "tcp://localhost:1883",
		Topic:    "daw",
		ClientID: "rack-1",
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "daw", n.cfg.Topic)
	assert.Equal(t, "rack-1", n.cfg.ClientID)
	assert.Equal(t, "mqtt-notifier", n.Name())
	assert.Equal(t, "daw/node_failed", n.topicFor(events.KindNodeFailed))
}

func TestNotifierRunDisconnectsOnCancel(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	n := newTestNotifier(t, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, n.IsConnected, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, fc.disconnected)
}

// fakeReporter records reported errors
type fakeReporter struct {
	mu      sync.Mutex
	enabled bool
	errs    []*errors.EnhancedError
}

func (r *fakeReporter) IsEnabled() bool { return r.enabled }

func (r *fakeReporter) ReportError(ee *errors.EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, ee)
	ee.MarkReported()
}

func TestTelemetryConsumerForwardsErrors(t *testing.T) {
	t.Parallel()

	r := &fakeReporter{enabled: true}
	c := NewTelemetryConsumer(r)
	assert.Equal(t, "telemetry-worker", c.Name())

	ee := errors.Newf("ring overrun").Component("port").Category(errors.CategoryBuffer).Build()
	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindError, Err: ee}))
	// already reported
	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindError, Err: ee}))
	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindGraphRebuilt}))
	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindError}))

	require.Len(t, r.errs, 1)
	assert.Same(t, ee, r.errs[0])
	assert.Equal(t, uint64(1), c.Stats().Processed)
}

func TestTelemetryConsumerDisabledReporter(t *testing.T) {
	t.Parallel()

	r := &fakeReporter{}
	c := NewTelemetryConsumer(r)
	ee := errors.Newf("x").Component("router").Category(errors.CategoryGraph).Build()
	require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindError, Err: ee}))
	assert.Empty(t, r.errs)
}

func TestTelemetryConsumerRateLimit(t *testing.T) {
	t.Parallel()

	r := &fakeReporter{enabled: true}
	c := NewTelemetryConsumer(r)
	for range defaultTelemetryBurst + 5 {
		ee := errors.Newf("storm").Component("router").Category(errors.CategoryProcessing).Build()
		require.NoError(t, c.ProcessEvent(events.Event{Kind: events.KindError, Err: ee}))
	}
	stats := c.Stats()
	assert.Equal(t, uint64(defaultTelemetryBurst), stats.Processed)
	assert.Equal(t, uint64(5), stats.Dropped)
}

func TestInitSentryDisabled(t *testing.T) {
	reporter, err := InitSentry(&conf.Settings{}, "test")
	require.NoError(t, err)
	assert.False(t, reporter.IsEnabled())
	t.Cleanup(func() { errors.SetTelemetryReporter(nil) })
}
