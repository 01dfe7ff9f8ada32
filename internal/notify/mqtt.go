// Package notify delivers engine events to the outside world. The MQTT
// notifier publishes graph, latency and tempo changes as JSON and the
// telemetry consumer forwards error events to Sentry.
package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/events"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/observability/metrics"
)

var log = logger.Global().Module(componentNotify)

// Config holds the MQTT notifier configuration
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	ReconnectCooldown time.Duration
	// PublishValues also forwards per-port value changes, which can be frequent
	PublishValues bool
}

// DefaultConfig returns the notifier defaults
func DefaultConfig() Config {
	return Config{
		Topic:             "signalgraph",
		ClientID:          "signalgraph",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		ReconnectCooldown: 5 * time.Second,
	}
}

// brokerClient is the part of the paho client the notifier uses
type brokerClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Message is the JSON payload published for an event
type Message struct {
	Kind   string    `json:"kind"`
	Source string    `json:"source,omitempty"`
	Handle uint32    `json:"handle,omitempty"`
	Value  float64   `json:"value"`
	Count  int64     `json:"count"`
	Time   time.Time `json:"time"`
}

// Notifier is an events.Consumer that publishes to an MQTT broker
type Notifier struct {
	cfg       Config
	recorder  metrics.Recorder
	newClient func(opts *mqtt.ClientOptions) brokerClient

	mu              sync.Mutex
	client          brokerClient
	lastConnAttempt time.Time

	log logger.Logger
}

// NewNotifier creates a notifier from settings. It does not connect.
func NewNotifier(settings *conf.Settings, recorder metrics.Recorder) (*Notifier, error) {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	if settings.MQTT.Topic != "" {
		cfg.Topic = settings.MQTT.Topic
	}
	if settings.MQTT.ClientID != "" {
		cfg.ClientID = settings.MQTT.ClientID
	}
	return newNotifier(cfg, recorder, func(opts *mqtt.ClientOptions) brokerClient {
		return mqtt.NewClient(opts)
	})
}

func newNotifier(cfg Config, recorder metrics.Recorder, newClient func(*mqtt.ClientOptions) brokerClient) (*Notifier, error) {
	if _, err := url.Parse(cfg.Broker); err != nil || cfg.Broker == "" {
		return nil, wrapBroker(ErrInvalidBroker, "parse", cfg.Broker)
	}
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &Notifier{
		cfg:       cfg,
		recorder:  recorder,
		newClient: newClient,
		log:       log.With(logger.String("broker", cfg.Broker)),
	}, nil
}

// Name implements events.Consumer
func (n *Notifier) Name() string { return "mqtt-notifier" }

// Connect resolves the broker host and connects. Attempts closer together
// than the reconnect cooldown are refused.
func (n *Notifier) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if since := time.Since(n.lastConnAttempt); since < n.cfg.ReconnectCooldown {
		return wrapBroker(ErrConnectCooldown, "connect", n.cfg.Broker)
	}
	n.lastConnAttempt = time.Now()

	u, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return wrapBroker(ErrInvalidBroker, "parse", n.cfg.Broker)
	}
	if host := u.Hostname(); host != "" && net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return brokerError(err, "resolve", n.cfg.Broker)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetUsername(n.cfg.Username)
	opts.SetPassword(n.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(n.cfg.ConnectTimeout)
	opts.SetOnConnectHandler(n.onConnect)
	opts.SetConnectionLostHandler(n.onConnectionLost)

	n.client = n.newClient(opts)
	token := n.client.Connect()
	if !token.WaitTimeout(n.cfg.ConnectTimeout) {
		return wrapBroker(ErrTimeout, "connect", n.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return brokerError(err, "connect", n.cfg.Broker)
	}
	return nil
}

// IsConnected reports whether the broker connection is up
func (n *Notifier) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client != nil && n.client.IsConnected()
}

// Disconnect closes the broker connection
func (n *Notifier) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(uint(n.cfg.DisconnectTimeout.Milliseconds()))
		n.log.Info("disconnected from MQTT broker")
	}
}

// Run connects and holds the connection until ctx is cancelled. paho
// reconnects on its own after the first successful connect.
func (n *Notifier) Run(ctx context.Context) error {
	if err := n.Connect(ctx); err != nil {
		n.log.Warn("initial MQTT connection failed, events will be dropped until it succeeds", logger.Error(err))
	}
	<-ctx.Done()
	n.Disconnect()
	return nil
}

// Publish sends payload to topic at QoS 0
func (n *Notifier) Publish(topic string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil || !n.client.IsConnected() {
		return publishError(ErrNotConnected, topic)
	}

	start := time.Now()
	token := n.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(n.cfg.PublishTimeout) {
		n.recorder.RecordError(metrics.OpNotifyPublish, "timeout")
		return publishError(ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		n.recorder.RecordError(metrics.OpNotifyPublish, "publish")
		return publishError(err, topic)
	}
	n.recorder.RecordDuration(metrics.OpNotifyPublish, time.Since(start).Seconds())
	return nil
}

// ProcessEvent implements events.Consumer. Events that are not forwarded
// return nil; events dropped for a missing connection are counted.
func (n *Notifier) ProcessEvent(ev events.Event) error {
	if !n.forwards(ev.Kind) {
		return nil
	}
	if !n.IsConnected() {
		n.recorder.RecordOperation(metrics.OpNotifyPublish, metrics.StatusDropped)
		return nil
	}

	payload, err := json.Marshal(Message{
		Kind:   ev.Kind.String(),
		Source: ev.Source,
		Handle: ev.Handle,
		Value:  ev.Value,
		Count:  ev.Count,
		Time:   ev.Time,
	})
	if err != nil {
		return publishError(err, n.topicFor(ev.Kind))
	}
	if err := n.Publish(n.topicFor(ev.Kind), payload); err != nil {
		n.recorder.RecordOperation(metrics.OpNotifyPublish, metrics.StatusError)
		return err
	}
	n.recorder.RecordOperation(metrics.OpNotifyPublish, metrics.StatusSuccess)
	return nil
}

func (n *Notifier) forwards(k events.Kind) bool {
	switch k {
	case events.KindGraphRebuilt, events.KindLatencyChanged, events.KindNodeFailed,
		events.KindTempoChanged, events.KindTimeSignatureChanged:
		return true
	case events.KindValueChanged:
		return n.cfg.PublishValues
	default:
		return false
	}
}

func (n *Notifier) topicFor(k events.Kind) string {
	return strings.TrimSuffix(n.cfg.Topic, "/") + "/" + k.String()
}

func (n *Notifier) onConnect(mqtt.Client) {
	n.log.Info("connected to MQTT broker")
}

func (n *Notifier) onConnectionLost(_ mqtt.Client, err error) {
	n.recorder.RecordError(metrics.OpNotifyPublish, "connection_lost")
	n.log.Warn("connection to MQTT broker lost", logger.Error(err))
}
