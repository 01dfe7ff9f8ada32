package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tphakala/signalgraph/internal/logger"
)

// EngineMetrics contains all Prometheus metrics of the routing engine and
// its satellites (monitor, notifier). It implements Recorder.
type EngineMetrics struct {
	operationsTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	rebuildDuration *prometheus.HistogramVec
	unitDuration    *prometheus.HistogramVec
	notifyDuration  prometheus.Histogram
	graphNodes      prometheus.Gauge
	playbackLatency prometheus.Gauge
	workers         prometheus.Gauge
	queueCapacity   prometheus.Gauge
	meterPeak       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewEngineMetrics creates a new instance of EngineMetrics and registers it
// with the provided registry.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for EngineMetrics.
func (m *EngineMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalgraph_operations_total",
			Help: "Total number of engine operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalgraph_errors_total",
			Help: "Total number of engine errors by operation and category",
		},
		[]string{"operation", "error_type"},
	)

	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signalgraph_cycle_duration_seconds",
		Help:    "Wall time of a processing cycle from kickoff to the last terminal node",
		Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount15),
	})

	m.rebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalgraph_rebuild_duration_seconds",
			Help:    "Time spent rebuilding or recalculating the processing graph",
			Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount15),
		},
		[]string{"type"},
	)

	m.unitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalgraph_unit_process_duration_seconds",
			Help:    "Time spent inside a unit's process step",
			Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount15),
		},
		[]string{"unit"},
	)

	m.notifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signalgraph_notify_publish_duration_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	m.graphNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalgraph_graph_nodes",
		Help: "Number of nodes in the active processing graph",
	})

	m.playbackLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalgraph_playback_latency_frames",
		Help: "Maximum playback latency over all root nodes in frames",
	})

	m.workers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalgraph_workers",
		Help: "Number of processing worker threads",
	})

	m.queueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalgraph_ready_queue_capacity",
		Help: "Capacity of the ready-node queue",
	})

	m.meterPeak = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalgraph_meter_peak",
		Help: "Most recent peak level read from a meter tap (linear)",
	})

	return nil
}

// RecordOperation implements Recorder.
func (m *EngineMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *EngineMetrics) RecordDuration(operation string, seconds float64) {
	switch {
	case operation == OpCycle:
		m.cycleDuration.Observe(seconds)
	case operation == OpRebuild, operation == OpSoftRecalc:
		m.rebuildDuration.WithLabelValues(operation).Observe(seconds)
	case operation == OpNotifyPublish:
		m.notifyDuration.Observe(seconds)
	case strings.HasPrefix(operation, OpUnitPrefix):
		m.unitDuration.WithLabelValues(strings.TrimPrefix(operation, OpUnitPrefix)).Observe(seconds)
	default:
		log.Debug("duration for unknown operation dropped", logger.String("operation", operation))
	}
}

// UnitDurationObserver implements UnitTimers. The returned observer is the
// unit's histogram series, so observing takes no label lookup.
func (m *EngineMetrics) UnitDurationObserver(unit string) DurationObserver {
	return m.unitDuration.WithLabelValues(unit)
}

// RecordError implements Recorder.
func (m *EngineMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordValue implements Recorder.
func (m *EngineMetrics) RecordValue(metric string, value float64) {
	switch metric {
	case ValueGraphNodes:
		m.graphNodes.Set(value)
	case ValuePlaybackLatency:
		m.playbackLatency.Set(value)
	case ValueWorkers:
		m.workers.Set(value)
	case ValueQueueCapacity:
		m.queueCapacity.Set(value)
	case ValueMeterPeak:
		m.meterPeak.Set(value)
	default:
		log.Debug("value for unknown gauge dropped", logger.String("metric", metric))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.cycleDuration.Describe(ch)
	m.rebuildDuration.Describe(ch)
	m.unitDuration.Describe(ch)
	m.notifyDuration.Describe(ch)
	m.graphNodes.Describe(ch)
	m.playbackLatency.Describe(ch)
	m.workers.Describe(ch)
	m.queueCapacity.Describe(ch)
	m.meterPeak.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.cycleDuration.Collect(ch)
	m.rebuildDuration.Collect(ch)
	m.unitDuration.Collect(ch)
	m.notifyDuration.Collect(ch)
	m.graphNodes.Collect(ch)
	m.playbackLatency.Collect(ch)
	m.workers.Collect(ch)
	m.queueCapacity.Collect(ch)
	m.meterPeak.Collect(ch)
}
