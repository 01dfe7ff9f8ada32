// Package metrics provides constants used across metric definitions.
package metrics

// Operation type constants used in switch statements across metrics.
// These constants define the categories of operations that can be recorded.
const (
	// OpCycle represents one processing cycle driven by the audio backend.
	OpCycle = "cycle"
	// OpRebuild represents a full graph rebuild.
	OpRebuild = "rebuild"
	// OpSoftRecalc represents a latency-only recalculation.
	OpSoftRecalc = "soft_recalc"
	// OpNodeProcess represents a single node executed by a worker.
	OpNodeProcess = "node_process"
	// OpControlChange represents a queued control change applied at cycle start.
	OpControlChange = "control_change"
	// OpControlQueue represents enqueueing into the control ring.
	OpControlQueue = "control_queue"
	// OpMeterRead represents a monitor draining a meter tap.
	OpMeterRead = "meter_read"
	// OpNotifyPublish represents publishing an engine event to MQTT.
	OpNotifyPublish = "notify_publish"
	// OpUnitPrefix prefixes per-unit duration operations ("unit/<name>").
	OpUnitPrefix = "unit/"
)

// Gauge name constants accepted by RecordValue.
const (
	// ValueGraphNodes is the node count of the active graph.
	ValueGraphNodes = "graph_nodes"
	// ValuePlaybackLatency is the maximum playback latency in frames.
	ValuePlaybackLatency = "playback_latency_frames"
	// ValueWorkers is the number of processing workers.
	ValueWorkers = "workers"
	// ValueQueueCapacity is the capacity of the ready queue.
	ValueQueueCapacity = "queue_capacity"
	// ValueMeterPeak is the last observed meter peak (linear).
	ValueMeterPeak = "meter_peak"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
	StatusOverrun = "overrun"
	StatusDropped = "dropped"
)

// Histogram bucket configuration constants.
const (
	// BucketStart10us is the starting bucket for 10us histograms (10us to ~160ms range).
	BucketStart10us = 0.00001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)
