// Package metrics provides custom Prometheus metrics for the signal graph engine.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records a generic operation with its status.
	// The operation parameter describes what was performed (e.g., "cycle", "rebuild").
	// The status parameter indicates the outcome (e.g., "success", "skipped").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	// Operations prefixed with OpUnitPrefix are recorded per unit.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	// The operation parameter describes where the error occurred.
	// The errorType parameter categorizes the error, usually an error category.
	RecordError(operation, errorType string)

	// RecordValue sets the current value of a named gauge (see Value* constants).
	RecordValue(metric string, value float64)
}

// DurationObserver records durations of one fixed operation.
type DurationObserver interface {
	Observe(seconds float64)
}

// UnitTimers is implemented by recorders that can resolve the duration
// observer of a unit once, outside the processing path.
type UnitTimers interface {
	UnitDurationObserver(unit string) DurationObserver
}

// UnitObserver returns the duration observer of unit. Recorders without
// UnitTimers get one that calls RecordDuration with a prebuilt
// OpUnitPrefix operation name.
func UnitObserver(r Recorder, unit string) DurationObserver {
	if ut, ok := r.(UnitTimers); ok {
		return ut.UnitDurationObserver(unit)
	}
	return &operationObserver{recorder: r, operation: OpUnitPrefix + unit}
}

type operationObserver struct {
	recorder  Recorder
	operation string
}

func (o *operationObserver) Observe(seconds float64) {
	o.recorder.RecordDuration(o.operation, seconds)
}

// NoOpRecorder is a no-op implementation of the Recorder interface.
// It can be used when metrics recording is not needed.
type NoOpRecorder struct{}

// RecordOperation does nothing.
func (n *NoOpRecorder) RecordOperation(operation, status string) {}

// RecordDuration does nothing.
func (n *NoOpRecorder) RecordDuration(operation string, seconds float64) {}

// RecordError does nothing.
func (n *NoOpRecorder) RecordError(operation, errorType string) {}

// RecordValue does nothing.
func (n *NoOpRecorder) RecordValue(metric string, value float64) {}

// NewNoOpRecorder creates a new no-op recorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}
