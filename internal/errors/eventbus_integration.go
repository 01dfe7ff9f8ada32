// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// It lets this package hand errors to the event bus without importing it.
type EventPublisher interface {
	TryPublishError(ee *EnhancedError) bool
}

var globalEventPublisher atomic.Pointer[EventPublisher]

// SetEventPublisher sets the global event publisher. Passing nil removes it.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
	} else {
		globalEventPublisher.Store(&publisher)
	}
	updateActiveReporting()
}

// reportToTelemetry prefers asynchronous delivery through the event bus and
// falls back to the synchronous reporter when the bus is absent or full.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	if p := globalEventPublisher.Load(); p != nil && *p != nil {
		if (*p).TryPublishError(ee) {
			return
		}
	}
	reportToTelemetryDirect(ee)
}
