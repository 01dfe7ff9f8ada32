package logger

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle gates a log call site that runs on a processing thread. Calls
// over the rate are dropped and counted, and the count is handed to the next
// call that gets through so it can be logged with Suppressed.
//
//	if dropped, ok := throttle.Allow(); ok {
//	    log.Warn("node failed", logger.Error(err), logger.Suppressed(dropped))
//	}
type Throttle struct {
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewThrottle allows perSecond records per second with a burst of one.
// A non-positive rate allows one per second.
func NewThrottle(perSecond float64) *Throttle {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Allow reports whether the caller may log now, and if so how many calls
// were refused since the last one that was allowed.
func (t *Throttle) Allow() (dropped uint64, ok bool) {
	if !t.limiter.Allow() {
		t.dropped.Add(1)
		return 0, false
	}
	return t.dropped.Swap(0), true
}
