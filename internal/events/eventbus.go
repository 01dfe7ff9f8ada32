package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 4096,
		Workers:    2,
	}
}

// EventBus provides asynchronous event processing with non-blocking publishing
type EventBus struct {
	eventChan chan Event
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers     []Consumer
	consumerCount atomic.Int32

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64
	fastPath  atomic.Uint64

	log logger.Logger
}

// New creates an event bus. Workers start with the first registered consumer.
func New(cfg Config, log logger.Logger) *EventBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if log == nil {
		log = logger.Global().Module("events")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan: make(chan Event, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
}

// RegisterConsumer adds a consumer. Names must be unique.
func (eb *EventBus) RegisterConsumer(consumer Consumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.consumerCount.Store(int32(len(eb.consumers)))

	eb.log.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 {
		eb.start()
	}
	return nil
}

// TryPublish enqueues ev without blocking. It returns false when the bus is
// stopped, has no consumers or the buffer is full.
func (eb *EventBus) TryPublish(ev Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}
	if eb.consumerCount.Load() == 0 {
		eb.fastPath.Add(1)
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case eb.eventChan <- ev:
		eb.received.Add(1)
		return true
	default:
		eb.dropped.Add(1)
		return false
	}
}

// TryPublishError lets the errors package hand enhanced errors to the bus
func (eb *EventBus) TryPublishError(ee *errors.EnhancedError) bool {
	return eb.TryPublish(Event{
		Kind:   KindError,
		Source: ee.GetComponent(),
		Err:    ee,
		Time:   ee.GetTimestamp(),
	})
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	eb.log.Debug("starting event bus workers", logger.Int("count", eb.workers))
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()
	log := eb.log.With(logger.Int("worker_id", id))

	for {
		select {
		case <-eb.ctx.Done():
			return
		case ev := <-eb.eventChan:
			eb.processEvent(ev, log)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(ev Event, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]Consumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.errored.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", ev.Kind.String()))
				}
			}()

			if err := consumer.ProcessEvent(ev); err != nil {
				eb.errored.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Error(err),
					logger.String("kind", ev.Kind.String()))
				return
			}
			eb.processed.Add(1)
		}()
	}
}

// Shutdown stops the workers and waits up to timeout for them to exit
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil {
		return nil
	}
	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Context("timeout", timeout.String()).
			Build()
	}
}

// Stats returns current event bus statistics
func (eb *EventBus) Stats() BusStats {
	if eb == nil {
		return BusStats{}
	}
	return BusStats{
		EventsReceived:  eb.received.Load(),
		EventsProcessed: eb.processed.Load(),
		EventsDropped:   eb.dropped.Load(),
		ConsumerErrors:  eb.errored.Load(),
		FastPathHits:    eb.fastPath.Load(),
	}
}
