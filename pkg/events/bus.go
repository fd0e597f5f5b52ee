package events

import (
	"context"
	"log/slog"
	"sync"
)

// Sink consumes events. Implementations must be safe for concurrent use by
// the dispatcher goroutine only; the bus never calls a sink concurrently
// with itself.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// Bus is an in-process event queue with a single dispatcher goroutine
// fanning out to the registered sinks.
type Bus struct {
	sinks  []Sink
	queue  chan Event
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewBus creates a bus with the given queue depth and sinks.
func NewBus(queueSize int, logger *slog.Logger, sinks ...Sink) *Bus {
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		sinks:  sinks,
		queue:  make(chan Event, queueSize),
		logger: logger,
	}
}

// Publish enqueues evt for delivery. It never blocks: when the queue is
// full the event is dropped with a warning, matching the fire-and-forget
// contract of the notification collaborator.
func (b *Bus) Publish(evt Event) {
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("event queue full, dropping event", "type", evt.EventType())
	}
}

// Run starts the dispatcher. It returns immediately; delivery continues
// until ctx is cancelled. Call Wait to block until the dispatcher drains.
func (b *Bus) Run(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				if n := len(b.queue); n > 0 {
					b.logger.Info("event bus stopping with undelivered events", "count", n)
				}
				return
			case evt := <-b.queue:
				b.dispatch(ctx, evt)
			}
		}
	}()
}

// Wait blocks until the dispatcher goroutine has exited.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	for _, s := range b.sinks {
		if err := s.Deliver(ctx, evt); err != nil {
			b.logger.Warn("event delivery failed", "type", evt.EventType(), "error", err)
		}
	}
}
