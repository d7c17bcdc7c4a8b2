package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stridehq/stride-scheduler/internal/metrics"
)

// Event is the envelope exchanged between modules over the bus.
type Event struct {
	Type        string
	AggregateID string
	OccurredOn  time.Time
	AccountUUID string
	Payload     map[string]any
}

// Handler processes one event. A returned error marks the delivery failed for
// that handler only; other handlers still receive the event.
type Handler func(ctx context.Context, ev Event) error

// DeadLetter captures a delivery that a handler rejected, so provisioning
// failures are observable and replayable instead of silently swallowed.
type DeadLetter struct {
	Event Event
	Err   error
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(eventType string, h Handler)
}

// InProcessBus dispatches events asynchronously, one goroutine per delivery.
// No ordering guarantee exists between listeners of the same event.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	logger *slog.Logger
	dead   chan DeadLetter

	wg     sync.WaitGroup
	closed bool
}

func NewInProcessBus(logger *slog.Logger, deadLetterBuffer int) *InProcessBus {
	if deadLetterBuffer <= 0 {
		deadLetterBuffer = 128
	}
	return &InProcessBus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "event_bus"),
		dead:     make(chan DeadLetter, deadLetterBuffer),
	}
}

func (b *InProcessBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish fans the event out to all subscribers of its type and returns
// immediately. Handler errors land on the dead-letter channel.
func (b *InProcessBus) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredOn.IsZero() {
		ev.OccurredOn = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := b.handlers[ev.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no subscribers", "event_type", ev.Type)
		return nil
	}

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			if err := h(ctx, ev); err != nil {
				b.logger.Error("event handler failed",
					"event_type", ev.Type,
					"aggregate_id", ev.AggregateID,
					"error", err,
				)
				metrics.DeadLettersTotal.Inc()
				select {
				case b.dead <- DeadLetter{Event: ev, Err: err}:
				default:
					b.logger.Warn("dead letter buffer full, dropping", "event_type", ev.Type)
				}
			}
		}(h)
	}
	return nil
}

// DeadLetters exposes failed deliveries for inspection or replay.
func (b *InProcessBus) DeadLetters() <-chan DeadLetter { return b.dead }

// Close waits for in-flight deliveries and closes the dead-letter channel.
func (b *InProcessBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.dead)
}
