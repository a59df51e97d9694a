package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/league-payments/pkg/logger"
)

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) Payload() interface{} {
	return e.Data
}

type Handler func(ctx context.Context, event Event) error

// Publisher is what services depend on. *EventBus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventBus struct {
	handlers map[string][]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debug("events: handler registered", "event_type", eventType, "total_handlers", len(eb.handlers[eventType]))
}

// Publish fans out asynchronously and never fails the caller: the ledger
// write that produced the event has already committed. Handlers outlive the
// request, so they get a context detached from its cancellation.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	handlers := eb.handlersFor(event.EventType())
	log := logger.Scoped(ctx, eb.logger).With("event_type", event.EventType(), "event_id", event.EventID())
	if len(handlers) == 0 {
		log.Debug("events: no handlers")
		return nil
	}
	log.Debug("events: publishing", "handlers_count", len(handlers))

	detached := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		eb.wg.Add(1)
		go func(h Handler) {
			defer eb.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error("events: handler panicked", "panic", r)
				}
			}()
			if err := h(detached, event); err != nil {
				log.Error("events: handler failed", "error", err)
			}
		}(handler)
	}
	return nil
}

// Wait blocks until in-flight async handlers return. Used on shutdown.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

func (eb *EventBus) handlersFor(eventType string) []Handler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return append([]Handler(nil), eb.handlers[eventType]...)
}
