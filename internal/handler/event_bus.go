// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"fdm-service/internal/model"
)

// EventBus fans fiscal events out to in-process subscribers. Publishing
// never blocks: when the buffer or a subscriber is full the event is
// dropped for that consumer.
type EventBus struct {
	subscribers map[model.EventType][]chan model.FiscalEvent
	events      chan model.FiscalEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.FiscalEvent),
		events:      make(chan model.FiscalEvent, 1000),
		logger:      logger,
	}
}

// Start starts the event bus
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event model.FiscalEvent) {
	select {
	case eb.events <- event:
	default:
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan model.FiscalEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.FiscalEvent, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.FiscalEvent) {
	eb.mutex.RLock()
	subscribers := eb.subscribers[event.EventType]
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
