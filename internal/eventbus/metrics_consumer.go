package eventbus

import (
	"context"

	"github.com/matthewbaird/signalintel/internal/event"
)

// EventCounter counts dispatched events by type.
type EventCounter interface {
	EventDispatched(eventType string)
}

// MetricsConsumer feeds every event into an EventCounter.
type MetricsConsumer struct {
	counter EventCounter
}

// NewMetricsConsumer creates a consumer that counts events on c.
func NewMetricsConsumer(c EventCounter) *MetricsConsumer {
	return &MetricsConsumer{counter: c}
}

func (c *MetricsConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	c.counter.EventDispatched(evt.EventType)
	return nil
}
