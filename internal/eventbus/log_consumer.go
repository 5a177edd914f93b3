package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogConsumer{logger: logger.Named("events")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", evt.EventType),
		zap.String("entity", evt.EntityType+":"+evt.EntityID),
		zap.Time("occurred_at", evt.OccurredAt),
	}
	if evt.Severity != "" {
		fields = append(fields, zap.String("severity", string(evt.Severity)))
	}
	if evt.EventType == event.TypeDetectorFailed {
		c.logger.Warn(evt.Summary, fields...)
		return nil
	}
	c.logger.Info(evt.Summary, fields...)
	return nil
}
