package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/viralforge/hui-ledger/internal/ports"
)

type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	p.logger.InfoContext(ctx, "published event",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload", string(payload),
	)
	return nil
}

// FanoutPublisher delivers every message to all of its sinks. A message
// counts as published only when every sink accepted it.
type FanoutPublisher struct {
	sinks []ports.EventPublisher
}

func NewFanoutPublisher(sinks ...ports.EventPublisher) *FanoutPublisher {
	return &FanoutPublisher{sinks: sinks}
}

func (p *FanoutPublisher) Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, eventType, partitionKey, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
