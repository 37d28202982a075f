package ports

import (
	"context"

	"github.com/viralforge/hui-ledger/internal/domain"
)

// EventPublisher is the outbound change-notification port. Payload is a
// serialized contracts.EventEnvelope.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}

// EventNotifier fans committed events out to in-process subscribers such as
// gRPC watch streams.
type EventNotifier interface {
	Notify(events []domain.Event)
}
