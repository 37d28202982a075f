package application

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

// outboxEvents wraps sealed ledger events in canonical envelopes. All events
// of one commit share a trace id so consumers can regroup them.
func (s *Service) outboxEvents(owner common.Address, events []domain.Event, traceID string) ([]ports.OutboxEvent, error) {
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	out := make([]ports.OutboxEvent, 0, len(events))
	for _, ev := range events {
		if !domain.IsCanonicalEmittedEvent(ev.Type) {
			return nil, domain.ErrUnsupportedEventType
		}
		data, err := json.Marshal(contracts.NewLedgerEventPayload(owner, ev))
		if err != nil {
			return nil, err
		}
		eventID := uuid.New()
		env := contracts.EventEnvelope{
			EventID:          eventID.String(),
			EventType:        ev.Type,
			EventClass:       domain.CanonicalEventClass(ev.Type),
			OccurredAt:       ev.OccurredAt,
			PartitionKeyPath: domain.CanonicalPartitionKeyPath(ev.Type),
			PartitionKey:     owner.Hex(),
			SourceService:    s.cfg.ServiceName,
			TraceID:          traceID,
			SchemaVersion:    "v1",
			Data:             data,
		}
		payload, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		out = append(out, ports.OutboxEvent{
			EventID:      eventID,
			EventType:    ev.Type,
			PartitionKey: env.PartitionKey,
			Payload:      payload,
			OccurredAt:   ev.OccurredAt,
		})
	}
	return out, nil
}
