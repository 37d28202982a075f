package ports

import (
	"context"
	"time"
)

// SnapshotCache stores serialized read models keyed by name. Get returns
// (nil, nil) on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Metrics receives operation outcomes from the application layer.
type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	ObserveEvents(eventType string, count int)
	SetPoolState(period int, phase string, members int, ended bool)
	ObserveCache(hit bool)
}
