package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/hui-ledger/internal/domain"
)

// LedgerTx is the view of the store inside one atomic commit. Nothing
// written through it is visible to readers until the enclosing Atomically
// call returns nil.
type LedgerTx interface {
	// LoadLedger returns the current ledger or domain.ErrNotDeployed.
	LoadLedger(ctx context.Context) (*domain.Ledger, error)
	CreateLedger(ctx context.Context, ledger *domain.Ledger) error
	SaveLedger(ctx context.Context, ledger *domain.Ledger) error
	Head(ctx context.Context) (domain.ChainHead, error)
	AppendEvents(ctx context.Context, events []domain.Event) error
	EnqueueOutbox(ctx context.Context, events []OutboxEvent) error
}

// EventQuery selects committed history in commit order.
type EventQuery struct {
	AfterSeq uint64
	Limit    int
	Types    []string
}

// LedgerReader reads committed state.
type LedgerReader interface {
	LoadLedger(ctx context.Context) (*domain.Ledger, error)
	ListEvents(ctx context.Context, query EventQuery) ([]domain.Event, error)
	Head(ctx context.Context) (domain.ChainHead, error)
}

// LedgerStore serializes writers. Atomically holds the single-writer lock for
// the duration of fn and commits only when fn returns nil. ReadSnapshot hands
// fn a reader over one committed state; no commit becomes visible to it while
// fn runs.
type LedgerStore interface {
	LedgerReader
	Atomically(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r LedgerReader) error) error
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	FirstSeenAt    time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow. Records are written
// by LedgerTx.EnqueueOutbox in the same commit as the events they announce.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// IdempotencyRecord tracks a previously accepted mutating request.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdempotencyRepository enforces idempotent mutation semantics. Reserve
// returns domain.ErrConflict when the key is already held.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}
