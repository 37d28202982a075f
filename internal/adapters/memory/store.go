// Package memory is an in-process implementation of the ledger ports. It
// backs tests and single-node local runs.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

type Store struct {
	mu          deadlock.RWMutex
	ledger      *domain.Ledger
	events      []domain.Event
	head        domain.ChainHead
	outbox      []*ports.OutboxRecord
	idempotency map[string]ports.IdempotencyRecord
}

func NewStore() *Store {
	return &Store{idempotency: map[string]ports.IdempotencyRecord{}}
}

type tx struct {
	store   *Store
	ledger  *domain.Ledger
	created bool
	saved   bool
	events  []domain.Event
	head    domain.ChainHead
	outbox  []ports.OutboxEvent
}

// Atomically runs fn against a private copy of the state and swaps it in
// only when fn succeeds.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{store: s, head: s.head}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if t.created || t.saved {
		s.ledger = t.ledger.Clone()
	}
	for _, ev := range t.events {
		s.events = append(s.events, ev.Clone())
	}
	s.head = t.head
	for _, ev := range t.outbox {
		created := ev.OccurredAt
		s.outbox = append(s.outbox, &ports.OutboxRecord{
			OutboxID:     ev.EventID,
			EventType:    ev.EventType,
			PartitionKey: ev.PartitionKey,
			Payload:      append([]byte(nil), ev.Payload...),
			CreatedAt:    created,
			FirstSeenAt:  created,
		})
	}
	return nil
}

func (t *tx) LoadLedger(context.Context) (*domain.Ledger, error) {
	if t.ledger != nil {
		return t.ledger, nil
	}
	if t.store.ledger == nil {
		return nil, domain.ErrNotDeployed
	}
	t.ledger = t.store.ledger.Clone()
	return t.ledger, nil
}

func (t *tx) CreateLedger(_ context.Context, ledger *domain.Ledger) error {
	if t.store.ledger != nil || t.created {
		return domain.ErrAlreadyDeployed
	}
	t.ledger = ledger
	t.created = true
	return nil
}

func (t *tx) SaveLedger(_ context.Context, ledger *domain.Ledger) error {
	if t.store.ledger == nil && !t.created {
		return domain.ErrNotDeployed
	}
	t.ledger = ledger
	t.saved = true
	return nil
}

func (t *tx) Head(context.Context) (domain.ChainHead, error) {
	return t.head, nil
}

func (t *tx) AppendEvents(_ context.Context, events []domain.Event) error {
	for _, ev := range events {
		if ev.Seq != t.head.Seq+1 || ev.PrevHash != t.head.Hash {
			return domain.ErrConflict
		}
		t.events = append(t.events, ev.Clone())
		t.head = domain.ChainHead{Seq: ev.Seq, TxSeq: ev.TxSeq, Hash: ev.Hash}
	}
	return nil
}

func (t *tx) EnqueueOutbox(_ context.Context, events []ports.OutboxEvent) error {
	t.outbox = append(t.outbox, events...)
	return nil
}

func (s *Store) LoadLedger(ctx context.Context) (*domain.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{s}.LoadLedger(ctx)
}

func (s *Store) Head(ctx context.Context) (domain.ChainHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{s}.Head(ctx)
}

func (s *Store) ListEvents(ctx context.Context, query ports.EventQuery) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{s}.ListEvents(ctx, query)
}

// ReadSnapshot holds the read lock while fn runs, so writers wait for it.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r ports.LedgerReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, snapshot{s})
}

// snapshot reads the store without locking; callers hold s.mu.
type snapshot struct {
	s *Store
}

func (r snapshot) LoadLedger(context.Context) (*domain.Ledger, error) {
	if r.s.ledger == nil {
		return nil, domain.ErrNotDeployed
	}
	return r.s.ledger.Clone(), nil
}

func (r snapshot) Head(context.Context) (domain.ChainHead, error) {
	return r.s.head, nil
}

func (r snapshot) ListEvents(_ context.Context, query ports.EventQuery) ([]domain.Event, error) {
	events := r.s.events
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > query.AfterSeq })
	var types map[string]struct{}
	if len(query.Types) > 0 {
		types = make(map[string]struct{}, len(query.Types))
		for _, t := range query.Types {
			types[t] = struct{}{}
		}
	}
	out := []domain.Event{}
	for _, ev := range events[start:] {
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
		if types != nil {
			if _, ok := types[ev.Type]; !ok {
				continue
			}
		}
		out = append(out, ev.Clone())
	}
	return out, nil
}

// Outbox

func (s *Store) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := []ports.OutboxRecord{}
	for _, rec := range s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && rec.ClaimUntil.After(now) {
			continue
		}
		token, until := claimToken, claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		out = append(out, *rec)
	}
	return out, nil
}

func (s *Store) claimed(outboxID uuid.UUID, claimToken string) (*ports.OutboxRecord, error) {
	for _, rec := range s.outbox {
		if rec.OutboxID != outboxID {
			continue
		}
		if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
			return nil, domain.ErrConflict
		}
		return rec, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Store) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	rec.PublishedAt = &at
	rec.ClaimToken, rec.ClaimUntil = nil, nil
	return nil
}

func (s *Store) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	rec.RetryCount++
	rec.LastError = &errMsg
	rec.LastErrorAt = &at
	rec.ClaimToken, rec.ClaimUntil = nil, nil
	return nil
}

func (s *Store) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.claimed(outboxID, claimToken)
	if err != nil {
		return err
	}
	rec.LastError = &errMsg
	rec.LastErrorAt = &at
	rec.DeadLetteredAt = &at
	rec.ClaimToken, rec.ClaimUntil = nil, nil
	return nil
}

// OutboxSnapshot returns copies of every outbox record in insertion order.
func (s *Store) OutboxSnapshot() []ports.OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.OutboxRecord, 0, len(s.outbox))
	for _, rec := range s.outbox {
		out = append(out, *rec)
	}
	return out
}

// Idempotency

func (s *Store) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil, nil
	}
	out := rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &out, nil
}

func (s *Store) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if rec, ok := s.idempotency[key]; ok && rec.ExpiresAt.After(now) {
		return domain.ErrConflict
	}
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "pending",
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (s *Store) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idempotency[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = "completed"
	rec.ResponseCode = responseCode
	rec.ResponseBody = append([]byte(nil), responseBody...)
	rec.UpdatedAt = at
	s.idempotency[key] = rec
	return nil
}

func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.idempotency[key]; ok && rec.Status == "pending" {
		delete(s.idempotency, key)
	}
	return nil
}
