package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

type ledgerOp func(l *domain.Ledger, caller common.Address, now time.Time) ([]domain.Event, error)

// Deploy creates the pool. It fails with ErrAlreadyDeployed once a pool
// exists in the store.
func (s *Service) Deploy(ctx context.Context, actor Actor, params domain.Params) (CommitResult, error) {
	if actor.Address == (common.Address{}) {
		return CommitResult{}, domain.ErrUnauthenticated
	}
	return s.run(ctx, "deploy", actor, params, func(ctx context.Context, tx ports.LedgerTx, now time.Time) (*domain.Ledger, []domain.Event, error) {
		if _, err := tx.LoadLedger(ctx); err == nil {
			return nil, nil, domain.ErrAlreadyDeployed
		} else if !errors.Is(err, domain.ErrNotDeployed) {
			return nil, nil, err
		}
		ledger, events, err := domain.Deploy(actor.Address, params, now)
		if err != nil {
			return nil, nil, err
		}
		return ledger, events, tx.CreateLedger(ctx, ledger)
	})
}

// EnsureDeployed deploys the pool when the store is empty and otherwise
// returns the existing pool untouched.
func (s *Service) EnsureDeployed(ctx context.Context, owner common.Address, params domain.Params) (domain.Pool, bool, error) {
	result, err := s.Deploy(ctx, Actor{Address: owner}, params)
	if err == nil {
		return result.Pool, true, nil
	}
	if !errors.Is(err, domain.ErrAlreadyDeployed) {
		return domain.Pool{}, false, err
	}
	ledger, err := s.store.LoadLedger(ctx)
	if err != nil {
		return domain.Pool{}, false, err
	}
	return ledger.Pool, false, nil
}

func (s *Service) Join(ctx context.Context, actor Actor, deposit *big.Int) (CommitResult, error) {
	return s.mutate(ctx, "join", actor, amountRequest(deposit), func(l *domain.Ledger, caller common.Address, now time.Time) ([]domain.Event, error) {
		return l.Join(caller, deposit, now)
	})
}

func (s *Service) Bid(ctx context.Context, actor Actor, amount *big.Int) (CommitResult, error) {
	return s.mutate(ctx, "bid", actor, amountRequest(amount), func(l *domain.Ledger, caller common.Address, now time.Time) ([]domain.Event, error) {
		return l.Bid(caller, amount, now)
	})
}

func (s *Service) SelectWinner(ctx context.Context, actor Actor) (CommitResult, error) {
	return s.mutate(ctx, "select_winner", actor, nil, (*domain.Ledger).SelectWinner)
}

func (s *Service) Pay(ctx context.Context, actor Actor, amount *big.Int) (CommitResult, error) {
	return s.mutate(ctx, "pay", actor, amountRequest(amount), func(l *domain.Ledger, caller common.Address, now time.Time) ([]domain.Event, error) {
		return l.Pay(caller, amount, now)
	})
}

func (s *Service) PenalizeViolations(ctx context.Context, actor Actor) (CommitResult, error) {
	return s.mutate(ctx, "penalize_violations", actor, nil, (*domain.Ledger).PenalizeViolations)
}

func (s *Service) SettlePeriod(ctx context.Context, actor Actor) (CommitResult, error) {
	return s.mutate(ctx, "settle_period", actor, nil, (*domain.Ledger).SettlePeriod)
}

func (s *Service) ReturnDeposits(ctx context.Context, actor Actor) (CommitResult, error) {
	return s.mutate(ctx, "return_deposits", actor, nil, (*domain.Ledger).ReturnDeposits)
}

func amountRequest(amount *big.Int) map[string]string {
	if amount == nil {
		return map[string]string{"amount_wei": ""}
	}
	return map[string]string{"amount_wei": amount.String()}
}

// mutate loads the ledger, applies op and saves it in one commit.
func (s *Service) mutate(ctx context.Context, operation string, actor Actor, request any, op ledgerOp) (CommitResult, error) {
	if actor.Address == (common.Address{}) {
		return CommitResult{}, domain.ErrUnauthenticated
	}
	return s.run(ctx, operation, actor, request, func(ctx context.Context, tx ports.LedgerTx, now time.Time) (*domain.Ledger, []domain.Event, error) {
		ledger, err := tx.LoadLedger(ctx)
		if err != nil {
			return nil, nil, err
		}
		events, err := op(ledger, actor.Address, now)
		if err != nil {
			return nil, nil, err
		}
		if len(events) == 0 {
			return ledger, nil, nil
		}
		return ledger, events, tx.SaveLedger(ctx, ledger)
	})
}

type commitFn func(ctx context.Context, tx ports.LedgerTx, now time.Time) (*domain.Ledger, []domain.Event, error)

func (s *Service) run(ctx context.Context, operation string, actor Actor, request any, apply commitFn) (CommitResult, error) {
	started := time.Now()
	requestHash := hashJSON(struct {
		Operation string `json:"operation"`
		Caller    string `json:"caller"`
		Request   any    `json:"request"`
	}{operation, actor.Address.Hex(), request})

	if cached, ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash); err != nil {
		s.observe(ctx, operation, actor, started, err)
		return CommitResult{}, err
	} else if ok {
		s.observe(ctx, operation, actor, started, nil)
		return cached, nil
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		s.observe(ctx, operation, actor, started, err)
		return CommitResult{}, err
	}

	var result CommitResult
	err := s.store.Atomically(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		now := s.nowFn()
		ledger, events, err := apply(ctx, tx, now)
		if err != nil {
			return err
		}
		head, err := tx.Head(ctx)
		if err != nil {
			return err
		}
		sealed, _ := domain.Seal(head, events, now)
		if len(sealed) > 0 {
			if err := tx.AppendEvents(ctx, sealed); err != nil {
				return err
			}
			outbox, err := s.outboxEvents(ledger.Pool.Owner, sealed, actor.RequestID)
			if err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, outbox); err != nil {
				return err
			}
		}
		result = CommitResult{Pool: ledger.Pool.Clone(), MemberCount: len(ledger.Members()), Events: sealed}
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, actor.IdempotencyKey)
		s.observe(ctx, operation, actor, started, err)
		return CommitResult{}, err
	}

	s.afterCommit(ctx, result)
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 200, result)
	s.observe(ctx, operation, actor, started, nil)
	return result, nil
}

func (s *Service) afterCommit(ctx context.Context, result CommitResult) {
	if len(result.Events) == 0 {
		return
	}
	s.invalidateSnapshot(ctx)
	if s.notifier != nil {
		s.notifier.Notify(result.Events)
	}
	if s.metrics != nil {
		for _, ev := range result.Events {
			s.metrics.ObserveEvents(ev.Type, 1)
		}
		s.metrics.SetPoolState(result.Pool.CurrentPeriod, result.Pool.Phase.String(), result.MemberCount, result.Pool.Ended)
	}
}

func (s *Service) observe(ctx context.Context, operation string, actor Actor, started time.Time, err error) {
	elapsed := time.Since(started)
	outcome := outcomeOf(err)
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, outcome, elapsed)
	}
	attrs := []any{
		"module", "application.service",
		"layer", "application",
		"operation", operation,
		"outcome", outcome,
		"request_id", actor.RequestID,
		"caller", actor.Address.Hex(),
		"duration_ms", elapsed.Milliseconds(),
	}
	switch outcome {
	case "success":
		s.logger.InfoContext(ctx, "ledger operation committed", attrs...)
	case "error":
		s.logger.ErrorContext(ctx, "ledger operation failed", append(attrs, "error", err)...)
	default:
		s.logger.WarnContext(ctx, "ledger operation rejected", append(attrs, "error", err)...)
	}
}

// outcomeOf buckets an error into the rejection taxonomy for logs and
// metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrPreconditionViolation):
		return "precondition_violation"
	case errors.Is(err, domain.ErrAuthorizationViolation), errors.Is(err, domain.ErrUnauthenticated):
		return "authorization_violation"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotDeployed),
		errors.Is(err, domain.ErrAlreadyDeployed), errors.Is(err, domain.ErrIdempotencyConflict):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) getIdempotent(ctx context.Context, key, requestHash string) (CommitResult, bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return CommitResult{}, false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return CommitResult{}, false, err
	}
	if rec.RequestHash != requestHash {
		return CommitResult{}, false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return CommitResult{}, false, domain.ErrIdempotencyConflict
	}
	var out CommitResult
	if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
		return CommitResult{}, false, err
	}
	return out, true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	err := s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
	if errors.Is(err, domain.ErrConflict) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return
	}
	_ = s.idempotency.Release(ctx, key)
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, payload any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	b, _ := json.Marshal(payload)
	return s.idempotency.Complete(ctx, key, code, b, s.nowFn())
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
