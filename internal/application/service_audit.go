package application

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

type AuditReport struct {
	EventCount int
	Head       domain.ChainHead
	Problems   []string
}

func (r AuditReport) OK() bool { return len(r.Problems) == 0 }

func (r *AuditReport) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

type memberTally struct {
	deposit  *big.Int
	received *big.Int
	wins     int
}

// AuditFor runs Audit on behalf of actor, who must own the pool.
func (s *Service) AuditFor(ctx context.Context, actor Actor) (AuditReport, error) {
	if actor.Address == (common.Address{}) {
		return AuditReport{}, domain.ErrUnauthenticated
	}
	ledger, err := s.store.LoadLedger(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	if !ledger.IsOwner(actor.Address) {
		return AuditReport{}, domain.ErrUnauthorized
	}
	return s.Audit(ctx)
}

// Audit replays the whole history and checks it against the stored state.
// It returns the report together with ErrHistoryCorrupted when any check
// fails.
func (s *Service) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	var ledger *domain.Ledger
	var storedHead domain.ChainHead
	tallies := map[common.Address]*memberTally{}
	err := s.store.ReadSnapshot(ctx, func(ctx context.Context, r ports.LedgerReader) error {
		var err error
		if ledger, err = r.LoadLedger(ctx); err != nil {
			return err
		}
		if storedHead, err = r.Head(ctx); err != nil {
			return err
		}
		return s.replay(ctx, r, &report, tallies)
	})
	if err != nil {
		return AuditReport{}, err
	}

	if report.Head != storedHead {
		report.problemf("replayed head %d/%s differs from stored head %d/%s", report.Head.Seq, report.Head.Hash.Hex(), storedHead.Seq, storedHead.Hash.Hex())
	}
	report.Head = storedHead

	members := ledger.Members()
	if len(members) != len(tallies) {
		report.problemf("history records %d members, state holds %d", len(tallies), len(members))
	}
	for _, m := range members {
		t, ok := tallies[m.Address]
		if !ok {
			report.problemf("member %s has no join event", m.Address.Hex())
			continue
		}
		if t.deposit.Cmp(m.Deposit) != 0 {
			report.problemf("member %s deposit %s, history says %s", m.Address.Hex(), m.Deposit, t.deposit)
		}
		if t.received.Cmp(m.Received) != 0 {
			report.problemf("member %s received %s, history says %s", m.Address.Hex(), m.Received, t.received)
		}
		if m.Drawn != (t.wins == 1) {
			report.problemf("member %s drawn flag disagrees with payouts", m.Address.Hex())
		}
	}

	if !report.OK() {
		s.logger.ErrorContext(ctx, "ledger audit failed",
			"module", "application.audit",
			"layer", "application",
			"operation", "audit",
			"outcome", "failure",
			"problem_count", len(report.Problems),
		)
		return report, fmt.Errorf("%w: %d problems", domain.ErrHistoryCorrupted, len(report.Problems))
	}
	s.logger.InfoContext(ctx, "ledger audit passed",
		"module", "application.audit",
		"layer", "application",
		"operation", "audit",
		"outcome", "success",
		"event_count", report.EventCount,
		"head_seq", report.Head.Seq,
	)
	return report, nil
}

// replay walks the history in pages, checking the chain links and tallying
// escrow per member. report.Head ends at the replayed head.
func (s *Service) replay(ctx context.Context, r ports.LedgerReader, report *AuditReport, tallies map[common.Address]*memberTally) error {
	tally := func(addr common.Address) *memberTally {
		t, ok := tallies[addr]
		if !ok {
			t = &memberTally{deposit: new(big.Int), received: new(big.Int)}
			tallies[addr] = t
		}
		return t
	}

	var head domain.ChainHead
	cursor := uint64(0)
	for {
		page, err := r.ListEvents(ctx, ports.EventQuery{AfterSeq: cursor, Limit: s.cfg.HistoryMaxLimit})
		if err != nil {
			return err
		}
		for _, ev := range page {
			report.EventCount++
			if ev.Seq != head.Seq+1 {
				report.problemf("event seq %d follows %d", ev.Seq, head.Seq)
			}
			if ev.TxSeq != head.TxSeq && ev.TxSeq != head.TxSeq+1 {
				report.problemf("event %d has tx seq %d after %d", ev.Seq, ev.TxSeq, head.TxSeq)
			}
			if ev.PrevHash != head.Hash {
				report.problemf("event %d does not link to the previous hash", ev.Seq)
			}
			if ev.ComputeHash() != ev.Hash {
				report.problemf("event %d hash does not match its contents", ev.Seq)
			}
			head = domain.ChainHead{Seq: ev.Seq, TxSeq: ev.TxSeq, Hash: ev.Hash}

			amount := ev.Amount
			if amount == nil {
				amount = new(big.Int)
			}
			switch ev.Type {
			case domain.EventMemberJoined:
				t := tally(ev.Member)
				t.deposit.Add(t.deposit, amount)
			case domain.EventViolationPenalized, domain.EventDepositReturned:
				t := tally(ev.Member)
				t.deposit.Sub(t.deposit, amount)
			case domain.EventPeriodSettled:
				t := tally(ev.Member)
				t.received.Add(t.received, amount)
				t.wins++
				if t.wins > 1 {
					report.problemf("member %s received a payout twice (event %d)", ev.Member.Hex(), ev.Seq)
				}
			}
		}
		if len(page) < s.cfg.HistoryMaxLimit {
			break
		}
		cursor = page[len(page)-1].Seq
	}
	report.Head = head
	return nil
}
