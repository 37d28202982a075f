package domain_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/viralforge/hui-ledger/internal/domain"
)

var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
})

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bob   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	carol = common.HexToAddress("0x000000000000000000000000000000000000000c")
	dave  = common.HexToAddress("0x000000000000000000000000000000000000000d")
	now   = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func ether(whole, tenths int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(whole*10+tenths), big.NewInt(100000000000000000))
	return out
}

func newLedger(t *testing.T, maxMembers, periods int) *domain.Ledger {
	t.Helper()
	l, events, err := domain.Deploy(owner, domain.Params{
		MaxMembers:         maxMembers,
		ContributionAmount: ether(3, 0),
		MinDeposit:         ether(1, 0),
		TotalPeriods:       periods,
		Penalty:            domain.PenaltyPolicy{LateThreshold: 2, ForfeitBps: 5000},
	}, now)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventPoolDeployed {
		t.Fatalf("unexpected deploy events: %+v", events)
	}
	return l
}

func mustJoin(t *testing.T, l *domain.Ledger, who ...common.Address) {
	t.Helper()
	for _, addr := range who {
		if _, err := l.Join(addr, ether(1, 0), now); err != nil {
			t.Fatalf("Join(%s): %v", addr.Hex(), err)
		}
	}
}

func TestPeriodScenarioLargestDiscountWins(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob, carol)
	if l.Pool.Phase != domain.PhaseBidding {
		t.Fatalf("expected BIDDING, got %s", l.Pool.Phase)
	}
	if _, err := l.Bid(bob, ether(0, 5), now); err != nil {
		t.Fatalf("Bid bob: %v", err)
	}
	if _, err := l.Bid(alice, ether(0, 3), now); err != nil {
		t.Fatalf("Bid alice: %v", err)
	}
	events, err := l.SelectWinner(owner, now)
	if err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if l.Pool.Receiver != bob || l.Pool.Phase != domain.PhaseCollecting {
		t.Fatalf("expected bob receiving in COLLECTING, got %s in %s", l.Pool.Receiver.Hex(), l.Pool.Phase)
	}
	if events[0].Member != bob || events[0].Amount.Cmp(ether(0, 5)) != 0 {
		t.Fatalf("unexpected winner event: %+v", events[0])
	}
	if due := l.Pool.AmountDue(); due.Cmp(ether(2, 5)) != 0 {
		t.Fatalf("amount due = %s, want 2.5 ether", due)
	}
	for _, payer := range []common.Address{alice, carol} {
		if _, err := l.Pay(payer, ether(2, 5), now); err != nil {
			t.Fatalf("Pay(%s): %v", payer.Hex(), err)
		}
	}
	events, err = l.SettlePeriod(owner, now)
	if err != nil {
		t.Fatalf("SettlePeriod: %v", err)
	}
	if events[0].Type != domain.EventPeriodSettled || events[0].Amount.Cmp(ether(5, 0)) != 0 {
		t.Fatalf("unexpected payout event: %+v", events[0])
	}
	b, _ := l.Member(bob)
	if !b.Drawn || b.Received.Cmp(ether(5, 0)) != 0 {
		t.Fatalf("bob should be drawn with 5 ether received, got %+v", b)
	}
	if l.Pool.Phase != domain.PhaseBidding || l.Pool.CurrentPeriod != 2 {
		t.Fatalf("expected period 2 BIDDING, got %d %s", l.Pool.CurrentPeriod, l.Pool.Phase)
	}
	for _, m := range l.Members() {
		if m.HasBid() || m.Paid {
			t.Fatalf("per-period fields not cleared for %s", m.Address.Hex())
		}
	}
}

func TestJoinPreconditions(t *testing.T) {
	l := newLedger(t, 2, 2)
	if _, err := l.Join(alice, ether(0, 9), now); !errors.Is(err, domain.ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if !errors.Is(domain.ErrInsufficientDeposit, domain.ErrInsufficientFunds) {
		t.Fatalf("deposit error must be classified as insufficient funds")
	}
	mustJoin(t, l, alice)
	if _, err := l.Join(alice, ether(1, 0), now); !errors.Is(err, domain.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	mustJoin(t, l, bob)
	if _, err := l.Join(carol, ether(2, 0), now); !errors.Is(err, domain.ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	if _, err := l.Join(common.Address{}, ether(2, 0), now); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if len(l.Members()) != 2 {
		t.Fatalf("rejected joins must not create members")
	}
}

func TestBidValidation(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice)
	cases := []struct {
		name   string
		caller common.Address
		amount *big.Int
		want   error
	}{
		{"non member", bob, ether(0, 5), domain.ErrNotMember},
		{"zero", alice, new(big.Int), domain.ErrInvalidBidAmount},
		{"equal to contribution", alice, ether(3, 0), domain.ErrInvalidBidAmount},
		{"above contribution", alice, ether(4, 0), domain.ErrInvalidBidAmount},
	}
	for _, tc := range cases {
		if _, err := l.Bid(tc.caller, tc.amount, now); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := l.Bid(alice, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.Bid(alice, ether(1, 0), now); !errors.Is(err, domain.ErrInvalidBidAmount) {
		t.Fatalf("re-bid at same amount must fail, got %v", err)
	}
	if _, err := l.Bid(alice, ether(1, 5), now); err != nil {
		t.Fatalf("raising a bid should succeed: %v", err)
	}
}

func TestBidOnlyWhileBidding(t *testing.T) {
	l := newLedger(t, 2, 2)
	mustJoin(t, l, alice, bob)
	if _, err := l.Bid(alice, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := l.Bid(bob, ether(1, 0), now); !errors.Is(err, domain.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestSelectWinnerTieGoesToFirstBidder(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob, carol)
	for _, who := range []common.Address{carol, alice} {
		if _, err := l.Bid(who, ether(0, 7), now); err != nil {
			t.Fatalf("Bid: %v", err)
		}
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if l.Pool.Receiver != carol {
		t.Fatalf("tie should go to first bidder carol, got %s", l.Pool.Receiver.Hex())
	}
}

func TestSelectWinnerTieAfterRaiseUsesLatestBidOrder(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob)
	steps := []struct {
		who    common.Address
		amount *big.Int
	}{{alice, ether(0, 5)}, {bob, ether(0, 7)}, {alice, ether(0, 7)}}
	for _, s := range steps {
		if _, err := l.Bid(s.who, s.amount, now); err != nil {
			t.Fatalf("Bid: %v", err)
		}
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if l.Pool.Receiver != bob {
		t.Fatalf("bob reached 0.7 first, got %s", l.Pool.Receiver.Hex())
	}
}

func TestSelectWinnerRequiresOwnerAndBids(t *testing.T) {
	l := newLedger(t, 2, 2)
	mustJoin(t, l, alice)
	if _, err := l.SelectWinner(alice, now); !errors.Is(err, domain.ErrAuthorizationViolation) {
		t.Fatalf("expected authorization violation, got %v", err)
	}
	if _, err := l.SelectWinner(owner, now); !errors.Is(err, domain.ErrNoBidsPlaced) {
		t.Fatalf("expected ErrNoBidsPlaced, got %v", err)
	}
	if l.Pool.Phase != domain.PhaseBidding {
		t.Fatalf("failed selection must not change phase")
	}
}

func TestPayPreconditions(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob)
	if _, err := l.Pay(alice, ether(3, 0), now); !errors.Is(err, domain.ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
	if _, err := l.Bid(bob, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := l.Pay(bob, ether(2, 0), now); !errors.Is(err, domain.ErrIsReceiver) {
		t.Fatalf("expected ErrIsReceiver, got %v", err)
	}
	if _, err := l.Pay(carol, ether(2, 0), now); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := l.Pay(alice, ether(3, 0), now); !errors.Is(err, domain.ErrWrongAmount) {
		t.Fatalf("expected ErrWrongAmount, got %v", err)
	}
	if _, err := l.Pay(alice, ether(2, 0), now); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if _, err := l.Pay(alice, ether(2, 0), now); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if l.Pool.PeriodTotal.Cmp(ether(2, 0)) != 0 {
		t.Fatalf("period total = %s, want 2 ether", l.Pool.PeriodTotal)
	}
}

func TestSettleBlocksOnIncompleteCollection(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob, carol)
	if _, err := l.Bid(alice, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := l.Pay(bob, ether(2, 0), now); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	before := l.Clone()
	if _, err := l.SettlePeriod(owner, now); !errors.Is(err, domain.ErrIncompleteCollection) {
		t.Fatalf("expected ErrIncompleteCollection, got %v", err)
	}
	if l.Pool.Phase != before.Pool.Phase || l.Pool.CurrentPeriod != before.Pool.CurrentPeriod {
		t.Fatalf("failed settlement must not change state")
	}
}

func TestPenalizeForfeitsAndUnblocksSettlement(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob, carol)
	if _, err := l.Bid(alice, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.PenalizeViolations(owner, now); !errors.Is(err, domain.ErrWrongPhase) {
		t.Fatalf("penalize outside COLLECTING must fail, got %v", err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := l.Pay(bob, ether(2, 0), now); err != nil {
		t.Fatalf("Pay: %v", err)
	}
	events, err := l.PenalizeViolations(owner, now)
	if err != nil {
		t.Fatalf("PenalizeViolations: %v", err)
	}
	if len(events) != 1 || events[0].Member != carol || events[0].Amount.Cmp(ether(0, 5)) != 0 {
		t.Fatalf("expected carol to forfeit 0.5 ether, got %+v", events)
	}
	if l.Pool.Phase != domain.PhaseCollecting {
		t.Fatalf("penalize must not change phase")
	}
	again, err := l.PenalizeViolations(owner, now)
	if err != nil || len(again) != 0 {
		t.Fatalf("second penalize in the same period should be a no-op, got %v %+v", err, again)
	}
	c, _ := l.Member(carol)
	if c.LateCount != 1 || c.Defaulted || c.Deposit.Cmp(ether(0, 5)) != 0 {
		t.Fatalf("unexpected carol state: %+v", c)
	}
	if _, err := l.SettlePeriod(owner, now); err != nil {
		t.Fatalf("SettlePeriod: %v", err)
	}
	a, _ := l.Member(alice)
	if a.Received.Cmp(ether(2, 5)) != 0 {
		t.Fatalf("alice should receive 2 + 0.5 forfeited, got %s", a.Received)
	}
}

// runLatePeriod runs one period won by winner in which carol never pays.
func runLatePeriod(t *testing.T, l *domain.Ledger, winner common.Address) []domain.Event {
	t.Helper()
	if _, err := l.Bid(winner, ether(1, 0), now); err != nil {
		t.Fatalf("period %d Bid: %v", l.Pool.CurrentPeriod, err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("period %d SelectWinner: %v", l.Pool.CurrentPeriod, err)
	}
	for _, m := range l.Members() {
		if m.Address != winner && m.Address != carol {
			if _, err := l.Pay(m.Address, l.Pool.AmountDue(), now); err != nil {
				t.Fatalf("period %d Pay: %v", l.Pool.CurrentPeriod, err)
			}
		}
	}
	if _, err := l.PenalizeViolations(owner, now); err != nil {
		t.Fatalf("period %d Penalize: %v", l.Pool.CurrentPeriod, err)
	}
	events, err := l.SettlePeriod(owner, now)
	if err != nil {
		t.Fatalf("period %d Settle: %v", l.Pool.CurrentPeriod, err)
	}
	return events
}

func TestRepeatedViolationsDefaultMember(t *testing.T) {
	l := newLedger(t, 4, 4)
	mustJoin(t, l, alice, bob, carol, dave)
	runLatePeriod(t, l, alice)
	runLatePeriod(t, l, bob)
	c, _ := l.Member(carol)
	if !c.Defaulted || c.LateCount != 2 {
		t.Fatalf("carol should be defaulted after 2 violations: %+v", c)
	}
	if _, err := l.Bid(carol, ether(1, 0), now); !errors.Is(err, domain.ErrMemberDefaulted) {
		t.Fatalf("defaulted member must not bid, got %v", err)
	}
}

func TestNoMemberWinsTwiceAndPoolEnds(t *testing.T) {
	l := newLedger(t, 2, 2)
	mustJoin(t, l, alice, bob)
	runPeriod := func(winner, payer common.Address) {
		t.Helper()
		if _, err := l.Bid(winner, ether(0, 1), now); err != nil {
			t.Fatalf("Bid: %v", err)
		}
		if _, err := l.SelectWinner(owner, now); err != nil {
			t.Fatalf("SelectWinner: %v", err)
		}
		if _, err := l.Pay(payer, l.Pool.AmountDue(), now); err != nil {
			t.Fatalf("Pay: %v", err)
		}
		if _, err := l.SettlePeriod(owner, now); err != nil {
			t.Fatalf("SettlePeriod: %v", err)
		}
	}
	runPeriod(alice, bob)
	if _, err := l.Bid(alice, ether(0, 2), now); !errors.Is(err, domain.ErrAlreadyWon) {
		t.Fatalf("expected ErrAlreadyWon, got %v", err)
	}
	if _, err := l.ReturnDeposits(owner, now); !errors.Is(err, domain.ErrPoolNotEnded) {
		t.Fatalf("expected ErrPoolNotEnded, got %v", err)
	}
	runPeriod(bob, alice)
	if !l.Pool.Ended || l.Pool.Phase != domain.PhaseSettled || l.Pool.CurrentPeriod != 2 {
		t.Fatalf("pool should be ended in SETTLED at period 2, got %+v", l.Pool)
	}
	if _, err := l.Bid(alice, ether(0, 1), now); !errors.Is(err, domain.ErrWrongPhase) {
		t.Fatalf("no bidding after the pool ended, got %v", err)
	}
	if _, err := l.Join(carol, ether(1, 0), now); !errors.Is(err, domain.ErrPoolEnded) {
		t.Fatalf("no joining after the pool ended, got %v", err)
	}
}

func TestPoolEndsWhenDefaultLeavesNobodyToWin(t *testing.T) {
	l := newLedger(t, 4, 4)
	mustJoin(t, l, alice, bob, carol, dave)
	runLatePeriod(t, l, alice)
	runLatePeriod(t, l, bob)
	events := runLatePeriod(t, l, dave)

	if last := events[len(events)-1]; last.Type != domain.EventPoolEnded {
		t.Fatalf("settlement should end the pool, last event %s", last.Type)
	}
	if !l.Pool.Ended || l.Pool.Phase != domain.PhaseSettled || l.Pool.CurrentPeriod != 3 {
		t.Fatalf("pool should end in SETTLED at period 3 of 4, got %+v", l.Pool)
	}
	refunds, err := l.ReturnDeposits(owner, now)
	if err != nil || len(refunds) != 4 {
		t.Fatalf("ReturnDeposits: %d events, %v", len(refunds), err)
	}
}

func TestOwnerEndsPoolWithFewerMembersThanPeriods(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob)
	for _, winner := range []common.Address{alice, bob} {
		other := bob
		if winner == bob {
			other = alice
		}
		if _, err := l.Bid(winner, ether(0, 1), now); err != nil {
			t.Fatalf("Bid: %v", err)
		}
		if _, err := l.SelectWinner(owner, now); err != nil {
			t.Fatalf("SelectWinner: %v", err)
		}
		if _, err := l.Pay(other, l.Pool.AmountDue(), now); err != nil {
			t.Fatalf("Pay: %v", err)
		}
		if _, err := l.SettlePeriod(owner, now); err != nil {
			t.Fatalf("SettlePeriod: %v", err)
		}
	}
	// The pool is not full, so period 3 stays open for a late joiner.
	if l.Pool.Ended || l.Pool.Phase != domain.PhaseBidding || l.Pool.CurrentPeriod != 3 {
		t.Fatalf("pool should wait in BIDDING at period 3, got %+v", l.Pool)
	}
	if _, err := l.Bid(alice, ether(0, 1), now); !errors.Is(err, domain.ErrAlreadyWon) {
		t.Fatalf("expected ErrAlreadyWon, got %v", err)
	}

	events, err := l.SelectWinner(owner, now)
	if err != nil {
		t.Fatalf("SelectWinner with nobody eligible: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventPoolEnded {
		t.Fatalf("expected pool.ended, got %+v", events)
	}
	if !l.Pool.Ended || l.Pool.Phase != domain.PhaseSettled || l.Pool.HasReceiver() {
		t.Fatalf("pool should be ended without a receiver, got %+v", l.Pool)
	}
	refunds, err := l.ReturnDeposits(owner, now)
	if err != nil || len(refunds) != 2 {
		t.Fatalf("ReturnDeposits: %d events, %v", len(refunds), err)
	}
}

func TestSelectWinnerOnEmptyPoolKeepsWaiting(t *testing.T) {
	l := newLedger(t, 2, 2)
	if _, err := l.SelectWinner(owner, now); !errors.Is(err, domain.ErrNoBidsPlaced) {
		t.Fatalf("expected ErrNoBidsPlaced, got %v", err)
	}
	if l.Pool.Ended {
		t.Fatalf("an empty pool must not end")
	}
}

func TestReturnDepositsIsIdempotent(t *testing.T) {
	l := newLedger(t, 1, 1)
	mustJoin(t, l, alice)
	if _, err := l.Bid(alice, ether(0, 1), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := l.SelectWinner(owner, now); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := l.SettlePeriod(owner, now); err != nil {
		t.Fatalf("SettlePeriod: %v", err)
	}
	if _, err := l.ReturnDeposits(alice, now); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	first, err := l.ReturnDeposits(owner, now)
	if err != nil {
		t.Fatalf("ReturnDeposits: %v", err)
	}
	if len(first) != 1 || first[0].Amount.Cmp(ether(1, 0)) != 0 {
		t.Fatalf("expected one 1 ether refund, got %+v", first)
	}
	second, err := l.ReturnDeposits(owner, now)
	if err != nil {
		t.Fatalf("second ReturnDeposits: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second call must not refund again, got %+v", second)
	}
}

func TestDeployValidatesParams(t *testing.T) {
	base := domain.Params{MaxMembers: 3, ContributionAmount: ether(3, 0), MinDeposit: ether(1, 0), TotalPeriods: 3, Penalty: domain.PenaltyPolicy{LateThreshold: 1}}
	broken := []func(p *domain.Params){
		func(p *domain.Params) { p.MaxMembers = 0 },
		func(p *domain.Params) { p.ContributionAmount = nil },
		func(p *domain.Params) { p.MinDeposit = new(big.Int) },
		func(p *domain.Params) { p.TotalPeriods = 4 },
		func(p *domain.Params) { p.Penalty.LateThreshold = 0 },
		func(p *domain.Params) { p.Penalty.ForfeitBps = 10001 },
	}
	for i, mutate := range broken {
		p := base
		mutate(&p)
		if _, _, err := domain.Deploy(owner, p, now); !errors.Is(err, domain.ErrInvalidParams) {
			t.Fatalf("case %d: expected ErrInvalidParams, got %v", i, err)
		}
	}
	if _, _, err := domain.Deploy(common.Address{}, base, now); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestSealChainsEvents(t *testing.T) {
	l := newLedger(t, 2, 2)
	evs, err := l.Join(alice, ether(1, 0), now)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	more, _ := l.Join(bob, ether(1, 0), now)
	sealed, head := domain.Seal(domain.ChainHead{Seq: 1, TxSeq: 1}, append(evs, more...), now)
	if head.Seq != 3 || head.TxSeq != 2 {
		t.Fatalf("unexpected head %+v", head)
	}
	if sealed[0].PrevHash != (common.Hash{}) || sealed[1].PrevHash != sealed[0].Hash {
		t.Fatalf("events not linked")
	}
	if sealed[1].ComputeHash() != sealed[1].Hash || head.Hash != sealed[1].Hash {
		t.Fatalf("hash mismatch")
	}
	tampered := sealed[1]
	tampered.Amount = ether(9, 0)
	if tampered.ComputeHash() == sealed[1].Hash {
		t.Fatalf("tampering must change the hash")
	}
	if empty, same := domain.Seal(head, nil, now); empty != nil || same != head {
		t.Fatalf("sealing nothing must keep the head")
	}
}

func TestRejectedOperationsLeaveStateUntouched(t *testing.T) {
	l := newLedger(t, 3, 3)
	mustJoin(t, l, alice, bob)
	if _, err := l.Bid(alice, ether(1, 0), now); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	later := now.Add(time.Hour)
	rejected := []func() error{
		func() error { _, err := l.Join(alice, ether(5, 0), later); return err },
		func() error { _, err := l.Bid(bob, ether(3, 0), later); return err },
		func() error { _, err := l.Bid(alice, ether(0, 5), later); return err },
		func() error { _, err := l.Pay(bob, ether(2, 0), later); return err },
		func() error { _, err := l.SelectWinner(bob, later); return err },
		func() error { _, err := l.SettlePeriod(owner, later); return err },
		func() error { _, err := l.PenalizeViolations(owner, later); return err },
		func() error { _, err := l.ReturnDeposits(owner, later); return err },
	}
	for i, op := range rejected {
		pool, members := l.Pool.Clone(), l.Members()
		if err := op(); err == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
		if diff := cmp.Diff(pool, l.Pool, bigIntComparer); diff != "" {
			t.Fatalf("case %d: pool changed (-before +after):\n%s", i, diff)
		}
		if diff := cmp.Diff(members, l.Members(), bigIntComparer); diff != "" {
			t.Fatalf("case %d: members changed (-before +after):\n%s", i, diff)
		}
	}
}
