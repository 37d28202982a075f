package domain

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the pool state machine. Every operation validates all of its
// preconditions before touching state, so a rejected call leaves the ledger
// exactly as it was. Callers serialize access; Ledger itself is not safe for
// concurrent use.
type Ledger struct {
	Pool    Pool
	members []*Member
	byAddr  map[common.Address]*Member
}

// Deploy creates a new pool owned by owner.
func Deploy(owner common.Address, params Params, now time.Time) (*Ledger, []Event, error) {
	if owner == (common.Address{}) {
		return nil, nil, ErrInvalidAddress
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	l := &Ledger{
		Pool: Pool{
			Owner:              owner,
			MaxMembers:         params.MaxMembers,
			ContributionAmount: cloneAmount(params.ContributionAmount),
			MinDeposit:         cloneAmount(params.MinDeposit),
			TotalPeriods:       params.TotalPeriods,
			CurrentPeriod:      1,
			Phase:              PhaseBidding,
			WinningBid:         new(big.Int),
			PeriodTotal:        new(big.Int),
			Penalty:            params.Penalty,
			DeployedAt:         now,
			UpdatedAt:          now,
		},
		byAddr: map[common.Address]*Member{},
	}
	ev := Event{Type: EventPoolDeployed, Period: 1, Actor: owner, Amount: cloneAmount(params.ContributionAmount)}
	return l, []Event{ev}, nil
}

// Restore rebuilds a ledger from persisted rows. Members are ordered by
// join index regardless of input order.
func Restore(pool Pool, members []Member) *Ledger {
	l := &Ledger{Pool: pool.Clone(), byAddr: make(map[common.Address]*Member, len(members))}
	for _, m := range members {
		c := m.Clone()
		l.members = append(l.members, &c)
		l.byAddr[c.Address] = &c
	}
	sort.SliceStable(l.members, func(i, j int) bool { return l.members[i].JoinIndex < l.members[j].JoinIndex })
	return l
}

func (l *Ledger) Clone() *Ledger {
	return Restore(l.Pool, l.Members())
}

// Members returns copies of all members in join order.
func (l *Ledger) Members() []Member {
	out := make([]Member, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, m.Clone())
	}
	return out
}

func (l *Ledger) Member(addr common.Address) (Member, bool) {
	m, ok := l.byAddr[addr]
	if !ok {
		return Member{}, false
	}
	return m.Clone(), true
}

func (l *Ledger) IsOwner(addr common.Address) bool { return addr == l.Pool.Owner }

func (l *Ledger) requireOwner(caller common.Address) error {
	if !l.IsOwner(caller) {
		return ErrUnauthorized
	}
	return nil
}

func (l *Ledger) requirePhase(phase Phase) error {
	if l.Pool.Phase != phase {
		return fmt.Errorf("%w: expected %s, current %s", ErrWrongPhase, phase, l.Pool.Phase)
	}
	return nil
}

func (l *Ledger) event(eventType string, actor, member common.Address, amount *big.Int) Event {
	return Event{Type: eventType, Period: l.Pool.CurrentPeriod, Actor: actor, Member: member, Amount: cloneAmount(amount)}
}

func (l *Ledger) Join(caller common.Address, escrow *big.Int, now time.Time) ([]Event, error) {
	if caller == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if l.Pool.Ended {
		return nil, ErrPoolEnded
	}
	if _, ok := l.byAddr[caller]; ok {
		return nil, ErrAlreadyMember
	}
	if len(l.members) >= l.Pool.MaxMembers {
		return nil, ErrPoolFull
	}
	if escrow == nil || escrow.Cmp(l.Pool.MinDeposit) < 0 {
		return nil, ErrInsufficientDeposit
	}
	m := &Member{
		Address:   caller,
		Deposit:   cloneAmount(escrow),
		Bid:       new(big.Int),
		Forfeited: new(big.Int),
		Received:  new(big.Int),
		JoinIndex: len(l.members),
		JoinedAt:  now,
		UpdatedAt: now,
	}
	l.members = append(l.members, m)
	l.byAddr[caller] = m
	l.Pool.UpdatedAt = now
	return []Event{l.event(EventMemberJoined, caller, caller, escrow)}, nil
}

// Bid records a discount offer for the current period. A member may raise
// its own bid; the bid sequence is refreshed on every accepted bid.
func (l *Ledger) Bid(caller common.Address, amount *big.Int, now time.Time) ([]Event, error) {
	if err := l.requirePhase(PhaseBidding); err != nil {
		return nil, err
	}
	m, ok := l.byAddr[caller]
	if !ok {
		return nil, ErrNotMember
	}
	if m.Drawn {
		return nil, ErrAlreadyWon
	}
	if m.Defaulted {
		return nil, ErrMemberDefaulted
	}
	switch {
	case amount == nil || amount.Sign() <= 0:
		return nil, fmt.Errorf("%w: bid must be positive", ErrInvalidBidAmount)
	case amount.Cmp(l.Pool.ContributionAmount) >= 0:
		return nil, fmt.Errorf("%w: bid must be below the contribution amount", ErrInvalidBidAmount)
	case m.HasBid() && amount.Cmp(m.Bid) <= 0:
		return nil, fmt.Errorf("%w: bid must exceed the current bid", ErrInvalidBidAmount)
	}
	l.Pool.BidCounter++
	m.Bid = cloneAmount(amount)
	m.BidSeq = l.Pool.BidCounter
	m.UpdatedAt = now
	l.Pool.UpdatedAt = now
	return []Event{l.event(EventBidPlaced, caller, caller, amount)}, nil
}

// SelectWinner picks the highest bid of the period. On a tie the bid that
// was recorded first wins. When members have joined but none of them can
// still win, the pool ends instead.
func (l *Ledger) SelectWinner(caller common.Address, now time.Time) ([]Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	if err := l.requirePhase(PhaseBidding); err != nil {
		return nil, err
	}
	if len(l.members) > 0 && !l.hasEligible() {
		return []Event{l.end(caller, now)}, nil
	}
	var winner *Member
	for _, m := range l.members {
		if !m.CanBid() || !m.HasBid() {
			continue
		}
		if winner == nil {
			winner = m
			continue
		}
		switch c := m.Bid.Cmp(winner.Bid); {
		case c > 0, c == 0 && m.BidSeq < winner.BidSeq:
			winner = m
		}
	}
	if winner == nil {
		return nil, ErrNoBidsPlaced
	}
	l.Pool.Receiver = winner.Address
	l.Pool.WinningBid = cloneAmount(winner.Bid)
	l.Pool.PeriodTotal = new(big.Int)
	l.Pool.Phase = PhaseCollecting
	l.Pool.UpdatedAt = now
	return []Event{l.event(EventWinnerSelected, caller, winner.Address, winner.Bid)}, nil
}

func (l *Ledger) Pay(caller common.Address, amount *big.Int, now time.Time) ([]Event, error) {
	if err := l.requirePhase(PhaseCollecting); err != nil {
		return nil, err
	}
	m, ok := l.byAddr[caller]
	if !ok {
		return nil, ErrNotMember
	}
	if caller == l.Pool.Receiver {
		return nil, ErrIsReceiver
	}
	if m.Paid {
		return nil, ErrAlreadyPaid
	}
	due := l.Pool.AmountDue()
	if amount == nil || amount.Cmp(due) != 0 {
		return nil, fmt.Errorf("%w: expected %s wei", ErrWrongAmount, due)
	}
	m.Paid = true
	m.UpdatedAt = now
	l.Pool.PeriodTotal = new(big.Int).Add(l.Pool.PeriodTotal, amount)
	l.Pool.UpdatedAt = now
	return []Event{l.event(EventContributionPaid, caller, caller, amount)}, nil
}

// PenalizeViolations charges every non-receiver that has neither paid nor
// been penalized in this period. The forfeited escrow is credited to the
// period total.
func (l *Ledger) PenalizeViolations(caller common.Address, now time.Time) ([]Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	if err := l.requirePhase(PhaseCollecting); err != nil {
		return nil, err
	}
	var events []Event
	for _, m := range l.members {
		if m.Address == l.Pool.Receiver || m.Paid || m.Penalized {
			continue
		}
		forfeit := l.forfeitFor(m)
		m.LateCount++
		m.Penalized = true
		m.Deposit = new(big.Int).Sub(m.Deposit, forfeit)
		m.Forfeited = new(big.Int).Add(m.Forfeited, forfeit)
		m.UpdatedAt = now
		l.Pool.PeriodTotal = new(big.Int).Add(l.Pool.PeriodTotal, forfeit)
		events = append(events, l.event(EventViolationPenalized, caller, m.Address, forfeit))
		if !m.Defaulted && m.LateCount >= l.Pool.Penalty.LateThreshold {
			m.Defaulted = true
			events = append(events, l.event(EventMemberDefaulted, caller, m.Address, nil))
		}
	}
	if len(events) > 0 {
		l.Pool.UpdatedAt = now
	}
	return events, nil
}

func (l *Ledger) forfeitFor(m *Member) *big.Int {
	out := new(big.Int).Mul(m.Deposit, big.NewInt(int64(l.Pool.Penalty.ForfeitBps)))
	out.Quo(out, big.NewInt(MaxBasisPoints))
	if out.Cmp(m.Deposit) > 0 {
		out.Set(m.Deposit)
	}
	return out
}

// SettlePeriod pays the period total out to the receiver. It refuses to run
// while any non-receiver has neither paid nor been penalized.
func (l *Ledger) SettlePeriod(caller common.Address, now time.Time) ([]Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	if err := l.requirePhase(PhaseCollecting); err != nil {
		return nil, err
	}
	receiver, ok := l.byAddr[l.Pool.Receiver]
	if !ok {
		return nil, fmt.Errorf("%w: receiver %s is not a member", ErrNotMember, l.Pool.Receiver.Hex())
	}
	for _, m := range l.members {
		if m.Address != l.Pool.Receiver && !m.Paid && !m.Penalized {
			return nil, fmt.Errorf("%w: %s has not paid", ErrIncompleteCollection, m.Address.Hex())
		}
	}

	total := cloneAmount(l.Pool.PeriodTotal)
	receiver.Received = new(big.Int).Add(receiver.Received, total)
	receiver.Drawn = true
	events := []Event{l.event(EventPeriodSettled, caller, receiver.Address, total)}

	for _, m := range l.members {
		m.clearPeriod()
		m.UpdatedAt = now
	}
	l.Pool.Receiver = common.Address{}
	l.Pool.WinningBid = new(big.Int)
	l.Pool.PeriodTotal = new(big.Int)
	l.Pool.BidCounter = 0
	l.Pool.UpdatedAt = now
	// A full pool with nobody left to win cannot run another period.
	full := len(l.members) >= l.Pool.MaxMembers
	if l.Pool.CurrentPeriod >= l.Pool.TotalPeriods || (full && !l.hasEligible()) {
		return append(events, l.end(caller, now)), nil
	}
	l.Pool.CurrentPeriod++
	l.Pool.Phase = PhaseBidding
	return events, nil
}

// hasEligible reports whether any member can still bid for a payout.
func (l *Ledger) hasEligible() bool {
	for _, m := range l.members {
		if m.CanBid() {
			return true
		}
	}
	return false
}

func (l *Ledger) end(caller common.Address, now time.Time) Event {
	l.Pool.Ended = true
	l.Pool.Phase = PhaseSettled
	l.Pool.UpdatedAt = now
	return l.event(EventPoolEnded, caller, common.Address{}, nil)
}

// ReturnDeposits refunds the remaining escrow of every member not refunded
// yet. Calling it again refunds nothing.
func (l *Ledger) ReturnDeposits(caller common.Address, now time.Time) ([]Event, error) {
	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}
	if !l.Pool.Ended {
		return nil, ErrPoolNotEnded
	}
	var events []Event
	for _, m := range l.members {
		if m.Refunded {
			continue
		}
		refund := cloneAmount(m.Deposit)
		m.Deposit = new(big.Int)
		m.Refunded = true
		m.UpdatedAt = now
		events = append(events, l.event(EventDepositReturned, caller, m.Address, refund))
	}
	if len(events) > 0 {
		l.Pool.UpdatedAt = now
	}
	return events, nil
}
