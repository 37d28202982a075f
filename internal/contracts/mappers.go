package contracts

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/units"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func addressOrEmpty(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func NewPoolResponse(pool domain.Pool, memberCount int) PoolResponse {
	out := PoolResponse{
		Owner:                 pool.Owner.Hex(),
		MaxMembers:            pool.MaxMembers,
		MemberCount:           memberCount,
		ContributionAmount:    units.FormatEther(pool.ContributionAmount),
		ContributionAmountWei: weiString(pool.ContributionAmount),
		MinDeposit:            units.FormatEther(pool.MinDeposit),
		MinDepositWei:         weiString(pool.MinDeposit),
		TotalPeriods:          pool.TotalPeriods,
		CurrentPeriod:         pool.CurrentPeriod,
		Phase:                 pool.Phase.String(),
		PhaseCode:             uint8(pool.Phase),
		Ended:                 pool.Ended,
		Receiver:              addressOrEmpty(pool.Receiver),
		WinningBid:            units.FormatEther(pool.WinningBid),
		WinningBidWei:         weiString(pool.WinningBid),
		PeriodTotal:           units.FormatEther(pool.PeriodTotal),
		PeriodTotalWei:        weiString(pool.PeriodTotal),
		Penalty: PenaltyPolicyResponse{
			LateThreshold: pool.Penalty.LateThreshold,
			ForfeitBps:    pool.Penalty.ForfeitBps,
		},
		DeployedAt: formatTime(pool.DeployedAt),
		UpdatedAt:  formatTime(pool.UpdatedAt),
	}
	if pool.Phase == domain.PhaseCollecting {
		due := pool.AmountDue()
		out.AmountDue = units.FormatEther(due)
		out.AmountDueWei = due.String()
	}
	return out
}

// NewMemberResponse includes the amount the member still owes when the pool
// is collecting and the member is neither the receiver nor already paid.
func NewMemberResponse(m domain.Member, pool domain.Pool) MemberResponse {
	out := MemberResponse{
		Address:     m.Address.Hex(),
		Deposit:     units.FormatEther(m.Deposit),
		DepositWei:  weiString(m.Deposit),
		LateCount:   m.LateCount,
		Drawn:       m.Drawn,
		Bid:         units.FormatEther(m.Bid),
		BidWei:      weiString(m.Bid),
		Paid:        m.Paid,
		Penalized:   m.Penalized,
		Defaulted:   m.Defaulted,
		Refunded:    m.Refunded,
		Forfeited:   units.FormatEther(m.Forfeited),
		Received:    units.FormatEther(m.Received),
		ReceivedWei: weiString(m.Received),
		JoinIndex:   m.JoinIndex,
		JoinedAt:    formatTime(m.JoinedAt),
	}
	if pool.Phase == domain.PhaseCollecting && m.Address != pool.Receiver && !m.Paid {
		due := pool.AmountDue()
		out.AmountDue = units.FormatEther(due)
		out.AmountDueWei = due.String()
	}
	return out
}

func NewEventResponse(ev domain.Event) EventResponse {
	return EventResponse{
		Seq:        ev.Seq,
		TxSeq:      ev.TxSeq,
		Type:       ev.Type,
		Period:     ev.Period,
		Actor:      ev.Actor.Hex(),
		Member:     addressOrEmpty(ev.Member),
		Amount:     units.FormatEther(ev.Amount),
		AmountWei:  weiString(ev.Amount),
		OccurredAt: formatTime(ev.OccurredAt),
		PrevHash:   ev.PrevHash.Hex(),
		Hash:       ev.Hash.Hex(),
	}
}

func NewEventResponses(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, NewEventResponse(ev))
	}
	return out
}

func NewLedgerEventPayload(owner common.Address, ev domain.Event) LedgerEventPayload {
	return LedgerEventPayload{
		Pool:       owner.Hex(),
		Seq:        ev.Seq,
		TxSeq:      ev.TxSeq,
		Period:     ev.Period,
		Actor:      ev.Actor.Hex(),
		Member:     addressOrEmpty(ev.Member),
		Amount:     units.FormatEther(ev.Amount),
		AmountWei:  weiString(ev.Amount),
		Hash:       ev.Hash.Hex(),
		PrevHash:   ev.PrevHash.Hex(),
		OccurredAt: formatTime(ev.OccurredAt),
	}
}
