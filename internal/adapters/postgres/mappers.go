package postgres

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/viralforge/hui-ledger/internal/domain"
	"gorm.io/gorm"
)

func toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func fromDecimal(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func parseAddress(raw string) common.Address {
	if raw == "" {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func toPoolModel(p domain.Pool) poolModel {
	return poolModel{
		PoolID:          poolRowID,
		Owner:           p.Owner.Hex(),
		MaxMembers:      p.MaxMembers,
		ContributionWei: toDecimal(p.ContributionAmount),
		MinDepositWei:   toDecimal(p.MinDeposit),
		TotalPeriods:    p.TotalPeriods,
		CurrentPeriod:   p.CurrentPeriod,
		Phase:           int16(p.Phase),
		Ended:           p.Ended,
		Receiver:        addressString(p.Receiver),
		WinningBidWei:   toDecimal(p.WinningBid),
		PeriodTotalWei:  toDecimal(p.PeriodTotal),
		BidCounter:      int64(p.BidCounter),
		LateThreshold:   p.Penalty.LateThreshold,
		ForfeitBps:      p.Penalty.ForfeitBps,
		DeployedAt:      p.DeployedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromPoolModel(m poolModel) domain.Pool {
	return domain.Pool{
		Owner:              parseAddress(m.Owner),
		MaxMembers:         m.MaxMembers,
		ContributionAmount: fromDecimal(m.ContributionWei),
		MinDeposit:         fromDecimal(m.MinDepositWei),
		TotalPeriods:       m.TotalPeriods,
		CurrentPeriod:      m.CurrentPeriod,
		Phase:              domain.Phase(m.Phase),
		Ended:              m.Ended,
		Receiver:           parseAddress(m.Receiver),
		WinningBid:         fromDecimal(m.WinningBidWei),
		PeriodTotal:        fromDecimal(m.PeriodTotalWei),
		BidCounter:         uint64(m.BidCounter),
		Penalty:            domain.PenaltyPolicy{LateThreshold: m.LateThreshold, ForfeitBps: m.ForfeitBps},
		DeployedAt:         m.DeployedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

func toMemberModel(m domain.Member) memberModel {
	return memberModel{
		Address:      m.Address.Hex(),
		DepositWei:   toDecimal(m.Deposit),
		LateCount:    m.LateCount,
		Drawn:        m.Drawn,
		BidWei:       toDecimal(m.Bid),
		BidSeq:       int64(m.BidSeq),
		Paid:         m.Paid,
		Penalized:    m.Penalized,
		Defaulted:    m.Defaulted,
		Refunded:     m.Refunded,
		ForfeitedWei: toDecimal(m.Forfeited),
		ReceivedWei:  toDecimal(m.Received),
		JoinIndex:    m.JoinIndex,
		JoinedAt:     m.JoinedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fromMemberModel(m memberModel) domain.Member {
	return domain.Member{
		Address:   parseAddress(m.Address),
		Deposit:   fromDecimal(m.DepositWei),
		LateCount: m.LateCount,
		Drawn:     m.Drawn,
		Bid:       fromDecimal(m.BidWei),
		BidSeq:    uint64(m.BidSeq),
		Paid:      m.Paid,
		Penalized: m.Penalized,
		Defaulted: m.Defaulted,
		Refunded:  m.Refunded,
		Forfeited: fromDecimal(m.ForfeitedWei),
		Received:  fromDecimal(m.ReceivedWei),
		JoinIndex: m.JoinIndex,
		JoinedAt:  m.JoinedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toEventModel(ev domain.Event) eventModel {
	return eventModel{
		Seq:        int64(ev.Seq),
		TxSeq:      int64(ev.TxSeq),
		EventType:  ev.Type,
		Period:     ev.Period,
		Actor:      addressString(ev.Actor),
		Member:     addressString(ev.Member),
		AmountWei:  toDecimal(ev.Amount),
		OccurredAt: ev.OccurredAt,
		PrevHash:   ev.PrevHash.Hex(),
		Hash:       ev.Hash.Hex(),
	}
}

func fromEventModel(m eventModel) domain.Event {
	return domain.Event{
		Seq:        uint64(m.Seq),
		TxSeq:      uint64(m.TxSeq),
		Type:       m.EventType,
		Period:     m.Period,
		Actor:      parseAddress(m.Actor),
		Member:     parseAddress(m.Member),
		Amount:     fromDecimal(m.AmountWei),
		OccurredAt: m.OccurredAt.UTC(),
		PrevHash:   common.HexToHash(m.PrevHash),
		Hash:       common.HexToHash(m.Hash),
	}
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
