package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Member struct {
	Address   common.Address
	Deposit   *big.Int
	LateCount int
	Drawn     bool
	Bid       *big.Int
	BidSeq    uint64
	Paid      bool
	Penalized bool
	Defaulted bool
	Refunded  bool
	Forfeited *big.Int
	Received  *big.Int
	JoinIndex int
	JoinedAt  time.Time
	UpdatedAt time.Time
}

func (m Member) Clone() Member {
	out := m
	out.Deposit = cloneAmount(m.Deposit)
	out.Bid = cloneAmount(m.Bid)
	out.Forfeited = cloneAmount(m.Forfeited)
	out.Received = cloneAmount(m.Received)
	return out
}

func (m Member) HasBid() bool { return m.Bid != nil && m.Bid.Sign() > 0 }

// CanBid reports whether the member is still eligible to receive a payout.
func (m Member) CanBid() bool { return !m.Drawn && !m.Defaulted }

func (m *Member) clearPeriod() {
	m.Bid = new(big.Int)
	m.BidSeq = 0
	m.Paid = false
	m.Penalized = false
}
