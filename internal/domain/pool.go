package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Phase uint8

const (
	PhaseBidding Phase = iota
	PhaseCollecting
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseBidding:
		return "BIDDING"
	case PhaseCollecting:
		return "COLLECTING"
	case PhaseSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

func ParsePhase(raw string) (Phase, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BIDDING", "0":
		return PhaseBidding, nil
	case "COLLECTING", "1":
		return PhaseCollecting, nil
	case "SETTLED", "2":
		return PhaseSettled, nil
	default:
		return 0, fmt.Errorf("%w: unknown phase %q", ErrInvalidInput, raw)
	}
}

const MaxBasisPoints = 10000

// PenaltyPolicy fixes how penalizeViolations treats members that did not pay
// in a collecting phase.
type PenaltyPolicy struct {
	// LateThreshold is the number of missed payments after which a member is
	// marked defaulted.
	LateThreshold int
	// ForfeitBps is the share of the remaining deposit forfeited per missed
	// payment, in basis points.
	ForfeitBps int
}

type Params struct {
	MaxMembers         int
	ContributionAmount *big.Int
	MinDeposit         *big.Int
	TotalPeriods       int
	Penalty            PenaltyPolicy
}

func (p Params) Validate() error {
	switch {
	case p.MaxMembers < 1:
		return fmt.Errorf("%w: max members must be positive", ErrInvalidParams)
	case p.ContributionAmount == nil || p.ContributionAmount.Sign() <= 0:
		return fmt.Errorf("%w: contribution amount must be positive", ErrInvalidParams)
	case p.MinDeposit == nil || p.MinDeposit.Sign() <= 0:
		return fmt.Errorf("%w: minimum deposit must be positive", ErrInvalidParams)
	case p.TotalPeriods < 1 || p.TotalPeriods > p.MaxMembers:
		return fmt.Errorf("%w: total periods must be between 1 and max members", ErrInvalidParams)
	case p.Penalty.LateThreshold < 1:
		return fmt.Errorf("%w: late threshold must be positive", ErrInvalidParams)
	case p.Penalty.ForfeitBps < 0 || p.Penalty.ForfeitBps > MaxBasisPoints:
		return fmt.Errorf("%w: forfeit bps must be within [0, %d]", ErrInvalidParams, MaxBasisPoints)
	}
	return nil
}

type Pool struct {
	Owner              common.Address
	MaxMembers         int
	ContributionAmount *big.Int
	MinDeposit         *big.Int
	TotalPeriods       int
	CurrentPeriod      int
	Phase              Phase
	Ended              bool
	Receiver           common.Address
	WinningBid         *big.Int
	PeriodTotal        *big.Int
	BidCounter         uint64
	Penalty            PenaltyPolicy
	DeployedAt         time.Time
	UpdatedAt          time.Time
}

func (p Pool) Clone() Pool {
	out := p
	out.ContributionAmount = cloneAmount(p.ContributionAmount)
	out.MinDeposit = cloneAmount(p.MinDeposit)
	out.WinningBid = cloneAmount(p.WinningBid)
	out.PeriodTotal = cloneAmount(p.PeriodTotal)
	return out
}

func (p Pool) HasReceiver() bool { return p.Receiver != (common.Address{}) }

// AmountDue is what every non-receiver owes in the current period: the fixed
// contribution minus the winning bid.
func (p Pool) AmountDue() *big.Int {
	return new(big.Int).Sub(amountOrZero(p.ContributionAmount), amountOrZero(p.WinningBid))
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
