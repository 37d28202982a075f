package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
)

const (
	EventPoolDeployed       = "pool.deployed"
	EventMemberJoined       = "member.joined"
	EventBidPlaced          = "bid.placed"
	EventWinnerSelected     = "winner.selected"
	EventContributionPaid   = "contribution.paid"
	EventViolationPenalized = "violation.penalized"
	EventMemberDefaulted    = "member.defaulted"
	EventPeriodSettled      = "period.settled"
	EventPoolEnded          = "pool.ended"
	EventDepositReturned    = "deposit.returned"
)

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventPoolDeployed, EventMemberJoined, EventBidPlaced, EventWinnerSelected,
		EventContributionPaid, EventViolationPenalized, EventMemberDefaulted,
		EventPeriodSettled, EventPoolEnded, EventDepositReturned:
		return true
	default:
		return false
	}
}

// CanonicalEventClass separates events that move money or change phase from
// purely informational ones.
func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventBidPlaced, EventMemberJoined:
		return CanonicalEventClassAnalyticsOnly
	case EventPoolDeployed, EventWinnerSelected, EventContributionPaid, EventViolationPenalized,
		EventMemberDefaulted, EventPeriodSettled, EventPoolEnded, EventDepositReturned:
		return CanonicalEventClassDomain
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.pool"
	}
	return ""
}

// Event is one durable record in the ledger history. Seq is the global commit
// order; TxSeq groups the events produced by one operation.
type Event struct {
	Seq        uint64
	TxSeq      uint64
	Type       string
	Period     int
	Actor      common.Address
	Member     common.Address
	Amount     *big.Int
	OccurredAt time.Time
	PrevHash   common.Hash
	Hash       common.Hash
}

func (e Event) Clone() Event {
	out := e
	out.Amount = cloneAmount(e.Amount)
	return out
}

type eventDigest struct {
	Seq        uint64 `json:"seq"`
	TxSeq      uint64 `json:"tx_seq"`
	Type       string `json:"type"`
	Period     int    `json:"period"`
	Actor      string `json:"actor"`
	Member     string `json:"member"`
	Amount     string `json:"amount"`
	OccurredAt int64  `json:"occurred_at_us"`
}

// ComputeHash returns keccak256(prev_hash || canonical_json(event)).
func (e Event) ComputeHash() common.Hash {
	raw, _ := json.Marshal(eventDigest{
		Seq:        e.Seq,
		TxSeq:      e.TxSeq,
		Type:       e.Type,
		Period:     e.Period,
		Actor:      e.Actor.Hex(),
		Member:     e.Member.Hex(),
		Amount:     amountOrZero(e.Amount).String(),
		OccurredAt: e.OccurredAt.UTC().UnixMicro(),
	})
	h := sha3.NewLegacyKeccak256()
	h.Write(e.PrevHash.Bytes())
	h.Write(raw)
	return common.BytesToHash(h.Sum(nil))
}

// ChainHead is the tip of the committed history.
type ChainHead struct {
	Seq   uint64
	TxSeq uint64
	Hash  common.Hash
}

// Seal assigns sequence numbers and hashes to freshly produced events,
// linking them after head. It returns the new head.
func Seal(head ChainHead, events []Event, at time.Time) ([]Event, ChainHead) {
	if len(events) == 0 {
		return nil, head
	}
	txSeq := head.TxSeq + 1
	prev := head.Hash
	seq := head.Seq
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		seq++
		ev = ev.Clone()
		ev.Seq = seq
		ev.TxSeq = txSeq
		ev.OccurredAt = at
		ev.PrevHash = prev
		ev.Hash = ev.ComputeHash()
		prev = ev.Hash
		out = append(out, ev)
	}
	return out, ChainHead{Seq: seq, TxSeq: txSeq, Hash: prev}
}
