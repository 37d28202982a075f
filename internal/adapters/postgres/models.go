package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const poolRowID = 1

type poolModel struct {
	PoolID          int16           `gorm:"column:pool_id;primaryKey"`
	Owner           string          `gorm:"column:owner"`
	MaxMembers      int             `gorm:"column:max_members"`
	ContributionWei decimal.Decimal `gorm:"column:contribution_wei;type:numeric(78,0)"`
	MinDepositWei   decimal.Decimal `gorm:"column:min_deposit_wei;type:numeric(78,0)"`
	TotalPeriods    int             `gorm:"column:total_periods"`
	CurrentPeriod   int             `gorm:"column:current_period"`
	Phase           int16           `gorm:"column:phase"`
	Ended           bool            `gorm:"column:ended"`
	Receiver        string          `gorm:"column:receiver"`
	WinningBidWei   decimal.Decimal `gorm:"column:winning_bid_wei;type:numeric(78,0)"`
	PeriodTotalWei  decimal.Decimal `gorm:"column:period_total_wei;type:numeric(78,0)"`
	BidCounter      int64           `gorm:"column:bid_counter"`
	LateThreshold   int             `gorm:"column:late_threshold"`
	ForfeitBps      int             `gorm:"column:forfeit_bps"`
	DeployedAt      time.Time       `gorm:"column:deployed_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (poolModel) TableName() string { return "hui_pool" }

type memberModel struct {
	Address      string          `gorm:"column:address;primaryKey"`
	DepositWei   decimal.Decimal `gorm:"column:deposit_wei;type:numeric(78,0)"`
	LateCount    int             `gorm:"column:late_count"`
	Drawn        bool            `gorm:"column:drawn"`
	BidWei       decimal.Decimal `gorm:"column:bid_wei;type:numeric(78,0)"`
	BidSeq       int64           `gorm:"column:bid_seq"`
	Paid         bool            `gorm:"column:paid"`
	Penalized    bool            `gorm:"column:penalized"`
	Defaulted    bool            `gorm:"column:defaulted"`
	Refunded     bool            `gorm:"column:refunded"`
	ForfeitedWei decimal.Decimal `gorm:"column:forfeited_wei;type:numeric(78,0)"`
	ReceivedWei  decimal.Decimal `gorm:"column:received_wei;type:numeric(78,0)"`
	JoinIndex    int             `gorm:"column:join_index"`
	JoinedAt     time.Time       `gorm:"column:joined_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (memberModel) TableName() string { return "hui_members" }

type eventModel struct {
	Seq        int64           `gorm:"column:seq;primaryKey;autoIncrement:false"`
	TxSeq      int64           `gorm:"column:tx_seq"`
	EventType  string          `gorm:"column:event_type"`
	Period     int             `gorm:"column:period"`
	Actor      string          `gorm:"column:actor"`
	Member     string          `gorm:"column:member"`
	AmountWei  decimal.Decimal `gorm:"column:amount_wei;type:numeric(78,0)"`
	OccurredAt time.Time       `gorm:"column:occurred_at"`
	PrevHash   string          `gorm:"column:prev_hash"`
	Hash       string          `gorm:"column:hash"`
}

func (eventModel) TableName() string { return "hui_events" }

type outboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "hui_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body;type:jsonb"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "hui_idempotency" }
