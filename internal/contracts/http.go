package contracts

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

// AmountRequest carries a value either as a decimal ether string or as an
// integer wei string. Exactly one must be set.
type AmountRequest struct {
	Amount    string `json:"amount,omitempty"`
	AmountWei string `json:"amount_wei,omitempty"`
}

// DeployRequest creates the pool. Amounts are decimal ether strings.
type DeployRequest struct {
	MaxMembers         int    `json:"max_members"`
	ContributionAmount string `json:"contribution_amount"`
	MinDeposit         string `json:"min_deposit"`
	TotalPeriods       int    `json:"total_periods"`
	LateThreshold      int    `json:"late_threshold"`
	ForfeitBps         int    `json:"forfeit_bps"`
}

type JoinRequest struct {
	AmountRequest
}

type BidRequest struct {
	AmountRequest
}

type PayRequest struct {
	AmountRequest
}

type PenaltyPolicyResponse struct {
	LateThreshold int `json:"late_threshold"`
	ForfeitBps    int `json:"forfeit_bps"`
}

type PoolResponse struct {
	Owner                 string                `json:"owner"`
	MaxMembers            int                   `json:"max_members"`
	MemberCount           int                   `json:"member_count"`
	ContributionAmount    string                `json:"contribution_amount"`
	ContributionAmountWei string                `json:"contribution_amount_wei"`
	MinDeposit            string                `json:"min_deposit"`
	MinDepositWei         string                `json:"min_deposit_wei"`
	TotalPeriods          int                   `json:"total_periods"`
	CurrentPeriod         int                   `json:"current_period"`
	Phase                 string                `json:"phase"`
	PhaseCode             uint8                 `json:"phase_code"`
	Ended                 bool                  `json:"ended"`
	Receiver              string                `json:"receiver,omitempty"`
	WinningBid            string                `json:"winning_bid"`
	WinningBidWei         string                `json:"winning_bid_wei"`
	AmountDue             string                `json:"amount_due,omitempty"`
	AmountDueWei          string                `json:"amount_due_wei,omitempty"`
	PeriodTotal           string                `json:"period_total"`
	PeriodTotalWei        string                `json:"period_total_wei"`
	Penalty               PenaltyPolicyResponse `json:"penalty"`
	DeployedAt            string                `json:"deployed_at"`
	UpdatedAt             string                `json:"updated_at"`
}

type MemberResponse struct {
	Address      string `json:"address"`
	Deposit      string `json:"deposit"`
	DepositWei   string `json:"deposit_wei"`
	LateCount    int    `json:"late_count"`
	Drawn        bool   `json:"drawn"`
	Bid          string `json:"bid"`
	BidWei       string `json:"bid_wei"`
	Paid         bool   `json:"paid"`
	Penalized    bool   `json:"penalized"`
	Defaulted    bool   `json:"defaulted"`
	Refunded     bool   `json:"refunded"`
	Forfeited    string `json:"forfeited"`
	Received     string `json:"received"`
	ReceivedWei  string `json:"received_wei"`
	AmountDue    string `json:"amount_due,omitempty"`
	AmountDueWei string `json:"amount_due_wei,omitempty"`
	JoinIndex    int    `json:"join_index"`
	JoinedAt     string `json:"joined_at"`
}

type EventResponse struct {
	Seq        uint64 `json:"seq"`
	TxSeq      uint64 `json:"tx_seq"`
	Type       string `json:"type"`
	Period     int    `json:"period"`
	Actor      string `json:"actor"`
	Member     string `json:"member,omitempty"`
	Amount     string `json:"amount"`
	AmountWei  string `json:"amount_wei"`
	OccurredAt string `json:"occurred_at"`
	PrevHash   string `json:"prev_hash"`
	Hash       string `json:"hash"`
}

type EventsResponse struct {
	Events  []EventResponse `json:"events"`
	NextSeq uint64          `json:"next_seq"`
}

type MembersResponse struct {
	Members []MemberResponse `json:"members"`
}

type ActionResponse struct {
	Pool   PoolResponse    `json:"pool"`
	Events []EventResponse `json:"events"`
}

type AuditResponse struct {
	OK         bool     `json:"ok"`
	EventCount int      `json:"event_count"`
	HeadSeq    uint64   `json:"head_seq"`
	HeadHash   string   `json:"head_hash"`
	Problems   []string `json:"problems,omitempty"`
}
