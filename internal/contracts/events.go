package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// LedgerEventPayload is the data section of every ledger envelope. Pool is
// the owner address, which identifies the pool of a deployment.
type LedgerEventPayload struct {
	Pool       string `json:"pool"`
	Seq        uint64 `json:"seq"`
	TxSeq      uint64 `json:"tx_seq"`
	Period     int    `json:"period"`
	Actor      string `json:"actor"`
	Member     string `json:"member,omitempty"`
	Amount     string `json:"amount"`
	AmountWei  string `json:"amount_wei"`
	Hash       string `json:"hash"`
	PrevHash   string `json:"prev_hash"`
	OccurredAt string `json:"occurred_at"`
}
