package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/viralforge/hui-ledger/internal/contracts"
	_ "modernc.org/sqlite"
)

// SQLiteArchive is a publisher that appends every delivered envelope to a
// local activity log. Redeliveries of the same event id are ignored.
type SQLiteArchive struct {
	db *sql.DB
	mu sync.Mutex
}

type ArchivedEvent struct {
	EventID    string
	EventType  string
	Seq        uint64
	OccurredAt time.Time
	Envelope   contracts.EventEnvelope
}

func OpenSQLiteArchive(ctx context.Context, path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	a := &SQLiteArchive{db: db}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS activity_log (
			event_id      TEXT PRIMARY KEY,
			event_type    TEXT NOT NULL,
			partition_key TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			occurred_at   INTEGER NOT NULL,
			envelope      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_seq ON activity_log(seq)`,
	}
	for _, s := range stmts {
		if _, err := a.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (a *SQLiteArchive) Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	var data contracts.LedgerEventPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode envelope data: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO activity_log (event_id, event_type, partition_key, seq, occurred_at, envelope)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.EventID, eventType, partitionKey, int64(data.Seq), env.OccurredAt.UTC().UnixMicro(), string(payload),
	)
	return err
}

// List returns archived events with seq greater than afterSeq, oldest first.
func (a *SQLiteArchive) List(ctx context.Context, afterSeq uint64, limit int) ([]ArchivedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT event_id, event_type, seq, occurred_at, envelope FROM activity_log
		 WHERE seq > ? ORDER BY seq ASC LIMIT ?`, int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedEvent
	for rows.Next() {
		var (
			item     ArchivedEvent
			seq      int64
			occurred int64
			raw      string
		)
		if err := rows.Scan(&item.EventID, &item.EventType, &seq, &occurred, &raw); err != nil {
			return nil, err
		}
		item.Seq = uint64(seq)
		item.OccurredAt = time.UnixMicro(occurred).UTC()
		if err := json.Unmarshal([]byte(raw), &item.Envelope); err != nil {
			return nil, fmt.Errorf("decode archived envelope %s: %w", item.EventID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
