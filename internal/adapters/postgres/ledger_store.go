package postgres

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerStore keeps one pool per database. Writers serialize on a row lock of
// the pool row; the event table's primary key rejects forked histories.
type ledgerStore struct {
	db *gorm.DB
}

type ledgerTx struct {
	db     *gorm.DB
	ledger *domain.Ledger
	pool   *poolModel
}

func (s *ledgerStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		t := &ledgerTx{db: gtx}
		var row poolModel
		err := gtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pool_id = ?", poolRowID).
			Take(&row).Error
		switch {
		case err == nil:
			t.pool = &row
		case !isNotFound(err):
			return err
		}
		return fn(ctx, t)
	})
}

// ReadSnapshot runs fn inside a read-only REPEATABLE READ transaction, so
// every read in fn sees the same committed state.
func (s *ledgerStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r ports.LedgerReader) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &ledgerStore{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (t *ledgerTx) LoadLedger(ctx context.Context) (*domain.Ledger, error) {
	if t.ledger != nil {
		return t.ledger, nil
	}
	if t.pool == nil {
		return nil, domain.ErrNotDeployed
	}
	ledger, err := loadMembers(ctx, t.db, *t.pool)
	if err != nil {
		return nil, err
	}
	t.ledger = ledger
	return ledger, nil
}

func (t *ledgerTx) CreateLedger(ctx context.Context, ledger *domain.Ledger) error {
	if t.pool != nil {
		return domain.ErrAlreadyDeployed
	}
	row := toPoolModel(ledger.Pool)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyDeployed
		}
		return err
	}
	t.pool = &row
	t.ledger = ledger
	return upsertMembers(ctx, t.db, ledger.Members())
}

func (t *ledgerTx) SaveLedger(ctx context.Context, ledger *domain.Ledger) error {
	if t.pool == nil {
		return domain.ErrNotDeployed
	}
	row := toPoolModel(ledger.Pool)
	if err := t.db.WithContext(ctx).
		Model(&poolModel{}).
		Where("pool_id = ?", poolRowID).
		Select("*").
		Updates(&row).Error; err != nil {
		return err
	}
	t.ledger = ledger
	return upsertMembers(ctx, t.db, ledger.Members())
}

func (t *ledgerTx) Head(ctx context.Context) (domain.ChainHead, error) {
	return readHead(ctx, t.db)
}

func (t *ledgerTx) AppendEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventModel, 0, len(events))
	for _, ev := range events {
		rows = append(rows, toEventModel(ev))
	}
	if err := t.db.WithContext(ctx).Create(&rows).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, events []ports.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(events))
	for _, ev := range events {
		rows = append(rows, outboxModel{
			OutboxID:     ev.EventID,
			EventType:    ev.EventType,
			PartitionKey: ev.PartitionKey,
			Payload:      string(ev.Payload),
			CreatedAt:    ev.OccurredAt,
			FirstSeenAt:  ev.OccurredAt,
		})
	}
	return t.db.WithContext(ctx).Create(&rows).Error
}

func (s *ledgerStore) LoadLedger(ctx context.Context) (*domain.Ledger, error) {
	var row poolModel
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolRowID).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotDeployed
		}
		return nil, err
	}
	return loadMembers(ctx, s.db, row)
}

func (s *ledgerStore) Head(ctx context.Context) (domain.ChainHead, error) {
	return readHead(ctx, s.db)
}

func (s *ledgerStore) ListEvents(ctx context.Context, query ports.EventQuery) ([]domain.Event, error) {
	q := s.db.WithContext(ctx).Where("seq > ?", int64(query.AfterSeq)).Order("seq ASC")
	if len(query.Types) > 0 {
		q = q.Where("event_type IN ?", query.Types)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	var rows []eventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEventModel(row))
	}
	return out, nil
}

func loadMembers(ctx context.Context, db *gorm.DB, pool poolModel) (*domain.Ledger, error) {
	var rows []memberModel
	if err := db.WithContext(ctx).Order("join_index ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	members := make([]domain.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, fromMemberModel(row))
	}
	return domain.Restore(fromPoolModel(pool), members), nil
}

func upsertMembers(ctx context.Context, db *gorm.DB, members []domain.Member) error {
	if len(members) == 0 {
		return nil
	}
	rows := make([]memberModel, 0, len(members))
	for _, m := range members {
		rows = append(rows, toMemberModel(m))
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
}

func readHead(ctx context.Context, db *gorm.DB) (domain.ChainHead, error) {
	var row eventModel
	err := db.WithContext(ctx).Order("seq DESC").Limit(1).Take(&row).Error
	if isNotFound(err) {
		return domain.ChainHead{}, nil
	}
	if err != nil {
		return domain.ChainHead{}, err
	}
	return domain.ChainHead{Seq: uint64(row.Seq), TxSeq: uint64(row.TxSeq), Hash: common.HexToHash(row.Hash)}, nil
}
