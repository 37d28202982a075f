package postgres

import (
	"github.com/viralforge/hui-ledger/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Ledger      ports.LedgerStore
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Ledger:      &ledgerStore{db: db},
		Outbox:      &outboxRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
	}
}
