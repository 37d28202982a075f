package application

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	ServiceName      string
	IdempotencyTTL   time.Duration
	SnapshotTTL      time.Duration
	HistoryPageLimit int
	HistoryMaxLimit  int
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	Address        common.Address
	RequestID      string
	IdempotencyKey string
}

// CommitResult is what a successful mutation returns: the pool after the
// commit and the events the commit appended.
type CommitResult struct {
	Pool        domain.Pool
	MemberCount int
	Events      []domain.Event
}

// PoolView is a consistent read of the pool and its members as of the
// committed event HeadSeq.
type PoolView struct {
	Pool    domain.Pool
	Members []domain.Member
	HeadSeq uint64
}

func (v PoolView) Member(addr common.Address) (domain.Member, bool) {
	for _, m := range v.Members {
		if m.Address == addr {
			return m, true
		}
	}
	return domain.Member{}, false
}

type Service struct {
	cfg         Config
	store       ports.LedgerStore
	idempotency ports.IdempotencyRepository
	notifier    ports.EventNotifier
	cache       ports.SnapshotCache
	metrics     ports.Metrics
	logger      *slog.Logger
	fills       singleflight.Group
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Store       ports.LedgerStore
	Idempotency ports.IdempotencyRepository
	Notifier    ports.EventNotifier
	Cache       ports.SnapshotCache
	Metrics     ports.Metrics
	Logger      *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hui-ledger"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 30 * time.Second
	}
	if cfg.HistoryPageLimit <= 0 {
		cfg.HistoryPageLimit = 100
	}
	if cfg.HistoryMaxLimit < cfg.HistoryPageLimit {
		cfg.HistoryMaxLimit = 1000
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		idempotency: deps.Idempotency,
		notifier:    deps.Notifier,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      logger,
		// Postgres keeps microseconds; truncating here keeps event hashes
		// stable across a round trip.
		nowFn: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// WithClock replaces the service clock. Tests use it to pin timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFn = now
	return s
}
