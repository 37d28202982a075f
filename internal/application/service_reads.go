package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

const snapshotCacheKey = "hui:pool:snapshot"

// GetPool returns the pool and its members. Reads go through the snapshot
// cache; concurrent misses share one store load.
func (s *Service) GetPool(ctx context.Context) (PoolView, error) {
	if view, ok := s.cachedSnapshot(ctx); ok {
		return view, nil
	}
	v, err, _ := s.fills.Do(snapshotCacheKey, func() (any, error) {
		var view PoolView
		err := s.store.ReadSnapshot(ctx, func(ctx context.Context, r ports.LedgerReader) error {
			ledger, err := r.LoadLedger(ctx)
			if err != nil {
				return err
			}
			head, err := r.Head(ctx)
			if err != nil {
				return err
			}
			view = PoolView{Pool: ledger.Pool, Members: ledger.Members(), HeadSeq: head.Seq}
			return nil
		})
		if err != nil {
			return PoolView{}, err
		}
		s.storeSnapshot(ctx, view)
		return view, nil
	})
	if err != nil {
		return PoolView{}, err
	}
	return cloneView(v.(PoolView)), nil
}

func (s *Service) GetMember(ctx context.Context, addr common.Address) (domain.Member, domain.Pool, error) {
	view, err := s.GetPool(ctx)
	if err != nil {
		return domain.Member{}, domain.Pool{}, err
	}
	m, ok := view.Member(addr)
	if !ok {
		return domain.Member{}, domain.Pool{}, domain.ErrNotMember
	}
	return m, view.Pool, nil
}

// ListEvents returns committed history after query.AfterSeq in commit order.
func (s *Service) ListEvents(ctx context.Context, query ports.EventQuery) ([]domain.Event, error) {
	if query.Limit <= 0 {
		query.Limit = s.cfg.HistoryPageLimit
	}
	if query.Limit > s.cfg.HistoryMaxLimit {
		query.Limit = s.cfg.HistoryMaxLimit
	}
	for _, t := range query.Types {
		if !domain.IsCanonicalEmittedEvent(t) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, t)
		}
	}
	return s.store.ListEvents(ctx, query)
}

func (s *Service) Head(ctx context.Context) (domain.ChainHead, error) {
	return s.store.Head(ctx)
}

func (s *Service) cachedSnapshot(ctx context.Context) (PoolView, bool) {
	if s.cache == nil {
		return PoolView{}, false
	}
	raw, err := s.cache.Get(ctx, snapshotCacheKey)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot cache read failed",
			"module", "application.service",
			"layer", "application",
			"operation", "get_pool",
			"outcome", "degraded",
			"error", err,
		)
	}
	hit := err == nil && raw != nil
	if s.metrics != nil {
		s.metrics.ObserveCache(hit)
	}
	if !hit {
		return PoolView{}, false
	}
	var view PoolView
	if err := json.Unmarshal(raw, &view); err != nil {
		return PoolView{}, false
	}
	return view, true
}

func (s *Service) storeSnapshot(ctx context.Context, view PoolView) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotCacheKey, raw, s.cfg.SnapshotTTL); err != nil {
		return
	}
	// A commit between the load and the Set may have invalidated the key
	// before the stale view was written. Drop it when the head has moved.
	head, err := s.store.Head(ctx)
	if err != nil || head.Seq != view.HeadSeq {
		s.invalidateSnapshot(ctx)
	}
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotCacheKey); err != nil {
		s.logger.WarnContext(ctx, "snapshot cache invalidation failed",
			"module", "application.service",
			"layer", "application",
			"operation", "invalidate_snapshot",
			"outcome", "degraded",
			"error", err,
		)
	}
}

func cloneView(v PoolView) PoolView {
	out := PoolView{Pool: v.Pool.Clone(), HeadSeq: v.HeadSeq, Members: make([]domain.Member, 0, len(v.Members))}
	for _, m := range v.Members {
		out.Members = append(out.Members, m.Clone())
	}
	return out
}

