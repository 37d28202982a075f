package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/viralforge/hui-ledger/internal/adapters/memory"
	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
	"github.com/viralforge/hui-ledger/internal/units"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bob   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	carol = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func eth(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, err := units.ParseEther(raw)
	if err != nil {
		t.Fatalf("ParseEther(%q): %v", raw, err)
	}
	return v
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deletes++
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(events []domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

type fixture struct {
	svc      *application.Service
	store    *memory.Store
	cache    *mapCache
	notifier *recordingNotifier
}

func newFixture(t *testing.T, maxMembers, periods int) fixture {
	t.Helper()
	store := memory.NewStore()
	f := fixture{
		store:    store,
		cache:    &mapCache{entries: map[string][]byte{}},
		notifier: &recordingNotifier{},
	}
	f.svc = application.NewService(application.Dependencies{
		Config:      application.Config{ServiceName: "hui-ledger-test"},
		Store:       store,
		Idempotency: store,
		Notifier:    f.notifier,
		Cache:       f.cache,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	_, deployed, err := f.svc.EnsureDeployed(context.Background(), owner, domain.Params{
		MaxMembers:         maxMembers,
		ContributionAmount: eth(t, "3"),
		MinDeposit:         eth(t, "1"),
		TotalPeriods:       periods,
		Penalty:            domain.PenaltyPolicy{LateThreshold: 2, ForfeitBps: 2500},
	})
	if err != nil || !deployed {
		t.Fatalf("EnsureDeployed: deployed=%v err=%v", deployed, err)
	}
	return f
}

func (f fixture) join(t *testing.T, who ...common.Address) {
	t.Helper()
	for _, addr := range who {
		if _, err := f.svc.Join(context.Background(), application.Actor{Address: addr}, eth(t, "1")); err != nil {
			t.Fatalf("Join(%s): %v", addr.Hex(), err)
		}
	}
}

func TestServicePeriodScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	f.join(t, alice, bob, carol)

	if _, err := f.svc.Bid(ctx, application.Actor{Address: bob}, eth(t, "0.5")); err != nil {
		t.Fatalf("Bid bob: %v", err)
	}
	if _, err := f.svc.Bid(ctx, application.Actor{Address: alice}, eth(t, "0.3")); err != nil {
		t.Fatalf("Bid alice: %v", err)
	}
	res, err := f.svc.SelectWinner(ctx, application.Actor{Address: owner})
	if err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if res.Pool.Receiver != bob || res.Pool.AmountDue().Cmp(eth(t, "2.5")) != 0 {
		t.Fatalf("unexpected pool after selection: %+v", res.Pool)
	}
	for _, payer := range []common.Address{alice, carol} {
		if _, err := f.svc.Pay(ctx, application.Actor{Address: payer}, eth(t, "2.5")); err != nil {
			t.Fatalf("Pay(%s): %v", payer.Hex(), err)
		}
	}
	res, err = f.svc.SettlePeriod(ctx, application.Actor{Address: owner})
	if err != nil {
		t.Fatalf("SettlePeriod: %v", err)
	}
	if res.Pool.CurrentPeriod != 2 || res.Pool.Phase != domain.PhaseBidding {
		t.Fatalf("expected period 2 BIDDING, got %d %s", res.Pool.CurrentPeriod, res.Pool.Phase)
	}
	member, _, err := f.svc.GetMember(ctx, bob)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if units.FormatEther(member.Received) != "5" || !member.Drawn {
		t.Fatalf("bob should have received 5 ether, got %s drawn=%v", units.FormatEther(member.Received), member.Drawn)
	}

	events, err := f.svc.ListEvents(ctx, ports.EventQuery{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTypes := []string{
		domain.EventPoolDeployed,
		domain.EventMemberJoined, domain.EventMemberJoined, domain.EventMemberJoined,
		domain.EventBidPlaced, domain.EventBidPlaced,
		domain.EventWinnerSelected,
		domain.EventContributionPaid, domain.EventContributionPaid,
		domain.EventPeriodSettled,
	}
	gotTypes := make([]string, 0, len(events))
	for _, ev := range events {
		gotTypes = append(gotTypes, ev.Type)
	}
	if diff := cmp.Diff(wantTypes, gotTypes); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if len(f.notifier.events) != len(events) {
		t.Fatalf("notifier saw %d events, want %d", len(f.notifier.events), len(events))
	}
	report, err := f.svc.Audit(ctx)
	if err != nil || !report.OK() || report.EventCount != len(events) {
		t.Fatalf("audit failed: %+v %v", report, err)
	}
}

func TestServiceRejectionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	f.join(t, alice)
	headBefore, _ := f.svc.Head(ctx)
	outboxBefore := len(f.store.OutboxSnapshot())

	_, err := f.svc.Join(ctx, application.Actor{Address: bob}, eth(t, "0.5"))
	if !errors.Is(err, domain.ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if _, err := f.svc.SelectWinner(ctx, application.Actor{Address: alice}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	headAfter, _ := f.svc.Head(ctx)
	if headAfter != headBefore {
		t.Fatalf("rejected operations must not append events")
	}
	if got := len(f.store.OutboxSnapshot()); got != outboxBefore {
		t.Fatalf("rejected operations must not enqueue outbox records, got %d want %d", got, outboxBefore)
	}
	if _, _, err := f.svc.GetMember(ctx, bob); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestServiceRequiresCaller(t *testing.T) {
	f := newFixture(t, 2, 2)
	if _, err := f.svc.Join(context.Background(), application.Actor{}, eth(t, "1")); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestServiceIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	actor := application.Actor{Address: alice, IdempotencyKey: "join-alice-1"}
	first, err := f.svc.Join(ctx, actor, eth(t, "1"))
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	second, err := f.svc.Join(ctx, actor, eth(t, "1"))
	if err != nil {
		t.Fatalf("replayed Join: %v", err)
	}
	if len(second.Events) != 1 || second.Events[0].Hash != first.Events[0].Hash {
		t.Fatalf("replay should return the original result")
	}
	head, _ := f.svc.Head(ctx)
	if head.Seq != 2 {
		t.Fatalf("replay must not append events, head seq %d", head.Seq)
	}
	if _, err := f.svc.Join(ctx, actor, eth(t, "2")); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestServiceFailedOperationReleasesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	actor := application.Actor{Address: alice, IdempotencyKey: "join-alice-retry"}
	if _, err := f.svc.Join(ctx, actor, eth(t, "0.1")); !errors.Is(err, domain.ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if _, err := f.svc.Join(ctx, actor, eth(t, "0.1")); !errors.Is(err, domain.ErrInsufficientDeposit) {
		t.Fatalf("retry should re-run the operation, got %v", err)
	}
}

func TestServiceDeployOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	params := domain.Params{MaxMembers: 5, ContributionAmount: eth(t, "1"), MinDeposit: eth(t, "1"), TotalPeriods: 5, Penalty: domain.PenaltyPolicy{LateThreshold: 1}}
	if _, err := f.svc.Deploy(ctx, application.Actor{Address: bob}, params); !errors.Is(err, domain.ErrAlreadyDeployed) {
		t.Fatalf("expected ErrAlreadyDeployed, got %v", err)
	}
	pool, deployed, err := f.svc.EnsureDeployed(ctx, bob, params)
	if err != nil || deployed {
		t.Fatalf("EnsureDeployed on an existing pool: deployed=%v err=%v", deployed, err)
	}
	if pool.Owner != owner || pool.MaxMembers != 2 {
		t.Fatalf("existing pool must be kept, got %+v", pool)
	}
}

func TestServiceSnapshotCacheInvalidatedOnCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	view, err := f.svc.GetPool(ctx)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if len(view.Members) != 0 || len(f.cache.entries) != 1 {
		t.Fatalf("first read should fill the cache")
	}
	f.join(t, alice)
	if len(f.cache.entries) != 0 {
		t.Fatalf("commit should invalidate the snapshot")
	}
	view, err = f.svc.GetPool(ctx)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if len(view.Members) != 1 || view.Members[0].Address != alice {
		t.Fatalf("expected alice in the refreshed snapshot, got %+v", view.Members)
	}
}

func TestServiceNoOpCommitDoesNotInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, 1)
	f.join(t, alice)
	if _, err := f.svc.Bid(ctx, application.Actor{Address: alice}, eth(t, "0.1")); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	if _, err := f.svc.SelectWinner(ctx, application.Actor{Address: owner}); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if _, err := f.svc.SettlePeriod(ctx, application.Actor{Address: owner}); err != nil {
		t.Fatalf("SettlePeriod: %v", err)
	}
	if _, err := f.svc.ReturnDeposits(ctx, application.Actor{Address: owner}); err != nil {
		t.Fatalf("ReturnDeposits: %v", err)
	}
	deletes := f.cache.deletes
	res, err := f.svc.ReturnDeposits(ctx, application.Actor{Address: owner})
	if err != nil || len(res.Events) != 0 {
		t.Fatalf("second ReturnDeposits should succeed with no events: %+v %v", res, err)
	}
	if f.cache.deletes != deletes {
		t.Fatalf("no-op commit should not touch the cache")
	}
}

func TestServiceOutboxEnvelopes(t *testing.T) {
	f := newFixture(t, 2, 2)
	f.join(t, alice)
	records := f.store.OutboxSnapshot()
	if len(records) != 2 {
		t.Fatalf("expected deploy and join records, got %d", len(records))
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(records[1].Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventType != domain.EventMemberJoined || env.EventClass != domain.CanonicalEventClassAnalyticsOnly {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	if env.PartitionKey != owner.Hex() || env.PartitionKeyPath != "data.pool" || env.SourceService != "hui-ledger-test" {
		t.Fatalf("unexpected envelope routing: %+v", env)
	}
	var data contracts.LedgerEventPayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if data.Member != alice.Hex() || data.Amount != "1" || data.Seq != 2 {
		t.Fatalf("unexpected payload: %+v", data)
	}
}

func TestServiceListEventsFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	f.join(t, alice, bob)
	joins, err := f.svc.ListEvents(ctx, ports.EventQuery{Types: []string{domain.EventMemberJoined}})
	if err != nil || len(joins) != 2 {
		t.Fatalf("expected two joins, got %d %v", len(joins), err)
	}
	page, err := f.svc.ListEvents(ctx, ports.EventQuery{AfterSeq: 1, Limit: 1})
	if err != nil || len(page) != 1 || page[0].Seq != 2 {
		t.Fatalf("unexpected page: %+v %v", page, err)
	}
	if _, err := f.svc.ListEvents(ctx, ports.EventQuery{Types: []string{"pool.exploded"}}); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
}

type tamperedStore struct {
	*memory.Store
}

func (s tamperedStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r ports.LedgerReader) error) error {
	return s.Store.ReadSnapshot(ctx, func(ctx context.Context, r ports.LedgerReader) error {
		return fn(ctx, tamperedReader{r})
	})
}

type tamperedReader struct {
	ports.LedgerReader
}

func (r tamperedReader) ListEvents(ctx context.Context, q ports.EventQuery) ([]domain.Event, error) {
	events, err := r.LedgerReader.ListEvents(ctx, q)
	for i := range events {
		if events[i].Type == domain.EventMemberJoined {
			events[i].Amount = new(big.Int).Add(events[i].Amount, big.NewInt(1))
		}
	}
	return events, err
}

func TestAuditDetectsTamperedHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 2)
	f.join(t, alice)
	svc := application.NewService(application.Dependencies{
		Store:  tamperedStore{f.store},
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	report, err := svc.Audit(ctx)
	if !errors.Is(err, domain.ErrHistoryCorrupted) || report.OK() {
		t.Fatalf("expected corrupted history, got %+v %v", report, err)
	}
}

// interleavingStore starts a concurrent commit after the audit has loaded the
// ledger and before it reads anything else.
type interleavingStore struct {
	*memory.Store
	afterLoad func()
}

func (s interleavingStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r ports.LedgerReader) error) error {
	return s.Store.ReadSnapshot(ctx, func(ctx context.Context, r ports.LedgerReader) error {
		return fn(ctx, interleavingReader{LedgerReader: r, afterLoad: s.afterLoad})
	})
}

type interleavingReader struct {
	ports.LedgerReader
	afterLoad func()
}

func (r interleavingReader) LoadLedger(ctx context.Context) (*domain.Ledger, error) {
	ledger, err := r.LedgerReader.LoadLedger(ctx)
	r.afterLoad()
	return ledger, err
}

func TestAuditIgnoresConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 3)
	f.join(t, alice)

	joined := make(chan error, 1)
	auditor := application.NewService(application.Dependencies{
		Store: interleavingStore{Store: f.store, afterLoad: func() {
			go func() {
				_, err := f.svc.Join(ctx, application.Actor{Address: bob}, eth(t, "1"))
				joined <- err
			}()
			select {
			case err := <-joined:
				joined <- err
			case <-time.After(50 * time.Millisecond):
			}
		}},
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})

	report, err := auditor.Audit(ctx)
	if err != nil || !report.OK() {
		t.Fatalf("intact history reported corrupted: %v %v", report.Problems, err)
	}
	if err := <-joined; err != nil {
		t.Fatalf("concurrent Join: %v", err)
	}
	report, err = f.svc.Audit(ctx)
	if err != nil || report.EventCount != 3 {
		t.Fatalf("re-audit after join: %+v %v", report, err)
	}
}

// racingCache runs beforeSet once, ahead of the first Set.
type racingCache struct {
	*mapCache
	once      sync.Once
	beforeSet func()
}

func (c *racingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.once.Do(c.beforeSet)
	return c.mapCache.Set(ctx, key, value, ttl)
}

func TestGetPoolDropsSnapshotOvertakenByCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &racingCache{mapCache: &mapCache{entries: map[string][]byte{}}}
	svc := application.NewService(application.Dependencies{
		Store:       store,
		Idempotency: store,
		Cache:       cache,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if _, _, err := svc.EnsureDeployed(ctx, owner, domain.Params{
		MaxMembers:         3,
		ContributionAmount: eth(t, "3"),
		MinDeposit:         eth(t, "1"),
		TotalPeriods:       3,
		Penalty:            domain.PenaltyPolicy{LateThreshold: 2, ForfeitBps: 2500},
	}); err != nil {
		t.Fatalf("EnsureDeployed: %v", err)
	}
	cache.beforeSet = func() {
		if _, err := svc.Join(ctx, application.Actor{Address: alice}, eth(t, "1")); err != nil {
			t.Errorf("Join during fill: %v", err)
		}
	}

	if _, err := svc.GetPool(ctx); err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	view, err := svc.GetPool(ctx)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if len(view.Members) != 1 {
		t.Fatalf("served %d members after the commit, want 1", len(view.Members))
	}
	head, _ := svc.Head(ctx)
	if view.HeadSeq != head.Seq {
		t.Fatalf("view head %d, store head %d", view.HeadSeq, head.Seq)
	}
}
