package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/hui-ledger/internal/adapters/cache"
	eventadapter "github.com/viralforge/hui-ledger/internal/adapters/events"
	grpcadapter "github.com/viralforge/hui-ledger/internal/adapters/grpc"
	httpadapter "github.com/viralforge/hui-ledger/internal/adapters/http"
	"github.com/viralforge/hui-ledger/internal/adapters/memory"
	"github.com/viralforge/hui-ledger/internal/adapters/metrics"
	"github.com/viralforge/hui-ledger/internal/adapters/postgres"
	"github.com/viralforge/hui-ledger/internal/adapters/security"
	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

const grpcHealthService = "hui.ledger.v1.LedgerInternalService"

type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	hub       *eventadapter.Hub
	metrics   *metrics.Prometheus
	verifier  ports.TokenVerifier
	outbox    *eventadapter.OutboxWorker
	health    *health.Server
	cleanupFn []func() error
}

// NewRuntime wires storage, cache, publishers and the application service.
// Listeners are opened by RunAPI, so the CLI and the worker can share it.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return Build(ctx, cfg, logger)
}

// Build wires a runtime from an already resolved config.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	var err error
	logger.Info("bootstrapping hui ledger",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.StorageDriver,
		"auth", cfg.AuthMode,
	)

	r := &Runtime{cfg: cfg, logger: logger, hub: eventadapter.NewHub(), health: health.NewServer()}
	ok := false
	defer func() {
		if !ok {
			r.cleanup()
		}
	}()

	var (
		store       ports.LedgerStore
		outboxRepo  ports.OutboxRepository
		idempotency ports.IdempotencyRepository
	)
	switch cfg.StorageDriver {
	case StoragePostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.cleanupFn = append(r.cleanupFn, func() error { return postgres.Close(db) })
		repos := postgres.NewRepositories(db)
		store, outboxRepo, idempotency = repos.Ledger, repos.Outbox, repos.Idempotency
	default:
		mem := memory.NewStore()
		store, outboxRepo, idempotency = mem, mem, mem
	}

	var snapshots ports.SnapshotCache
	if cfg.RedisURL != "" {
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		r.cleanupFn = append(r.cleanupFn, client.Close)
		snapshots = cacheadapter.NewRedisSnapshotCache(client, cfg.ServiceID+":")
	}

	r.metrics = metrics.NewPrometheus(cfg.MetricsNamespace)
	r.service = application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:      cfg.ServiceID,
			IdempotencyTTL:   cfg.IdempotencyTTL,
			SnapshotTTL:      cfg.SnapshotTTL,
			HistoryPageLimit: cfg.HistoryPageLimit,
			HistoryMaxLimit:  cfg.HistoryMaxLimit,
		},
		Store:       store,
		Idempotency: idempotency,
		Notifier:    r.hub,
		Cache:       snapshots,
		Metrics:     r.metrics,
		Logger:      logger,
	})

	if err := r.ensurePool(ctx); err != nil {
		return nil, err
	}

	r.verifier, err = newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := r.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	r.outbox = eventadapter.NewOutboxWorker(
		logger,
		outboxRepo,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)

	ok = true
	return r, nil
}

func (r *Runtime) Config() Config                { return r.cfg }
func (r *Runtime) Service() *application.Service { return r.service }
func (r *Runtime) Logger() *slog.Logger          { return r.logger }

// NewLogger builds the JSON logger used by every process.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openPostgres(ctx context.Context, cfg Config) (*gorm.DB, error) {
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = postgres.Close(db)
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// ensurePool deploys the configured pool on first start. Later starts keep
// the stored pool and only warn when the configured parameters drifted.
func (r *Runtime) ensurePool(ctx context.Context) error {
	owner, ok, err := r.cfg.Owner()
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Warn("no pool owner configured; waiting for a deploy request")
		return nil
	}
	params, err := r.cfg.PoolParams()
	if err != nil {
		return err
	}
	pool, deployed, err := r.service.EnsureDeployed(ctx, owner, params)
	if err != nil {
		return fmt.Errorf("deploy pool: %w", err)
	}
	if deployed {
		r.logger.Info("pool deployed", "owner", pool.Owner.Hex(), "total_periods", pool.TotalPeriods)
	} else if pool.Owner != owner || pool.ContributionAmount.Cmp(params.ContributionAmount) != 0 {
		r.logger.Warn("stored pool differs from configuration; keeping stored pool",
			"stored_owner", pool.Owner.Hex(),
			"configured_owner", owner.Hex(),
		)
	}
	view, err := r.service.GetPool(ctx)
	if err == nil {
		r.metrics.SetPoolState(view.Pool.CurrentPeriod, view.Pool.Phase.String(), len(view.Members), view.Pool.Ended)
	}
	return nil
}

func newVerifier(cfg Config) (ports.TokenVerifier, error) {
	switch cfg.AuthMode {
	case AuthHMAC:
		return security.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	case AuthRSA:
		return security.NewRSAVerifier(cfg.JWTPublicKeyPEM, cfg.JWTIssuer)
	default:
		slog.Default().Warn("dev auth enabled: bearer tokens are taken as caller addresses")
		return security.DevVerifier{}, nil
	}
}

func (r *Runtime) newPublisher(ctx context.Context) (ports.EventPublisher, error) {
	sinks := []ports.EventPublisher{eventadapter.NewLoggingPublisher(r.logger)}
	if len(r.cfg.KafkaBrokers) > 0 {
		kafka, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, r.cfg.KafkaTopic, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		r.cleanupFn = append(r.cleanupFn, kafka.Close)
		sinks = append(sinks, kafka)
	}
	if r.cfg.ArchivePath != "" {
		archive, err := eventadapter.OpenSQLiteArchive(ctx, r.cfg.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		r.cleanupFn = append(r.cleanupFn, archive.Close)
		sinks = append(sinks, archive)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return eventadapter.NewFanoutPublisher(sinks...), nil
}

// Handler returns the HTTP router with metrics and auth wired in.
func (r *Runtime) Handler() http.Handler {
	return httpadapter.NewRouter(httpadapter.NewHandler(r.service, httpadapter.Options{
		Verifier: r.verifier,
		Observer: r.metrics,
		Metrics:  r.metrics.Handler(),
	}))
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanup()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, r.health)
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.health.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewLedgerInternalServer(r.service, r.hub, r.cfg.WatchBuffer))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if r.cfg.EmbeddedWorker {
		g.Go(func() error { return r.runOutbox(gctx) })
		g.Go(func() error { return r.runAuditSchedule(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutdown signal received")
		r.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Error("server failure", "error", err)
		return err
	}
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanup()

	if r.cfg.StorageDriver == StorageMemory {
		r.logger.Warn("worker started on the memory store; it only sees its own process")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runOutbox(gctx) })
	g.Go(func() error { return r.runAuditSchedule(gctx) })
	return g.Wait()
}

func (r *Runtime) runOutbox(ctx context.Context) error {
	r.logger.Info("outbox worker started")
	if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runtime) runAuditSchedule(ctx context.Context) error {
	if r.cfg.AuditSchedule == "" || r.cfg.AuditSchedule == "off" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.AuditSchedule, func() { r.RunAudit(ctx) }); err != nil {
		return fmt.Errorf("register audit schedule: %w", err)
	}
	c.Start()
	r.logger.Info("audit scheduler started", "schedule", r.cfg.AuditSchedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunAudit audits the history once. A corrupted history flips the gRPC
// health status of the ledger service to NOT_SERVING; a passing audit sets it
// back to SERVING.
func (r *Runtime) RunAudit(ctx context.Context) (application.AuditReport, error) {
	report, err := r.service.Audit(ctx)
	fields := []any{
		"module", "bootstrap.audit",
		"layer", "app",
		"operation", "audit_history",
		"event_count", report.EventCount,
		"head_seq", report.Head.Seq,
	}
	switch {
	case errors.Is(err, domain.ErrHistoryCorrupted):
		r.health.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		r.logger.ErrorContext(ctx, "ledger history failed audit", append(fields, "outcome", "failure", "problems", report.Problems)...)
	case errors.Is(err, domain.ErrNotDeployed):
		r.logger.InfoContext(ctx, "audit skipped", append(fields, "outcome", "skipped")...)
	case err != nil:
		r.logger.ErrorContext(ctx, "audit failed", append(fields, "outcome", "failure", "error", err)...)
	default:
		r.health.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)
		r.logger.InfoContext(ctx, "ledger history audited", append(fields, "outcome", "success")...)
	}
	return report, err
}

func (r *Runtime) cleanup() {
	for i := len(r.cleanupFn) - 1; i >= 0; i-- {
		if err := r.cleanupFn[i](); err != nil {
			r.logger.Warn("cleanup failed", "error", err)
		}
	}
	r.cleanupFn = nil
}

// Close releases connections held by a runtime that is not run.
func (r *Runtime) Close() { r.cleanup() }
