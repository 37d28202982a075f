package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/viralforge/hui-ledger/internal/adapters/security"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/units"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AuthHMAC = "hmac"
	AuthRSA  = "rsa"
	AuthDev  = "dev"
)

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	MaxDBConns    int32
	RedisURL      string

	AuthMode        string
	JWTSecret       string
	JWTPublicKeyPEM string
	JWTIssuer       string

	PoolOwner          string
	MaxMembers         int
	ContributionAmount string
	MinDeposit         string
	TotalPeriods       int
	LateThreshold      int
	ForfeitBps         int

	IdempotencyTTL   time.Duration
	SnapshotTTL      time.Duration
	HistoryPageLimit int
	HistoryMaxLimit  int
	WatchBuffer      int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	KafkaBrokers     []string
	KafkaTopic       string
	ArchivePath      string
	AuditSchedule    string
	MetricsNamespace string
	// EmbeddedWorker runs the outbox worker and audit schedule inside the
	// API process. The memory store cannot be shared across processes, so it
	// is forced on for that driver.
	EmbeddedWorker bool
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Auth struct {
		Mode   string `yaml:"mode"`
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`
	Pool struct {
		Owner              string `yaml:"owner"`
		MaxMembers         int    `yaml:"max_members"`
		ContributionAmount string `yaml:"contribution_amount"`
		MinDeposit         string `yaml:"min_deposit"`
		TotalPeriods       int    `yaml:"total_periods"`
		Penalty            struct {
			LateThreshold int  `yaml:"late_threshold"`
			ForfeitBps    *int `yaml:"forfeit_bps"`
		} `yaml:"penalty"`
	} `yaml:"pool"`
	Outbox struct {
		PollInterval string `yaml:"poll_interval"`
		BatchSize    int    `yaml:"batch_size"`
		ClaimTTL     string `yaml:"claim_ttl"`
		MaxRetries   int    `yaml:"max_retries"`
	} `yaml:"outbox"`
	Archive struct {
		Path string `yaml:"path"`
	} `yaml:"archive"`
	Audit struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"audit"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "hui-ledger",
		LogLevel:           "info",
		HTTPPort:           8080,
		GRPCPort:           9090,
		StorageDriver:      StorageMemory,
		MaxDBConns:         20,
		AuthMode:           AuthHMAC,
		JWTIssuer:          "hui-ledger",
		MaxMembers:         3,
		ContributionAmount: "3",
		MinDeposit:         "1",
		TotalPeriods:       3,
		LateThreshold:      2,
		ForfeitBps:         2500,
		IdempotencyTTL:     24 * time.Hour,
		SnapshotTTL:        30 * time.Second,
		HistoryPageLimit:   100,
		HistoryMaxLimit:    1000,
		WatchBuffer:        256,
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxRetries:   5,
		KafkaTopic:         "hui.ledger.events",
		AuditSchedule:      "@every 10m",
		MetricsNamespace:   "hui",
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.AuthMode = strings.ToLower(envOrDefault("AUTH_MODE", cfg.AuthMode))
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.PoolOwner = envOrDefault("POOL_OWNER", cfg.PoolOwner)
	cfg.MaxMembers = envInt("POOL_MAX_MEMBERS", cfg.MaxMembers)
	cfg.ContributionAmount = envOrDefault("POOL_CONTRIBUTION_AMOUNT", cfg.ContributionAmount)
	cfg.MinDeposit = envOrDefault("POOL_MIN_DEPOSIT", cfg.MinDeposit)
	cfg.TotalPeriods = envInt("POOL_TOTAL_PERIODS", cfg.TotalPeriods)
	cfg.LateThreshold = envInt("POOL_LATE_THRESHOLD", cfg.LateThreshold)
	cfg.ForfeitBps = envInt("POOL_FORFEIT_BPS", cfg.ForfeitBps)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.SnapshotTTL = time.Duration(envInt("SNAPSHOT_TTL_SECONDS", int(cfg.SnapshotTTL.Seconds()))) * time.Second
	cfg.HistoryPageLimit = envInt("HISTORY_PAGE_LIMIT", cfg.HistoryPageLimit)
	cfg.HistoryMaxLimit = envInt("HISTORY_MAX_LIMIT", cfg.HistoryMaxLimit)
	cfg.WatchBuffer = envInt("WATCH_BUFFER", cfg.WatchBuffer)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.ArchivePath = envOrDefault("ARCHIVE_PATH", cfg.ArchivePath)
	cfg.AuditSchedule = envOrDefault("AUDIT_SCHEDULE", cfg.AuditSchedule)
	cfg.MetricsNamespace = envOrDefault("METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.EmbeddedWorker = envBool("EMBEDDED_WORKER", cfg.EmbeddedWorker)
	if cfg.StorageDriver == StorageMemory {
		cfg.EmbeddedWorker = true
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Auth.Mode != "" {
		cfg.AuthMode = f.Auth.Mode
	}
	if f.Auth.Issuer != "" {
		cfg.JWTIssuer = f.Auth.Issuer
	}
	if f.Pool.Owner != "" {
		cfg.PoolOwner = f.Pool.Owner
	}
	if f.Pool.MaxMembers > 0 {
		cfg.MaxMembers = f.Pool.MaxMembers
	}
	if f.Pool.ContributionAmount != "" {
		cfg.ContributionAmount = f.Pool.ContributionAmount
	}
	if f.Pool.MinDeposit != "" {
		cfg.MinDeposit = f.Pool.MinDeposit
	}
	if f.Pool.TotalPeriods > 0 {
		cfg.TotalPeriods = f.Pool.TotalPeriods
	}
	if f.Pool.Penalty.LateThreshold > 0 {
		cfg.LateThreshold = f.Pool.Penalty.LateThreshold
	}
	if f.Pool.Penalty.ForfeitBps != nil {
		cfg.ForfeitBps = *f.Pool.Penalty.ForfeitBps
	}
	if d, err := parseDurationField("outbox.poll_interval", f.Outbox.PollInterval); err != nil {
		return err
	} else if d > 0 {
		cfg.OutboxPollInterval = d
	}
	if d, err := parseDurationField("outbox.claim_ttl", f.Outbox.ClaimTTL); err != nil {
		return err
	} else if d > 0 {
		cfg.OutboxClaimTTL = d
	}
	if f.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.MaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Outbox.MaxRetries
	}
	if f.Archive.Path != "" {
		cfg.ArchivePath = f.Archive.Path
	}
	if f.Audit.Schedule != "" {
		cfg.AuditSchedule = f.Audit.Schedule
	}
	return nil
}

func parseDurationField(name, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("storage driver postgres needs DB_URL/POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.AuthMode {
	case AuthHMAC:
		if c.JWTSecret == "" {
			return fmt.Errorf("auth mode hmac needs JWT_SECRET")
		}
	case AuthRSA:
		if c.JWTPublicKeyPEM == "" {
			return fmt.Errorf("auth mode rsa needs JWT_PUBLIC_KEY_PEM")
		}
	case AuthDev:
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}
	return nil
}

// Owner returns the configured pool owner, or false when none is set.
func (c Config) Owner() (common.Address, bool, error) {
	if strings.TrimSpace(c.PoolOwner) == "" {
		return common.Address{}, false, nil
	}
	addr, err := security.ParseAddress(c.PoolOwner)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("pool owner: %w", err)
	}
	return addr, true, nil
}

// PoolParams converts the configured deployment parameters and validates them.
func (c Config) PoolParams() (domain.Params, error) {
	contribution, err := units.ParseEther(c.ContributionAmount)
	if err != nil {
		return domain.Params{}, fmt.Errorf("pool contribution amount: %w", err)
	}
	minDeposit, err := units.ParseEther(c.MinDeposit)
	if err != nil {
		return domain.Params{}, fmt.Errorf("pool min deposit: %w", err)
	}
	params := domain.Params{
		MaxMembers:         c.MaxMembers,
		ContributionAmount: contribution,
		MinDeposit:         minDeposit,
		TotalPeriods:       c.TotalPeriods,
		Penalty: domain.PenaltyPolicy{
			LateThreshold: c.LateThreshold,
			ForfeitBps:    c.ForfeitBps,
		},
	}
	return params, params.Validate()
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
