package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/accounting"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/lock"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/reports"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

type idempotencyStore interface {
	posting.IdempotencyPort
	jobs.KeyCleaner
}

// Container holds the wired services of one process.
type Container struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	JobMetrics  *jobmetrics.Metrics
	Ledger      *accounting.Service
	Stock       *inventory.Service
	Coordinator *posting.Coordinator
	Cache       *reports.Cache
	Reports     *reports.Service
	Jobs        jobs.Set
	Seed        shared.Seed
}

// Build connects storage and wires every service according to cfg.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = NewLogger(cfg)
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	c.JobMetrics = jobmetrics.NewMetrics(c.Metrics.Registerer())

	seed, err := loadSeed(cfg)
	if err != nil {
		return nil, err
	}
	c.Seed = seed

	var (
		ledgerRepo accounting.RepositoryPort
		stockRepo  inventory.RepositoryPort
		store      posting.Store
		idem       idempotencyStore
		ledgerAud  accounting.AuditPort
		stockAud   inventory.AuditPort
	)
	switch cfg.StorageDriver {
	case StoragePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
			MaxConns:        cfg.PGMaxConns,
			MaxConnIdleTime: cfg.PGMaxIdle,
			ApplicationName: "stockledger",
		})
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		if err := db.Migrate(ctx, pool); err != nil {
			c.Close()
			return nil, err
		}
		audit := shared.NewAuditLogger(pool)
		ledgerRepo, stockRepo = accounting.NewRepository(pool), inventory.NewRepository(pool)
		store, idem = posting.NewRepository(pool), shared.NewIdempotencyStore(pool)
		ledgerAud, stockAud = audit, audit
	default:
		audit := shared.NewSlogAuditRecorder(logger)
		ledgerRepo, stockRepo = accounting.NewMemoryRepository(), inventory.NewMemoryRepository()
		store, idem = posting.NewMemoryStore(), shared.NewMemoryIdempotencyStore()
		ledgerAud, stockAud = audit, audit
	}

	if cfg.RedisEnabled {
		rdb, err := cache.New(ctx, cfg.RedisOptions())
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
		c.Cache = reports.NewCache(rdb, cfg.ReportCacheTTL)
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockDriver == LockRedis {
		locker = lock.NewRedis(c.Redis, lock.RedisConfig{TTL: cfg.LockTTL, Prefix: "stockledger:lock"})
	}

	c.Ledger = accounting.NewService(ledgerRepo, ledgerAud)
	if err := c.Ledger.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if created, err := c.Ledger.ApplySeed(ctx, seed); err != nil {
		c.Close()
		return nil, err
	} else if created > 0 {
		logger.Info("chart of accounts seeded", slog.Int("accounts", created))
	}

	var integration inventory.IntegrationHandler
	if c.Cache != nil {
		c.Ledger.WithNotifier(c.Cache)
		integration = c.Cache
	}
	c.Stock = inventory.NewService(stockRepo, stockAud, locker, integration)

	c.Coordinator = posting.NewCoordinator(c.Ledger, c.Stock, store, posting.Config{
		CommitRetries: cfg.CommitRetries,
		RetryBase:     cfg.RetryBase,
	}, logger)
	c.Coordinator.WithIdempotency(idem)
	c.Coordinator.WithLocker(locker)
	c.Coordinator.WithMetrics(posting.NewMetrics(c.Metrics.Registerer()))
	if c.Cache != nil {
		c.Coordinator.WithNotifier(c.Cache)
	}

	c.Reports = reports.NewService(c.Ledger, c.Stock, c.Cache, reports.Config{
		ExpiryWindowDays:    cfg.ExpiryWindowDays,
		DefaultReorderLevel: cfg.DefaultReorderLevel,
		ReorderLevels:       seed.ReorderLevels,
	})

	c.Jobs = jobs.Set{
		Reservations: jobs.NewReservationSweepJob(c.Stock, cfg.ReservationTTL, logger, c.JobMetrics),
		Drafts:       jobs.NewDraftSweepJob(c.Ledger, cfg.DraftTTL, logger, c.JobMetrics),
		Keys:         jobs.NewIdempotencySweepJob(idem, cfg.IdempotencyKeyTTL, logger, c.JobMetrics),
		Integrity:    jobs.NewIntegrityJob(c.Ledger, c.Stock, logger, c.JobMetrics),
		Expiry:       jobs.NewExpiryScanJob(c.Reports, logger, c.JobMetrics),
		Warmup:       jobs.NewWarmupJob(c.Reports, logger, c.JobMetrics),
	}
	return c, nil
}

// Schedule returns the periodic job intervals from configuration.
func (c *Container) Schedule() jobs.Schedule {
	return jobs.Schedule{
		ReservationSweep: c.Config.SweepInterval,
		DraftSweep:       c.Config.SweepInterval,
		IdempotencySweep: c.Config.SweepInterval,
		Integrity:        c.Config.IntegrityEvery,
		ExpiryScan:       c.Config.ExpiryScanEvery,
		Warmup:           c.Config.WarmupEvery,
	}
}

// RedisOpts returns the Asynq connection options.
func (c *Container) RedisOpts() asynq.RedisClientOpt {
	return c.Config.RedisOptions().Asynq()
}

// Close releases connections.
func (c *Container) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func loadSeed(cfg *Config) (shared.Seed, error) {
	if cfg.SeedFile == "" {
		return shared.ParseSeed([]byte(shared.DefaultSeed))
	}
	seed, err := shared.LoadSeed(cfg.SeedFile)
	if err != nil {
		return shared.Seed{}, fmt.Errorf("app: seed file: %w", err)
	}
	return seed, nil
}
