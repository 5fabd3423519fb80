// Package app wires the engine's components from configuration. Both the API
// server and the worker build on the same Container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/config"
	"github.com/dnflvus-wq/engTest/internal/application/command"
	"github.com/dnflvus-wq/engTest/internal/application/eventhandler"
	"github.com/dnflvus-wq/engTest/internal/application/query"
	"github.com/dnflvus-wq/engTest/internal/application/saga"
	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/badge"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/catalog"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/messaging"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/memory"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/postgres"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/redis"
	apihttp "github.com/dnflvus-wq/engTest/internal/interface/http"
	"github.com/dnflvus-wq/engTest/internal/interface/http/handlers"
	"github.com/dnflvus-wq/engTest/pkg/circuitbreaker"
	"github.com/dnflvus-wq/engTest/pkg/logger"
	"github.com/dnflvus-wq/engTest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// ActivitySource is everything the engine reads about user activity.
type ActivitySource interface {
	achievement.MetricsProvider
	achievement.ActionCounter
	ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error)
}

// Storage groups the repositories of one backend.
type Storage struct {
	Unlocks  achievement.UnlockRepository
	Progress achievement.ProgressRepository
	Badges   badge.Repository
	Activity ActivitySource

	// Locker serialises badge slot changes.
	Locker command.UserLocker

	// Summaries is nil when Redis is disabled.
	Summaries query.SummaryCache
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Container holds the wired engine.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Catalog *catalog.Catalog
	Storage Storage

	EventBus *messaging.InMemoryEventBus
	Queue    *messaging.EvaluationQueue
	Flow     *saga.EvaluationFlowSaga
	Registry *command.BadgeRegistry
	Health   *handlers.CompositeHealthChecker

	closers []func()
}

// Build connects the configured backends and wires every component. The
// evaluation queue is created but not started.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Default()
	}
	c := &Container{
		Config: cfg,
		Logger: log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	cat, err := catalog.Load(cfg.Engine.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	c.Catalog = cat
	log.Info("catalog loaded",
		logger.String("version", cat.Version()),
		logger.Int("achievements", cat.Len()),
		logger.Int("badges", len(cat.Badges())),
	)

	if err := c.buildStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.buildEngine(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	cfg := c.Config
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database), c.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closers = append(c.closers, conn.Close)
		c.Health.AddCheck("postgres", handlers.PingCheck(conn))

		if cfg.Storage.Migrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		metrics := postgres.NewMetricsProvider(conn)
		c.Storage = Storage{
			Unlocks:  postgres.NewUnlockRepository(conn),
			Progress: postgres.NewProgressRepository(conn),
			Badges:   postgres.NewBadgeRepository(conn),
			Activity: metrics,
			Locker:   memory.NewKeyedLocker(),
		}

	default:
		unlocks := memory.NewUnlockStore()
		activity := memory.NewActivityStore(unlocks)
		c.Storage = Storage{
			Unlocks:  unlocks,
			Progress: memory.NewProgressStore(),
			Badges:   memory.NewBadgeStore(),
			Activity: activity,
			Locker:   memory.NewKeyedLocker(),
		}
		c.Logger.Warn("using in-memory storage, data is lost on restart")

		if cfg.Storage.SeedPath == "" {
			c.Logger.Warn("no STORAGE_SEED_PATH set, only tracked actions feed the memory store")
			break
		}
		seed, err := memory.LoadSeed(cfg.Storage.SeedPath)
		if err != nil {
			return fmt.Errorf("failed to load activity seed: %w", err)
		}
		c.Logger.Info("activity seed loaded",
			logger.String("path", cfg.Storage.SeedPath),
			logger.Int("users", activity.Apply(seed)),
		)
	}

	if !cfg.Redis.Enabled {
		return nil
	}

	var cache *redis.Cache
	err := retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		var err error
		cache, err = redis.NewCache(ctx, redisConfig(cfg.Redis))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.closers = append(c.closers, func() { _ = cache.Close() })
	c.Health.AddCheck("redis", handlers.PingCheck(cache))

	breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
		c.Logger.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	c.Storage.Summaries = redis.NewSummaryCache(cache).WithBreaker(breaker)
	c.Storage.Locker = redis.NewLocker(cache, redis.LockerConfig{
		TTL:    cfg.Redis.LockTTL,
		Wait:   cfg.Engine.LockTimeout,
		Logger: c.Logger,
	})
	if cfg.Redis.ProgressCache {
		c.Storage.Progress = redis.NewProgressCache(cache)
	}
	return nil
}

func (c *Container) buildEngine() error {
	cfg := c.Config

	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.WorkerPoolSize = cfg.Engine.EventBusWorkers
	busConfig.Logger = c.Logger
	c.EventBus = messaging.NewInMemoryEventBus(busConfig)

	var summary *eventhandler.OnSummaryChangedHandler
	if c.Storage.Summaries != nil {
		summary = eventhandler.NewOnSummaryChangedHandler(c.Storage.Summaries, c.Logger, eventhandler.DefaultSummaryChangedConfig())
	}
	if err := eventhandler.Subscribe(c.EventBus, summary, eventhandler.NewAuditLogHandler(c.Logger)); err != nil {
		return fmt.Errorf("failed to subscribe event handlers: %w", err)
	}

	evaluator := achievement.NewEvaluator(c.Storage.Activity, c.Catalog)
	defs, _ := c.Catalog.Definitions(context.Background())
	if missing := evaluator.Unsupported(defs); len(missing) > 0 {
		c.Logger.Warn("achievements without a derivation are never unlocked",
			logger.Strings("achievement_ids", missing),
		)
	}

	c.Registry = command.NewBadgeRegistry(
		c.Storage.Badges,
		c.Storage.Locker,
		c.EventBus,
		c.Logger,
		command.BadgeRegistryConfig{LockTimeout: cfg.Engine.LockTimeout},
	)

	var gate saga.CategoryGate
	if cfg.Features != nil {
		gate = cfg.Features
	}
	c.Flow = saga.NewEvaluationFlowSaga(
		c.Catalog,
		c.Storage.Unlocks,
		evaluator,
		command.NewUpdateProgressHandler(c.Storage.Progress),
		command.NewUnlockAchievementHandler(c.Storage.Unlocks, c.Registry, c.EventBus, c.Logger),
		gate,
		c.EventBus,
		c.Logger,
		saga.EvaluationFlowConfig{UpdateProgress: true, RunTimeout: cfg.Engine.JobTimeout},
	)

	c.Queue = messaging.NewEvaluationQueue(c.Flow, messaging.EvaluationQueueConfig{
		Workers:    cfg.Engine.Workers,
		QueueSize:  cfg.Engine.QueueSize,
		JobTimeout: cfg.Engine.JobTimeout,
		Logger:     c.Logger,
	})
	c.Health.AddCheck("evaluation_queue", func(context.Context) error {
		if pending := c.Queue.Len(); cfg.Engine.QueueSize > 0 && pending >= cfg.Engine.QueueSize {
			return fmt.Errorf("evaluation queue saturated: %d pending", pending)
		}
		return nil
	})
	return nil
}

// HTTPDependencies builds the handlers the API server calls into.
func (c *Container) HTTPDependencies() apihttp.Dependencies {
	return apihttp.Dependencies{
		Achievements: query.NewGetAchievementsHandler(c.Catalog, c.Storage.Unlocks, c.Storage.Progress, c.Logger),
		Unnotified:   query.NewGetUnnotifiedHandler(c.Storage.Unlocks, c.Catalog),
		Summary:      query.NewGetSummaryHandler(c.Catalog, c.Storage.Unlocks, c.Storage.Badges, c.Storage.Summaries),
		Badges:       query.NewGetBadgesHandler(c.Storage.Badges, c.Catalog),

		MarkNotified: command.NewMarkNotifiedHandler(c.Storage.Unlocks, c.EventBus),
		BadgeSlots:   c.Registry,
		TrackAction:  command.NewTrackActionHandler(c.Storage.Activity, c.Queue, c.EventBus, c.Logger),

		Queue:         c.Queue,
		HealthChecker: c.Health,
		Logger:        c.Logger,
	}
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	if c.EventBus != nil {
		_ = c.EventBus.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process logger from the observability section.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}

// HTTPConfig maps the http section onto the server configuration.
func HTTPConfig(cfg *config.Config) apihttp.Config {
	hc := apihttp.DefaultConfig()
	hc.Addr = cfg.HTTP.Addr
	if cfg.HTTP.ReadTimeout > 0 {
		hc.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		hc.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	if cfg.HTTP.IdleTimeout > 0 {
		hc.IdleTimeout = cfg.HTTP.IdleTimeout
	}
	if cfg.HTTP.RequestTimeout > 0 {
		hc.RequestTimeout = cfg.HTTP.RequestTimeout
	}
	hc.Version = cfg.App.Version
	return hc
}

func postgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = db.URL
	pc.Host = db.Host
	pc.Port = db.Port
	pc.Database = db.Name
	pc.User = db.User
	pc.Password = db.Password
	pc.SSLMode = db.SSLMode
	pc.MaxConns = int32(db.MaxConns)
	pc.MinConns = int32(db.MinConns)
	pc.MaxConnLifetime = db.ConnMaxLifetime
	pc.MaxConnIdleTime = db.ConnMaxIdleTime
	pc.ConnectTimeout = db.ConnectTimeout
	return pc
}

func redisConfig(rc config.RedisConfig) redis.Config {
	c := redis.DefaultConfig()
	c.Host = rc.Host
	c.Port = rc.Port
	c.Password = rc.Password
	c.DB = rc.DB
	c.PoolSize = rc.PoolSize
	c.MinIdleConns = rc.MinIdleConns
	c.DialTimeout = rc.DialTimeout
	c.ReadTimeout = rc.ReadTimeout
	c.WriteTimeout = rc.WriteTimeout
	if rc.SummaryTTL > 0 {
		c.SummaryTTL = rc.SummaryTTL
	}
	return c
}
