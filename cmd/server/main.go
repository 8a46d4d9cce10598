// Package main is the entry point of the ClassQuest API server.
//
// The server owns the award engine, the leaderboard mirror, the per-learner
// popup queues and the background jobs that keep the mirror and its cache
// honest. Postgres is optional in development: without DATABASE_URL every
// store lives in process memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classquest/classquest/config"
	"github.com/classquest/classquest/internal/application/command"
	"github.com/classquest/classquest/internal/application/eventhandler"
	"github.com/classquest/classquest/internal/application/query"
	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/infrastructure/messaging"
	"github.com/classquest/classquest/internal/infrastructure/metrics"
	"github.com/classquest/classquest/internal/infrastructure/persistence/memory"
	"github.com/classquest/classquest/internal/infrastructure/persistence/postgres"
	"github.com/classquest/classquest/internal/infrastructure/persistence/redis"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
	"github.com/classquest/classquest/internal/infrastructure/scheduler/jobs"
	"github.com/classquest/classquest/internal/infrastructure/service"
	httpserver "github.com/classquest/classquest/internal/interface/http"
	"github.com/classquest/classquest/internal/interface/http/handlers"
	"github.com/classquest/classquest/pkg/circuitbreaker"
	"github.com/classquest/classquest/pkg/logger"
	"github.com/classquest/classquest/pkg/retry"
	"github.com/classquest/classquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddSource: cfg.Observability.AddSource,
	}).With(logger.String("service", cfg.App.Name))
	slogger := log.Slog()

	log.Info("starting ClassQuest API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE (Postgres, or process memory in development)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		progressRepo progress.Repository
		mirrorRepo   leaderboard.Repository
		dbConn       *postgres.Connection
	)

	if cfg.UseMemoryStorage() {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		progressRepo = memory.NewProgressRepository()
		mirrorRepo = memory.NewLeaderboardRepository()
	} else {
		log.Info("connecting to database...")
		dbConn, err = connectPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		if cfg.Database.AutoMigrate {
			if err := migrate(ctx, dbConn, log); err != nil {
				return err
			}
		}

		progressRepo = postgres.NewProgressRepository(dbConn)
		mirrorRepo = postgres.NewLeaderboardRepository(dbConn)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (leaderboard cache + cross-instance change feed, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache *redis.Cache
		lbCache    leaderboard.Cache
		feed       progress.ChangeFeed = memory.NewChangeFeed(16)
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...", logger.String("addr", cfg.Redis.Addr()))
		redisCache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("failed to connect to Redis, falling back to in-process feed", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			feed = redis.NewChangeFeed(redisCache, slogger)
			if cfg.Features.Enabled(config.FeatureLeaderboardRedisCache) {
				lbCache = redis.NewLeaderboardCache(redisCache)
			}
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS & POPUPS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode: true,
		Logger:    slogger,
	})
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	var recorder *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		recorder = metrics.New()
		if err := recorder.Register(bus); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	catalog := badge.Default()
	popups := service.NewPopupService(service.PopupOptions{
		Catalog:         catalog,
		DisplayDuration: cfg.Gamification.PopupDisplayDuration,
		Cooldown:        cfg.Gamification.PopupCooldown,
		Buffer:          cfg.Gamification.PopupBuffer,
		Logger:          slogger,
	})
	defer popups.Close()

	if cfg.Features.Enabled(config.FeatureNotifyBadgePopups) {
		if err := eventhandler.NewOnBadgeEarnedHandler(popups, slogger).Register(bus); err != nil {
			return fmt.Errorf("register popup handler: %w", err)
		}
	}
	if cfg.Features.Enabled(config.FeatureAuditEvents) {
		if err := eventhandler.NewAuditLogHandler(slogger).Register(bus); err != nil {
			return fmt.Errorf("register audit handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	mirror := service.NewLeaderboardService(mirrorRepo, lbCache, cfg.Gamification.LeaderboardCacheTTL, slogger).
		WithCacheBreaker(circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}, circuitbreaker.WithIsFailure(redis.IsOutage)))

	engine := command.NewEngine(command.Deps{
		Progress: progressRepo,
		Mirror:   mirror,
		Feed:     feed,
		Catalog:  catalog,
		Events:   bus,
		Clock:    timeutil.SystemClock{},
		Logger:   log,
	})

	subscribeRetrier := retry.New(
		retry.WithMaxAttempts(cfg.Gamification.SubscribeMaxAttempts),
		retry.WithInitialDelay(cfg.Gamification.SubscribeInitialDelay),
		retry.WithMaxDelay(cfg.Gamification.SubscribeMaxDelay),
		retry.WithJitter(0.2),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("progress feed dropped, reconnecting",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.SchedulerConfig{
		Logger:   slogger,
		Timezone: cfg.App.Location,
	}
	if recorder != nil {
		schedConfig.OnResult = func(r scheduler.JobResult) {
			recorder.ObserveJob(r.JobName, r.Duration, r.Success)
		}
	}
	sched := scheduler.NewScheduler(schedConfig)
	jobSet := jobs.Set{
		Snapshots: progressRepo,
		Mirror:    mirror,
		Popups:    popups,
		Logger:    slogger,
	}
	if mirror.CacheEnabled() {
		jobSet.Cache = mirror
	}
	if err := jobs.Register(sched, jobSet, jobSchedules(cfg.Scheduler)); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if dbConn != nil {
		health.AddCheck("postgres", handlers.PingCheck(dbConn))
	}
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.PingCheck(redisCache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.AllowedOrigins = cfg.HTTP.CORSOrigins
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpConfig.APIKeyHashes = cfg.HTTP.APIKeyHashes
	httpConfig.Version = cfg.App.Version

	var jobRunner httpserver.JobRunner
	if cfg.Scheduler.Enabled {
		jobRunner = sched
	}
	var metricsRecorder httpserver.MetricsRecorder
	if recorder != nil {
		metricsRecorder = recorder
	}

	server := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		Award:             command.NewAwardHandler(engine),
		TrackLesson:       command.NewTrackLessonHandler(engine),
		TrackQuiz:         command.NewTrackQuizHandler(engine),
		TrackMiniGame:     command.NewTrackMiniGameHandler(engine),
		TrackEngagement:   command.NewTrackEngagementHandler(engine),
		GetProgress:       query.NewGetProgressHandler(progressRepo, catalog),
		GetLeaderboard:    query.NewGetLeaderboardHandler(mirror),
		GetUserRank:       query.NewGetUserRankHandler(mirror),
		Badges:            query.NewBadgeQueries(catalog),
		SubscribeProgress: query.NewSubscribeProgressHandler(progressRepo, feed, subscribeRetrier, slogger),
		Popups:            popups,
		Jobs:              jobRunner,
		Features:          cfg.Features,
		HealthChecker:     health,
		Metrics:           metricsRecorder,
		Logger:            log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. RUN UNTIL SIGNAL
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx, cfg.App.ShutdownTimeout)
	})
	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	log.Info("ClassQuest API is running",
		logger.String("http_address", httpConfig.Address()),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
		logger.Bool("redis", redisCache != nil),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service error", logger.Err(err))
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func connectPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	opts := postgres.DefaultPoolOptions()
	opts.MaxConns = int32(cfg.Database.MaxConns)
	opts.MinConns = int32(cfg.Database.MinConns)
	opts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	opts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	var conn *postgres.Connection
	retrier := retry.DatabaseRetrier(retry.WithRetryIf(postgres.IsTransientConnectError))
	err := retrier.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.Connect(ctx, cfg.Database.URL, opts)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func migrate(ctx context.Context, conn *postgres.Connection, log *logger.Logger) error {
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", logger.Err(err))
		return nil
	}
	applied := 0
	for _, m := range status {
		if m.IsApplied {
			applied++
		}
	}
	log.Info("migrations completed", logger.Int("applied", applied), logger.Int("total", len(status)))
	return nil
}

func jobSchedules(c config.SchedulerConfig) jobs.Schedules {
	return jobs.Schedules{
		RebuildLeaderboard: c.RebuildLeaderboardSchedule,
		ReconcileMirror:    c.ReconcileMirrorSchedule,
		SweepPopups:        c.SweepPopupsSchedule,
		Reconcile: jobs.ReconcileConfig{
			PageSize:    c.ReconcilePageSize,
			Concurrency: c.ReconcileConcurrency,
			Timeout:     c.JobTimeout,
		},
		Timeout: c.JobTimeout,
	}
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Addr = c.Addr()
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}
