// Package main is the ClassQuest worker: schema migrations, one-off
// maintenance commands and a standalone scheduler loop for deployments that
// keep background jobs out of the API process.
//
//	classquest-worker migrate [--status | --rollback]
//	classquest-worker rebuild-cache
//	classquest-worker reconcile
//	classquest-worker run
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/classquest/classquest/config"
	"github.com/classquest/classquest/internal/infrastructure/persistence/postgres"
	"github.com/classquest/classquest/internal/infrastructure/persistence/redis"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
	"github.com/classquest/classquest/internal/infrastructure/scheduler/jobs"
	"github.com/classquest/classquest/internal/infrastructure/service"
	"github.com/classquest/classquest/pkg/logger"
	"github.com/classquest/classquest/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

type rootOptions struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "classquest-worker",
		Short:         "Background jobs and maintenance for ClassQuest",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newRebuildCacheCommand(opts),
		newReconcileCommand(opts),
		newRunCommand(opts),
	)
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var status, rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status && rollback {
				return errors.New("--status and --rollback are mutually exclusive")
			}
			env, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer env.close()

			migrator := postgres.NewMigrator(env.db)
			switch {
			case rollback:
				if err := migrator.Rollback(cmd.Context()); err != nil {
					return fmt.Errorf("rollback: %w", err)
				}
				env.log.Info("rolled back latest migration")
			case !status:
				if err := migrator.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				env.log.Info("migrations applied")
			}

			migrations, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
			for _, m := range migrations {
				applied := "no"
				if m.IsApplied {
					applied = m.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only print migration status")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the latest applied migration")
	return cmd
}

func newRebuildCacheCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cache",
		Short: "Reload the Redis leaderboard cache from the database mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer env.close()

			if !env.mirror.CacheEnabled() {
				return errors.New("leaderboard cache is disabled (REDIS_DISABLED or feature flag off)")
			}
			job := jobs.NewRebuildLeaderboardJob(env.mirror, env.cfg.Scheduler.JobTimeout, env.log.Slog())
			if err := job.Run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d entries\n", job.LastStats().Entries)
			return nil
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rewrite leaderboard entries that drifted from progress snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer env.close()

			sched := jobSchedules(env.cfg.Scheduler)
			job := jobs.NewReconcileMirrorJob(env.snapshots, env.mirror, sched.Reconcile, env.log.Slog())
			if err := job.Run(cmd.Context()); err != nil {
				return err
			}
			stats := job.LastStats()
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, repaired %d\n", stats.Scanned, stats.Repaired)
			return nil
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the job scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer env.close()

			slogger := env.log.Slog()
			sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
				Logger:   slogger,
				Timezone: env.cfg.App.Location,
			})
			set := jobs.Set{
				Snapshots: env.snapshots,
				Mirror:    env.mirror,
				Logger:    slogger,
			}
			if env.mirror.CacheEnabled() {
				set.Cache = env.mirror
			}
			if err := jobs.Register(sched, set, jobSchedules(env.cfg.Scheduler)); err != nil {
				return fmt.Errorf("register jobs: %w", err)
			}

			for _, info := range sched.ListJobs() {
				env.log.Info("job scheduled",
					logger.String("job", info.Name),
					logger.String("schedule", info.Schedule),
				)
			}

			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}
			env.log.Info("worker stopped")
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVIRONMENT
// ══════════════════════════════════════════════════════════════════════════════

// workerEnv holds the connections one command needs.
type workerEnv struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *postgres.Connection
	cache     *redis.Cache
	snapshots *postgres.ProgressRepository
	mirror    *service.LeaderboardService
}

func (e *workerEnv) close() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

// setup loads config and connects to Postgres. withRedis also opens the
// leaderboard cache when Redis is configured.
func setup(ctx context.Context, opts *rootOptions, withRedis bool) (*workerEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.UseMemoryStorage() {
		return nil, errors.New("the worker needs DATABASE_URL or DB_HOST")
	}

	level := cfg.Observability.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(level),
		AddSource: cfg.Observability.AddSource,
	}).With(logger.String("service", cfg.App.Name+"-worker"))

	env := &workerEnv{cfg: cfg, log: log}

	dbOpts := postgres.DefaultPoolOptions()
	dbOpts.MaxConns = int32(cfg.Database.MaxConns)
	dbOpts.MinConns = int32(cfg.Database.MinConns)
	retrier := retry.DatabaseRetrier(retry.WithRetryIf(postgres.IsTransientConnectError))
	err = retrier.Do(ctx, func(ctx context.Context) error {
		conn, err := postgres.Connect(ctx, cfg.Database.URL, dbOpts)
		if err != nil {
			return err
		}
		env.db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	env.snapshots = postgres.NewProgressRepository(env.db)

	var lbCache *redis.LeaderboardCache
	if withRedis && !cfg.Redis.Disabled && cfg.Features.Enabled(config.FeatureLeaderboardRedisCache) {
		env.cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, cache jobs skipped", logger.Err(err))
			env.cache = nil
		} else {
			lbCache = redis.NewLeaderboardCache(env.cache)
		}
	}

	mirrorRepo := postgres.NewLeaderboardRepository(env.db)
	if lbCache != nil {
		env.mirror = service.NewLeaderboardService(mirrorRepo, lbCache, cfg.Gamification.LeaderboardCacheTTL, log.Slog())
	} else {
		env.mirror = service.NewLeaderboardService(mirrorRepo, nil, 0, log.Slog())
	}
	return env, nil
}

func jobSchedules(c config.SchedulerConfig) jobs.Schedules {
	return jobs.Schedules{
		RebuildLeaderboard: c.RebuildLeaderboardSchedule,
		ReconcileMirror:    c.ReconcileMirrorSchedule,
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
