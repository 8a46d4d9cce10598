// Package jobs contains the scheduled jobs run by the worker and server.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD CACHE JOB
// ══════════════════════════════════════════════════════════════════════════════

// CacheRebuilder reloads the leaderboard cache from the durable store.
type CacheRebuilder interface {
	RebuildCache(ctx context.Context) (int, error)
}

// RebuildStats describes the last run.
type RebuildStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Entries   int           `json:"entries"`
	Error     string        `json:"error,omitempty"`
}

// RebuildLeaderboardJob replaces the Redis leaderboard with the Postgres
// mirror so that missed cache writes heal and the cache TTL never lapses.
type RebuildLeaderboardJob struct {
	rebuilder CacheRebuilder
	timeout   time.Duration
	logger    *slog.Logger

	last atomic.Pointer[RebuildStats]
}

// NewRebuildLeaderboardJob creates the job. timeout <= 0 means no limit.
func NewRebuildLeaderboardJob(rebuilder CacheRebuilder, timeout time.Duration, logger *slog.Logger) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardJob{
		rebuilder: rebuilder,
		timeout:   timeout,
		logger:    logger.With("job", "rebuild_leaderboard"),
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Reloads the leaderboard cache from the database mirror"
}

// Run executes the rebuild.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	stats := &RebuildStats{StartedAt: time.Now()}
	n, err := j.rebuilder.RebuildCache(ctx)
	stats.Duration = time.Since(stats.StartedAt)
	stats.Entries = n
	if err != nil {
		stats.Error = err.Error()
	}
	j.last.Store(stats)

	if err != nil {
		return fmt.Errorf("rebuild leaderboard cache: %w", err)
	}
	j.logger.Info("leaderboard cache rebuilt", "entries", n, "duration", stats.Duration.String())
	return nil
}

// LastStats returns the stats of the most recent run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.last.Load()
}
