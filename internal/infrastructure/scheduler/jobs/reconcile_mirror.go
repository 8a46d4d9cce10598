package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE MIRROR JOB
// An award commits the snapshot before it writes the mirror, so a failed
// mirror write leaves the leaderboard behind. This job walks every snapshot
// and rewrites entries that drifted.
// ══════════════════════════════════════════════════════════════════════════════

// MirrorStore reads and writes leaderboard entries.
type MirrorStore interface {
	Get(ctx context.Context, userID string) (leaderboard.Entry, error)
	Upsert(ctx context.Context, e leaderboard.Entry) error
}

// ReconcileConfig tunes the walk.
type ReconcileConfig struct {
	PageSize    int
	Concurrency int
	Timeout     time.Duration
}

// DefaultReconcileConfig returns sensible defaults.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{PageSize: 100, Concurrency: 4, Timeout: 5 * time.Minute}
}

// ReconcileStats describes the last run.
type ReconcileStats struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

// ReconcileMirrorJob rewrites stale leaderboard entries from snapshots.
type ReconcileMirrorJob struct {
	snapshots progress.Repository
	mirror    MirrorStore
	config    ReconcileConfig
	logger    *slog.Logger

	last atomic.Pointer[ReconcileStats]
}

// NewReconcileMirrorJob creates the job.
func NewReconcileMirrorJob(snapshots progress.Repository, mirror MirrorStore, config ReconcileConfig, logger *slog.Logger) *ReconcileMirrorJob {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileMirrorJob{
		snapshots: snapshots,
		mirror:    mirror,
		config:    config,
		logger:    logger.With("job", "reconcile_mirror"),
	}
}

// Name returns the job name.
func (j *ReconcileMirrorJob) Name() string {
	return "reconcile_mirror"
}

// Description returns a human-readable description.
func (j *ReconcileMirrorJob) Description() string {
	return "Repairs leaderboard entries that lag behind progress snapshots"
}

// Run walks all snapshots page by page.
func (j *ReconcileMirrorJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	var scanned, repaired atomic.Int64
	for offset := 0; ; offset += j.config.PageSize {
		page, err := j.snapshots.List(ctx, offset, j.config.PageSize)
		if err != nil {
			return fmt.Errorf("list snapshots at %d: %w", offset, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.config.Concurrency)
		for _, s := range page {
			g.Go(func() error {
				scanned.Add(1)
				fixed, err := j.reconcile(gctx, s)
				if err != nil {
					return err
				}
				if fixed {
					repaired.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if len(page) < j.config.PageSize {
			break
		}
	}

	stats := &ReconcileStats{Scanned: int(scanned.Load()), Repaired: int(repaired.Load())}
	j.last.Store(stats)
	j.logger.Info("mirror reconciled", "scanned", stats.Scanned, "repaired", stats.Repaired)
	return nil
}

func (j *ReconcileMirrorJob) reconcile(ctx context.Context, s *progress.Snapshot) (bool, error) {
	want := leaderboard.Entry{
		UserID:      s.UserID,
		Username:    s.Username,
		XP:          s.XP,
		StreakDays:  s.StreakDays,
		LastUpdated: s.UpdatedAt,
	}

	have, err := j.mirror.Get(ctx, s.UserID)
	if err == nil && have.XP == want.XP && have.StreakDays == want.StreakDays && have.Username == want.Username {
		return false, nil
	}

	err = j.mirror.Upsert(ctx, want)
	if errors.Is(err, shared.ErrStaleEntry) {
		// an award landed after this page was read
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", s.UserID, err)
	}
	j.logger.Debug("mirror entry repaired", "user_id", s.UserID, "xp", want.XP)
	return true, nil
}

// LastStats returns the stats of the most recent run, or nil.
func (j *ReconcileMirrorJob) LastStats() *ReconcileStats {
	return j.last.Load()
}
