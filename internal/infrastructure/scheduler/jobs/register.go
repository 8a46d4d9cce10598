package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
)

// SweepPopupsJobName is the name of the idle popup queue sweeper.
const SweepPopupsJobName = "sweep_popups"

// PopupSweeper drops idle popup queues.
type PopupSweeper interface {
	Sweep() int
}

// Set lists the collaborators of the standard jobs. Nil members skip the
// jobs that need them.
type Set struct {
	Snapshots progress.Repository
	Mirror    MirrorStore
	Cache     CacheRebuilder
	Popups    PopupSweeper
	Logger    *slog.Logger
}

// Schedules holds the schedule spec of each job. Empty specs skip the job.
type Schedules struct {
	RebuildLeaderboard string
	ReconcileMirror    string
	SweepPopups        string

	Reconcile ReconcileConfig
	Timeout   time.Duration
}

// Register adds the standard jobs to s.
func Register(s *scheduler.Scheduler, set Set, sched Schedules) error {
	if set.Logger == nil {
		set.Logger = slog.Default()
	}

	add := func(job scheduler.Job, spec string) error {
		if spec == "" {
			return nil
		}
		schedule, err := scheduler.ParseSchedule(spec)
		if err != nil {
			return fmt.Errorf("%s: %w", job.Name(), err)
		}
		return s.Register(job, schedule)
	}

	if set.Cache != nil {
		if err := add(NewRebuildLeaderboardJob(set.Cache, sched.Timeout, set.Logger), sched.RebuildLeaderboard); err != nil {
			return err
		}
	}

	if set.Snapshots != nil && set.Mirror != nil {
		job := NewReconcileMirrorJob(set.Snapshots, set.Mirror, sched.Reconcile, set.Logger)
		if err := add(job, sched.ReconcileMirror); err != nil {
			return err
		}
	}

	if set.Popups != nil {
		popups, logger := set.Popups, set.Logger
		sweep := scheduler.JobFunc{
			JobName: SweepPopupsJobName,
			Desc:    "Drops idle popup queues of disconnected learners",
			Fn: func(ctx context.Context) error {
				if n := popups.Sweep(); n > 0 {
					logger.Debug("popup queues swept", "removed", n)
				}
				return nil
			},
		}
		if err := add(sweep, sched.SweepPopups); err != nil {
			return err
		}
	}

	return nil
}
