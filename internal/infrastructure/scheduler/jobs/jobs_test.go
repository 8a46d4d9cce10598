package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/infrastructure/persistence/memory"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
)

type fakeRebuilder struct {
	n   int
	err error
}

func (f fakeRebuilder) RebuildCache(context.Context) (int, error) { return f.n, f.err }

func TestRebuildLeaderboardJob_RecordsStats(t *testing.T) {
	job := NewRebuildLeaderboardJob(fakeRebuilder{n: 7}, 0, nil)
	assert.Nil(t, job.LastStats())

	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 7, stats.Entries)
	assert.Empty(t, stats.Error)
}

func TestRebuildLeaderboardJob_WrapsError(t *testing.T) {
	boom := errors.New("redis down")
	job := NewRebuildLeaderboardJob(fakeRebuilder{err: boom}, 0, nil)

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "redis down", job.LastStats().Error)
}

func seedSnapshots(repo *memory.ProgressRepository, n int) {
	for i := 0; i < n; i++ {
		s := progress.NewSnapshot(fmt.Sprintf("u%03d", i))
		s.Username = fmt.Sprintf("user%03d", i)
		s.XP = i * 10
		s.StreakDays = i % 3
		repo.Put(s)
	}
}

func TestReconcileMirrorJob_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	snapshots := memory.NewProgressRepository()
	mirror := memory.NewLeaderboardRepository()
	seedSnapshots(snapshots, 25)

	// u001 is current, u002 lags behind, everything else is missing.
	require.NoError(t, mirror.Upsert(ctx, leaderboard.Entry{UserID: "u001", Username: "user001", XP: 10, StreakDays: 1}))
	require.NoError(t, mirror.Upsert(ctx, leaderboard.Entry{UserID: "u002", Username: "user002", XP: 5, StreakDays: 2}))

	job := NewReconcileMirrorJob(snapshots, mirror, ReconcileConfig{PageSize: 10, Concurrency: 3}, nil)
	require.NoError(t, job.Run(ctx))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 25, stats.Scanned)
	assert.Equal(t, 24, stats.Repaired)

	all, err := mirror.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 25)

	e, err := mirror.Get(ctx, "u002")
	require.NoError(t, err)
	assert.Equal(t, 20, e.XP)
}

func TestReconcileMirrorJob_SecondRunIsNoop(t *testing.T) {
	ctx := context.Background()
	snapshots := memory.NewProgressRepository()
	mirror := memory.NewLeaderboardRepository()
	seedSnapshots(snapshots, 5)

	job := NewReconcileMirrorJob(snapshots, mirror, DefaultReconcileConfig(), nil)
	require.NoError(t, job.Run(ctx))
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 0, job.LastStats().Repaired)
}

func TestReconcileMirrorJob_KeepsNewerMirrorEntry(t *testing.T) {
	ctx := context.Background()
	snapshots := memory.NewProgressRepository()
	mirror := memory.NewLeaderboardRepository()

	s := progress.NewSnapshot("u1")
	s.XP = 30
	s.Touch(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	snapshots.Put(s)

	// an award committed after the page was read and already mirrored
	require.NoError(t, mirror.Upsert(ctx, leaderboard.Entry{UserID: "u1", XP: 70, LastUpdated: s.UpdatedAt.Add(time.Second)}))

	job := NewReconcileMirrorJob(snapshots, mirror, DefaultReconcileConfig(), nil)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 0, job.LastStats().Repaired)

	e, err := mirror.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70, e.XP)
}

func TestReconcileMirrorJob_PropagatesUpsertFailure(t *testing.T) {
	snapshots := memory.NewProgressRepository()
	mirror := memory.NewLeaderboardRepository()
	mirror.FailUpserts = errors.New("mirror offline")
	seedSnapshots(snapshots, 3)

	job := NewReconcileMirrorJob(snapshots, mirror, DefaultReconcileConfig(), nil)
	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "mirror offline")
	assert.Nil(t, job.LastStats())
}

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() int { c.calls++; return 0 }

func TestRegister(t *testing.T) {
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{})
	sweeper := &countingSweeper{}

	err := Register(s, Set{
		Snapshots: memory.NewProgressRepository(),
		Mirror:    memory.NewLeaderboardRepository(),
		Popups:    sweeper,
	}, Schedules{
		RebuildLeaderboard: "@every 5m",
		ReconcileMirror:    "0 3 * * *",
		SweepPopups:        "@every 1m",
	})
	require.NoError(t, err)

	var names []string
	for _, j := range s.ListJobs() {
		names = append(names, j.Name)
	}
	// no cache, no rebuild job
	assert.Equal(t, []string{"reconcile_mirror", SweepPopupsJobName}, names)

	res, err := s.RunNow(context.Background(), SweepPopupsJobName)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, sweeper.calls)
}

func TestRegister_BadSchedule(t *testing.T) {
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{})
	err := Register(s, Set{Cache: fakeRebuilder{}}, Schedules{RebuildLeaderboard: "every so often"})
	assert.ErrorContains(t, err, "rebuild_leaderboard")
}
