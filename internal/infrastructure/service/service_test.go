package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/notification"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/internal/infrastructure/persistence/memory"
	"github.com/classquest/classquest/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// fakeCache is a leaderboard.Cache held in memory.
type fakeCache struct {
	entries []leaderboard.Entry
	built   bool
	readErr error
	putErr  error
	reads   int
}

func (c *fakeCache) Put(_ context.Context, e leaderboard.Entry) error {
	if c.putErr != nil {
		return c.putErr
	}
	for i := range c.entries {
		if c.entries[i].UserID == e.UserID {
			c.entries[i] = e
			return nil
		}
	}
	c.entries = append(c.entries, e)
	return nil
}

func (c *fakeCache) Top(_ context.Context, limit int) ([]leaderboard.Entry, bool, error) {
	c.reads++
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	if !c.built {
		return nil, false, nil
	}
	out := append([]leaderboard.Entry(nil), c.entries...)
	leaderboard.Sort(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, true, nil
}

func (c *fakeCache) Replace(_ context.Context, entries []leaderboard.Entry, _ time.Duration) error {
	c.entries = append([]leaderboard.Entry(nil), entries...)
	c.built = true
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.entries, c.built = nil, false
	return nil
}

func seed(t *testing.T, svc *LeaderboardService) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []leaderboard.Entry{
		{UserID: "u1", Username: "amy", XP: 120},
		{UserID: "u2", Username: "bob", XP: 20},
		{UserID: "u3", Username: "cat", XP: 120},
		{UserID: "u4", Username: "dan", XP: 500},
	} {
		require.NoError(t, svc.Upsert(ctx, e))
	}
}

func usernames(entries []leaderboard.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Username
	}
	return out
}

func TestLeaderboardService_WithoutCache(t *testing.T) {
	svc := NewLeaderboardService(memory.NewLeaderboardRepository(), nil, 0, nil)
	seed(t, svc)

	top, err := svc.Top(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"dan", "amy", "cat"}, usernames(top))

	n, err := svc.RebuildCache(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, svc.CacheEnabled())
}

func TestLeaderboardService_MissFallsBackThenRebuildServes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewLeaderboardRepository()
	cache := &fakeCache{}
	svc := NewLeaderboardService(repo, cache, time.Minute, nil)
	seed(t, svc)

	top, err := svc.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dan", "amy", "cat", "bob"}, usernames(top))

	n, err := svc.RebuildCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Changes after the rebuild reach the cache through Upsert.
	require.NoError(t, svc.Upsert(ctx, leaderboard.Entry{UserID: "u2", Username: "bob", XP: 900}))
	top, err = svc.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "dan"}, usernames(top))
	assert.Equal(t, 2, cache.reads)
}

func TestLeaderboardService_CacheErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{readErr: errors.New("redis down"), putErr: errors.New("redis down")}
	svc := NewLeaderboardService(memory.NewLeaderboardRepository(), cache, time.Minute, nil)
	seed(t, svc)

	top, err := svc.Top(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dan"}, usernames(top))
}

func TestLeaderboardService_BreakerSkipsDeadCache(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{readErr: errors.New("redis down")}
	cb := circuitbreaker.New("test-cache", circuitbreaker.WithFailureThreshold(2))
	svc := NewLeaderboardService(memory.NewLeaderboardRepository(), cache, time.Minute, nil).WithCacheBreaker(cb)
	seed(t, svc)

	for i := 0; i < 4; i++ {
		top, err := svc.Top(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"dan"}, usernames(top))
	}
	// two failed reads opened the breaker, later reads never hit the cache
	assert.Equal(t, 2, cache.reads)
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestLeaderboardService_RepositoryErrorPropagates(t *testing.T) {
	repo := memory.NewLeaderboardRepository()
	repo.FailUpserts = errors.New("db down")
	svc := NewLeaderboardService(repo, &fakeCache{}, time.Minute, nil)

	err := svc.Upsert(context.Background(), leaderboard.Entry{UserID: "u1", XP: 1})
	assert.EqualError(t, err, "db down")
}

func TestLeaderboardService_Position(t *testing.T) {
	svc := NewLeaderboardService(memory.NewLeaderboardRepository(), nil, 0, nil)
	seed(t, svc)

	rank, err := svc.Position(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(3), rank)

	_, err = svc.Position(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// POPUP SERVICE
// ══════════════════════════════════════════════════════════════════════════════

func newPopups() (*PopupService, *notification.ManualClock) {
	clock := notification.NewManualClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	svc := NewPopupService(PopupOptions{
		Clock:           clock,
		DisplayDuration: 4200 * time.Millisecond,
		Cooldown:        250 * time.Millisecond,
	})
	return svc, clock
}

func drain(ch <-chan PopupEvent) []PopupEvent {
	var out []PopupEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPopupService_SequencesPerUser(t *testing.T) {
	ctx := context.Background()
	svc, clock := newPopups()
	defer svc.Close()

	events, cancel := svc.Subscribe("u1")
	defer cancel()

	added, err := svc.Announce(ctx, "u1", badge.IDDailyStarter)
	require.NoError(t, err)
	assert.True(t, added)
	_, err = svc.Announce(ctx, "u1", "quiz-rookie")
	require.NoError(t, err)

	clock.Advance(0)
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, PopupShow, got[0].Type)
	assert.Equal(t, badge.IDDailyStarter, got[0].Badge.ID)
	assert.Equal(t, "Daily Starter", got[0].Badge.Name)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, []string{"quiz-rookie"}, svc.Pending("u1"))

	clock.Advance(4200 * time.Millisecond)
	got = drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, PopupHide, got[0].Type)
	assert.Equal(t, notification.HideTimeout, got[0].Reason)

	clock.Advance(250 * time.Millisecond)
	got = drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, "quiz-rookie", got[0].Badge.ID)

	cur, ok := svc.Current("u1")
	require.True(t, ok)
	assert.Equal(t, "quiz-rookie", cur.ID)
}

func TestPopupService_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc, clock := newPopups()
	defer svc.Close()

	a, cancelA := svc.Subscribe("a")
	defer cancelA()
	b, cancelB := svc.Subscribe("b")
	defer cancelB()

	_, err := svc.Announce(ctx, "a", "game-on")
	require.NoError(t, err)
	_, err = svc.Announce(ctx, "b", "bookworm")
	require.NoError(t, err)
	clock.Advance(0)

	gotA, gotB := drain(a), drain(b)
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "game-on", gotA[0].Badge.ID)
	assert.Equal(t, "bookworm", gotB[0].Badge.ID)
}

func TestPopupService_Dismiss(t *testing.T) {
	ctx := context.Background()
	svc, clock := newPopups()
	defer svc.Close()

	assert.ErrorIs(t, svc.Dismiss("u1"), shared.ErrNothingShowing)

	events, cancel := svc.Subscribe("u1")
	defer cancel()
	_, err := svc.Announce(ctx, "u1", "unknown-badge")
	require.NoError(t, err)
	clock.Advance(0)
	drain(events)

	require.NoError(t, svc.Dismiss("u1"))
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, notification.HideDismissed, got[0].Reason)
	assert.Equal(t, "Mystery Badge", got[0].Badge.Name)
}

func TestPopupService_SweepAndClose(t *testing.T) {
	ctx := context.Background()
	svc, clock := newPopups()

	_, err := svc.Announce(ctx, "u1", "game-on")
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Sweep(), "busy queue is kept")

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, svc.Sweep())
	assert.Equal(t, 0, svc.Queues())

	events, _ := svc.Subscribe("u1")
	svc.Close()
	_, ok := <-events
	assert.False(t, ok, "subscriber channel closed")

	_, err = svc.Announce(ctx, "u1", "game-on")
	assert.ErrorIs(t, err, shared.ErrQueueClosed)
}
