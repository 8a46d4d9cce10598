package memory

import (
	"context"
	"sync"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/shared"
)

// LeaderboardRepository implements leaderboard.Repository.
type LeaderboardRepository struct {
	mu      sync.RWMutex
	entries map[string]leaderboard.Entry
	// FailUpserts makes Upsert return this error. Used to exercise the
	// partial-failure path.
	FailUpserts error
}

// NewLeaderboardRepository creates an empty repository.
func NewLeaderboardRepository() *LeaderboardRepository {
	return &LeaderboardRepository{entries: make(map[string]leaderboard.Entry)}
}

func (r *LeaderboardRepository) Upsert(ctx context.Context, e leaderboard.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpserts != nil {
		return r.FailUpserts
	}
	if have, ok := r.entries[e.UserID]; ok && e.LastUpdated.Before(have.LastUpdated) {
		return shared.ErrStaleEntry
	}
	r.entries[e.UserID] = e
	return nil
}

func (r *LeaderboardRepository) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	all, _ := r.All(ctx)
	leaderboard.Sort(all)
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *LeaderboardRepository) Get(ctx context.Context, userID string) (leaderboard.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return leaderboard.Entry{}, shared.ErrEntryNotFound
	}
	return e, nil
}

func (r *LeaderboardRepository) Position(ctx context.Context, userID string) (shared.Rank, error) {
	me, err := r.Get(ctx, userID)
	if err != nil {
		return shared.Unranked, err
	}
	all, _ := r.All(ctx)
	return leaderboard.PositionOf(me, all), nil
}

func (r *LeaderboardRepository) All(ctx context.Context) ([]leaderboard.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]leaderboard.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}
