// Package service holds infrastructure-backed services that sit between the
// application handlers and the stores: the leaderboard read-through cache
// and the per-user popup queues.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/circuitbreaker"
)

// LeaderboardService fronts the leaderboard repository with an optional
// cache. The repository is the source of truth; cache failures only cost
// latency.
type LeaderboardService struct {
	repo   leaderboard.Repository
	cache  leaderboard.Cache
	ttl    time.Duration
	logger *slog.Logger

	// breaker guards cache calls; nil calls the cache directly.
	breaker *circuitbreaker.CircuitBreaker
}

// NewLeaderboardService creates a new LeaderboardService. cache may be nil.
func NewLeaderboardService(repo leaderboard.Repository, cache leaderboard.Cache, ttl time.Duration, logger *slog.Logger) *LeaderboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardService{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "leaderboard_service"),
	}
}

// WithCacheBreaker routes cache calls through cb. While cb is open, reads go
// to the repository and cache writes are skipped until the next rebuild.
func (s *LeaderboardService) WithCacheBreaker(cb *circuitbreaker.CircuitBreaker) *LeaderboardService {
	s.breaker = cb
	return s
}

func (s *LeaderboardService) cacheCall(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

// Upsert writes the repository, then the cache.
func (s *LeaderboardService) Upsert(ctx context.Context, e leaderboard.Entry) error {
	if err := s.repo.Upsert(ctx, e); err != nil {
		return err
	}
	if s.cache != nil {
		err := s.cacheCall(ctx, func(ctx context.Context) error { return s.cache.Put(ctx, e) })
		if err != nil {
			s.logger.Warn("cache put failed", "user_id", e.UserID, "error", err)
		}
	}
	return nil
}

// Top reads the cache first and falls back to the repository on a miss or
// a cache error.
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	limit = shared.ClampLimit(limit)

	if s.cache != nil {
		var (
			entries []leaderboard.Entry
			ok      bool
		)
		err := s.cacheCall(ctx, func(ctx context.Context) error {
			var err error
			entries, ok, err = s.cache.Top(ctx, limit)
			return err
		})
		switch {
		case err != nil:
			s.logger.Warn("cache read failed, using repository", "error", err)
		case ok:
			return entries, nil
		default:
			s.logger.Debug("cache miss", "limit", limit)
		}
	}
	return s.repo.Top(ctx, limit)
}

// Get returns one entry from the repository.
func (s *LeaderboardService) Get(ctx context.Context, userID string) (leaderboard.Entry, error) {
	return s.repo.Get(ctx, userID)
}

// Position returns the 1-based rank of userID from the repository.
func (s *LeaderboardService) Position(ctx context.Context, userID string) (shared.Rank, error) {
	return s.repo.Position(ctx, userID)
}

// RebuildCache reloads the cache from the repository and returns the number
// of entries written. It is a no-op without a cache.
func (s *LeaderboardService) RebuildCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	entries, err := s.repo.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load leaderboard: %w", err)
	}
	if err := s.cache.Replace(ctx, entries, s.ttl); err != nil {
		return 0, fmt.Errorf("replace cache: %w", err)
	}
	s.logger.Info("leaderboard cache rebuilt", "entries", len(entries))
	return len(entries), nil
}

// CacheEnabled reports whether a cache is configured.
func (s *LeaderboardService) CacheEnabled() bool {
	return s.cache != nil
}
