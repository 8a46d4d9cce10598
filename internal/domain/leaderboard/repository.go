package leaderboard

import (
	"context"
	"time"

	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the durable store of mirror entries.
type Repository interface {
	// Upsert writes or replaces the entry for e.UserID. An entry whose
	// LastUpdated is older than the stored one is rejected with
	// shared.ErrStaleEntry.
	Upsert(ctx context.Context, e Entry) error

	// Top returns up to limit entries in ranking order.
	Top(ctx context.Context, limit int) ([]Entry, error)

	// Get returns the entry for userID or shared.ErrEntryNotFound.
	Get(ctx context.Context, userID string) (Entry, error)

	// Position returns the 1-based rank of userID.
	Position(ctx context.Context, userID string) (shared.Rank, error)

	// All returns every entry, for cache rebuilds.
	All(ctx context.Context) ([]Entry, error)
}

// Cache is a fast read model in front of the Repository. Implementations may
// be partially populated; a miss is reported with ok=false.
type Cache interface {
	Put(ctx context.Context, e Entry) error
	Top(ctx context.Context, limit int) (entries []Entry, ok bool, err error)
	Replace(ctx context.Context, entries []Entry, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}
