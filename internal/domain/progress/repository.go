package progress

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// MutateFunc changes a snapshot in place. Returning an error aborts the
// write and leaves the stored snapshot untouched.
type MutateFunc func(s *Snapshot) error

// Repository stores one snapshot per user.
type Repository interface {
	// Get returns the stored snapshot or shared.ErrSnapshotNotFound.
	Get(ctx context.Context, userID string) (*Snapshot, error)

	// Update performs an atomic read-modify-write. When nothing is stored
	// fn receives NewSnapshot(userID). Concurrent Updates for the same user
	// are serialized; the returned snapshot is what was persisted.
	Update(ctx context.Context, userID string, fn MutateFunc) (*Snapshot, error)

	// List returns snapshots ordered by user id, for rebuild jobs.
	List(ctx context.Context, offset, limit int) ([]*Snapshot, error)
}

// ChangeFeed fans out persisted snapshots to live subscribers.
type ChangeFeed interface {
	// Publish announces a snapshot that was just persisted.
	Publish(ctx context.Context, s *Snapshot) error

	// Watch calls fn for every published snapshot of userID until ctx is
	// done or the underlying stream fails. It returns ctx.Err() on a clean
	// shutdown. ready, when non-nil, runs once the watcher is registered and
	// before any fn call; an error from ready ends the watch with that error.
	Watch(ctx context.Context, userID string, ready func() error, fn func(*Snapshot)) error
}
