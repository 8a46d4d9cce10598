// Package memory provides in-process repositories. They back tests and the
// single-node development mode when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	mu        sync.Mutex
	snapshots map[string]*progress.Snapshot
}

// NewProgressRepository creates an empty repository.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{snapshots: make(map[string]*progress.Snapshot)}
}

// Get returns a copy of the stored snapshot.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[userID]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}
	return s.Clone(), nil
}

// Update serializes all writers behind one mutex. fn works on a copy so a
// failed mutation leaves the stored snapshot untouched.
func (r *ProgressRepository) Update(ctx context.Context, userID string, fn progress.MutateFunc) (*progress.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	working := progress.NewSnapshot(userID)
	if s, ok := r.snapshots[userID]; ok {
		working = s.Clone()
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Normalize()
	r.snapshots[userID] = working
	return working.Clone(), nil
}

// List returns snapshots ordered by user id.
func (r *ProgressRepository) List(ctx context.Context, offset, limit int) ([]*progress.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.snapshots))
	for id := range r.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return []*progress.Snapshot{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]*progress.Snapshot, len(ids))
	for i, id := range ids {
		out[i] = r.snapshots[id].Clone()
	}
	return out, nil
}

// Put stores s as-is. Test helper for seeding state.
func (r *ProgressRepository) Put(s *progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := s.Clone()
	c.Normalize()
	r.snapshots[s.UserID] = c
}
