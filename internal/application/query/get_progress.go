package query

import (
	"context"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// GetProgressQuery asks for one learner's snapshot.
type GetProgressQuery struct {
	UserID string
}

// ProgressView is the snapshot plus derived display data.
type ProgressView struct {
	*progress.Snapshot
	XPToNextLevel int                `json:"xpToNextLevel"`
	BadgeDetails  []badge.Descriptor `json:"badgeDetails"`
}

// GetProgressHandler serves GetProgressQuery.
type GetProgressHandler struct {
	repo    progress.Repository
	catalog *badge.Catalog
}

// NewGetProgressHandler creates a new handler.
func NewGetProgressHandler(repo progress.Repository, catalog *badge.Catalog) *GetProgressHandler {
	return &GetProgressHandler{repo: repo, catalog: catalog}
}

// Handle returns the stored snapshot. A learner with nothing stored gets the
// zero-state snapshot rather than an error.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressView, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, err
	}
	s, err := h.repo.Get(ctx, q.UserID)
	switch {
	case shared.IsNotFound(err):
		s = progress.NewSnapshot(q.UserID)
	case err != nil:
		return nil, err
	}
	return &ProgressView{
		Snapshot:      s,
		XPToNextLevel: progress.XPToNextLevel(s.XP),
		BadgeDetails:  h.catalog.DescribeAll(s.Badges),
	}, nil
}
