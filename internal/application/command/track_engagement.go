package command

import (
	"context"
	"strconv"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGAGEMENT TRACKERS
// Study groups, bookmarks and math practice feed the social, rookie and math
// badges. Same shape as the lesson and quiz trackers.
// ══════════════════════════════════════════════════════════════════════════════

// EngagementKind selects the counter to bump.
type EngagementKind string

const (
	EngagementStudyGroup EngagementKind = "study_group"
	EngagementBookmark   EngagementKind = "bookmark"
	EngagementMath       EngagementKind = "math"
)

// TrackEngagementCommand records a study-group join, a bookmark or a batch
// of solved math problems. Count is only read for EngagementMath.
type TrackEngagementCommand struct {
	UserID string
	Kind   EngagementKind
	Count  int
}

// Validate validates the command.
func (c TrackEngagementCommand) Validate() error {
	if err := validateUserID(c.UserID); err != nil {
		return err
	}
	switch c.Kind {
	case EngagementStudyGroup, EngagementBookmark:
	case EngagementMath:
		if c.Count <= 0 {
			return shared.ErrInvalidCount
		}
	default:
		return shared.NewDomainError("progress", "TrackEngagement", shared.ErrInvalidInput, "unknown engagement kind: "+string(c.Kind))
	}
	return nil
}

// TrackEngagementHandler handles TrackEngagementCommand.
type TrackEngagementHandler struct {
	engine *Engine
}

// NewTrackEngagementHandler creates a new TrackEngagementHandler.
func NewTrackEngagementHandler(engine *Engine) *TrackEngagementHandler {
	return &TrackEngagementHandler{engine: engine}
}

// Handle bumps the selected counter.
func (h *TrackEngagementHandler) Handle(ctx context.Context, cmd TrackEngagementCommand) (*TrackResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var (
		fn     progress.MutateFunc
		detail string
	)
	switch cmd.Kind {
	case EngagementStudyGroup:
		fn = func(s *progress.Snapshot) error { s.RecordStudyGroupJoin(); return nil }
	case EngagementBookmark:
		fn = func(s *progress.Snapshot) error { s.RecordBookmark(); return nil }
	case EngagementMath:
		detail = strconv.Itoa(cmd.Count)
		fn = func(s *progress.Snapshot) error { return s.RecordMathProblems(cmd.Count) }
	}
	return h.engine.track(ctx, "track_"+string(cmd.Kind), cmd.UserID, string(cmd.Kind), detail, fn)
}
