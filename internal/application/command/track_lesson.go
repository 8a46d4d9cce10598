package command

import (
	"context"
	"strings"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// TrackLessonCommand records a completed lesson.
type TrackLessonCommand struct {
	UserID  string
	Subject string
}

// Validate validates the command.
func (c TrackLessonCommand) Validate() error {
	if err := validateUserID(c.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Subject) == "" {
		return shared.NewDomainError("progress", "TrackLesson", shared.ErrInvalidInput, "subject is required")
	}
	return nil
}

// TrackLessonHandler handles TrackLessonCommand.
type TrackLessonHandler struct {
	engine *Engine
}

// NewTrackLessonHandler creates a new TrackLessonHandler.
func NewTrackLessonHandler(engine *Engine) *TrackLessonHandler {
	return &TrackLessonHandler{engine: engine}
}

// Handle bumps the lesson counters and evaluates badges.
func (h *TrackLessonHandler) Handle(ctx context.Context, cmd TrackLessonCommand) (*TrackResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	subject := progress.NormalizeSubject(cmd.Subject)
	return h.engine.track(ctx, "track_lesson", cmd.UserID, "lesson", subject, func(s *progress.Snapshot) error {
		return s.RecordLesson(subject)
	})
}
