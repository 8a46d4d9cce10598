package command

import (
	"context"
	"strconv"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// TrackQuizCommand records one quiz attempt. Score is a percentage.
type TrackQuizCommand struct {
	UserID string
	Score  int
	Passed bool
}

// Validate validates the command.
func (c TrackQuizCommand) Validate() error {
	if err := validateUserID(c.UserID); err != nil {
		return err
	}
	if c.Score < 0 || c.Score > 100 {
		return shared.ErrInvalidQuizScore
	}
	return nil
}

// TrackQuizHandler handles TrackQuizCommand.
type TrackQuizHandler struct {
	engine *Engine
}

// NewTrackQuizHandler creates a new TrackQuizHandler.
func NewTrackQuizHandler(engine *Engine) *TrackQuizHandler {
	return &TrackQuizHandler{engine: engine}
}

// Handle bumps the quiz counters. A score below 100 resets the perfect streak.
func (h *TrackQuizHandler) Handle(ctx context.Context, cmd TrackQuizCommand) (*TrackResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.engine.track(ctx, "track_quiz", cmd.UserID, "quiz", strconv.Itoa(cmd.Score), func(s *progress.Snapshot) error {
		return s.RecordQuiz(cmd.Score, cmd.Passed)
	})
}
