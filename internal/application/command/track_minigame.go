package command

import (
	"context"
	"strings"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// TrackMiniGameCommand records a finished mini-game.
type TrackMiniGameCommand struct {
	UserID string
	GameID string
}

// Validate validates the command.
func (c TrackMiniGameCommand) Validate() error {
	if err := validateUserID(c.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(c.GameID) == "" {
		return shared.NewDomainError("progress", "TrackMiniGame", shared.ErrInvalidInput, "game_id is required")
	}
	return nil
}

// TrackMiniGameHandler handles TrackMiniGameCommand.
type TrackMiniGameHandler struct {
	engine *Engine
}

// NewTrackMiniGameHandler creates a new TrackMiniGameHandler.
func NewTrackMiniGameHandler(engine *Engine) *TrackMiniGameHandler {
	return &TrackMiniGameHandler{engine: engine}
}

// Handle bumps the mini-game counter.
func (h *TrackMiniGameHandler) Handle(ctx context.Context, cmd TrackMiniGameCommand) (*TrackResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.engine.track(ctx, "track_minigame", cmd.UserID, "minigame", cmd.GameID, func(s *progress.Snapshot) error {
		return s.RecordMiniGame(cmd.GameID)
	})
}
