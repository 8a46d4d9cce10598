package command

import (
	"context"
	"strings"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/logger"
	"github.com/classquest/classquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD COMMAND
// Adds XP, advances the daily streak, recomputes the level and unlocks
// badges. Not idempotent for XP: each call adds its delta again.
// ══════════════════════════════════════════════════════════════════════════════

// AwardCommand contains the data for one rewarded action.
type AwardCommand struct {
	UserID  string
	XPDelta int
	// Username refreshes the display name carried to the leaderboard.
	Username      string
	CorrelationID string
}

// Validate validates the command.
func (c AwardCommand) Validate() error {
	if err := validateUserID(c.UserID); err != nil {
		return err
	}
	if c.XPDelta < 0 {
		return shared.ErrNegativeXPDelta
	}
	if c.XPDelta > progress.MaxXPDelta {
		return shared.ErrXPDeltaTooLarge
	}
	return nil
}

// AwardResult is the outcome of an award.
type AwardResult struct {
	NewXP        int                `json:"newXP"`
	NewLevel     int                `json:"newLevel"`
	NewStreak    int                `json:"newStreak"`
	EarnedBadges []string           `json:"earnedBadges"`
	LevelUp      bool               `json:"levelUp"`
	Snapshot     *progress.Snapshot `json:"-"`
}

// AwardHandler handles AwardCommand.
type AwardHandler struct {
	engine *Engine
}

// NewAwardHandler creates a new AwardHandler.
func NewAwardHandler(engine *Engine) *AwardHandler {
	return &AwardHandler{engine: engine}
}

// Handle executes the award.
func (h *AwardHandler) Handle(ctx context.Context, cmd AwardCommand) (*AwardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	e := h.engine
	today := timeutil.Today(e.clock)
	username := strings.TrimSpace(cmd.Username)

	var outcome progress.AwardOutcome
	c, err := e.mutate(ctx, "award", cmd.UserID, func(s *progress.Snapshot) error {
		if username != "" {
			s.Username = username
		}
		var err error
		outcome, err = s.ApplyAward(cmd.XPDelta, today)
		return err
	})
	if err != nil {
		return nil, err
	}

	s := c.after
	result := &AwardResult{
		NewXP:        s.XP,
		NewLevel:     s.Level,
		NewStreak:    s.StreakDays,
		EarnedBadges: c.earned,
		LevelUp:      outcome.LevelUp(s),
		Snapshot:     s,
	}
	if result.EarnedBadges == nil {
		result.EarnedBadges = []string{}
	}

	if cmd.XPDelta > 0 {
		e.publish(withCorrelation(shared.NewXPAwardedEvent(cmd.UserID, cmd.XPDelta, s.XP), cmd.CorrelationID))
	}
	if result.LevelUp {
		e.publish(shared.NewLevelUpEvent(cmd.UserID, outcome.OldLevel, s.Level))
	}
	if outcome.StreakChanged(s) {
		reset := outcome.Transition == timeutil.Gap && outcome.OldStreak > 0
		e.publish(shared.NewStreakUpdatedEvent(cmd.UserID, outcome.OldStreak, s.StreakDays, reset))
	}

	e.log.Info("xp awarded",
		logger.UserID(cmd.UserID),
		logger.XPAmount(cmd.XPDelta),
		logger.UserLevel(s.Level),
		logger.Streak(s.StreakDays),
		logger.Int("badges_earned", len(result.EarnedBadges)),
	)

	if err := e.writeMirror(ctx, s); err != nil {
		return nil, err
	}
	return result, nil
}

func withCorrelation(ev shared.XPAwardedEvent, id string) shared.XPAwardedEvent {
	if id != "" {
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
	}
	return ev
}
