// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"time"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top-N by XP. Ranks are positions in the sorted read, never stored.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardReader is the read side of the leaderboard mirror.
type LeaderboardReader interface {
	Top(ctx context.Context, limit int) ([]leaderboard.Entry, error)
	Get(ctx context.Context, userID string) (leaderboard.Entry, error)
	Position(ctx context.Context, userID string) (shared.Rank, error)
}

// GetLeaderboardQuery holds the request parameters.
type GetLeaderboardQuery struct {
	// Limit defaults to shared.DefaultLimit and is capped at shared.MaxLimit.
	Limit int
}

// Validate normalizes the limit.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ErrInvalidLimit
	}
	q.Limit = shared.ClampLimit(q.Limit)
	return nil
}

// LeaderboardEntryDTO is one ranked row.
type LeaderboardEntryDTO struct {
	Rank        int       `json:"rank"`
	Medal       string    `json:"medal,omitempty"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	XP          int       `json:"xp"`
	Level       int       `json:"level"`
	StreakDays  int       `json:"streak_days"`
	LastUpdated time.Time `json:"last_updated"`
}

// GetLeaderboardResult is the query result.
type GetLeaderboardResult struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	Limit       int                   `json:"limit"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler serves GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	reader LeaderboardReader
}

// NewGetLeaderboardHandler creates a new handler.
func NewGetLeaderboardHandler(reader LeaderboardReader) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{reader: reader}
}

// Handle runs the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	entries, err := h.reader.Top(ctx, q.Limit)
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrServiceUnavailable, "failed to read leaderboard", err)
	}

	ranked := leaderboard.Rank(entries, q.Limit)
	out := make([]LeaderboardEntryDTO, len(ranked))
	for i, r := range ranked {
		out[i] = toEntryDTO(r)
	}
	return &GetLeaderboardResult{
		Entries:     out,
		Limit:       q.Limit,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func toEntryDTO(r leaderboard.RankedEntry) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:        r.Rank.Int(),
		Medal:       r.Rank.Medal(),
		UserID:      r.UserID,
		Username:    r.DisplayName(),
		XP:          r.XP,
		Level:       progress.LevelForXP(r.XP),
		StreakDays:  r.StreakDays,
		LastUpdated: r.LastUpdated,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GET USER RANK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetUserRankQuery asks for one learner's position.
type GetUserRankQuery struct {
	UserID string
}

// GetUserRankHandler serves GetUserRankQuery.
type GetUserRankHandler struct {
	reader LeaderboardReader
}

// NewGetUserRankHandler creates a new handler.
func NewGetUserRankHandler(reader LeaderboardReader) *GetUserRankHandler {
	return &GetUserRankHandler{reader: reader}
}

// Handle returns the ranked row, or an ErrNotFound error when the learner
// has never been awarded.
func (h *GetUserRankHandler) Handle(ctx context.Context, q GetUserRankQuery) (*LeaderboardEntryDTO, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, err
	}
	entry, err := h.reader.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	pos, err := h.reader.Position(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	dto := toEntryDTO(leaderboard.RankedEntry{Rank: pos, Entry: entry})
	return &dto, nil
}
