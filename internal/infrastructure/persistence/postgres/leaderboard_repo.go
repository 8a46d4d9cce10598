package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository. Ranks are never
// stored; every read orders the table.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// displayName mirrors leaderboard.Entry.DisplayName; the C collation keeps
// the comparison byte-wise like the Go ordering.
const displayName = `COALESCE(NULLIF(username, ''), user_id) COLLATE "C"`

const rankingOrder = `xp DESC, ` + displayName + ` ASC, user_id COLLATE "C" ASC`

const entryColumns = `user_id, username, xp, streak_days, last_updated`

func scanEntry(row pgx.Row) (leaderboard.Entry, error) {
	var e leaderboard.Entry
	err := row.Scan(&e.UserID, &e.Username, &e.XP, &e.StreakDays, &e.LastUpdated)
	return e, err
}

// Upsert writes or replaces the entry unless a newer one is stored.
func (r *LeaderboardRepository) Upsert(ctx context.Context, e leaderboard.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	q, err := r.conn.Querier()
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO leaderboard_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			xp = EXCLUDED.xp,
			streak_days = EXCLUDED.streak_days,
			last_updated = EXCLUDED.last_updated
		WHERE leaderboard_entries.last_updated <= EXCLUDED.last_updated`,
		e.UserID, e.Username, e.XP, e.StreakDays, e.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert leaderboard entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleEntry
	}
	return nil
}

// Top returns up to limit entries in ranking order.
func (r *LeaderboardRepository) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	return r.query(ctx,
		`SELECT `+entryColumns+` FROM leaderboard_entries ORDER BY `+rankingOrder+` LIMIT $1`,
		shared.ClampLimit(limit))
}

// All returns every entry in ranking order.
func (r *LeaderboardRepository) All(ctx context.Context) ([]leaderboard.Entry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM leaderboard_entries ORDER BY `+rankingOrder)
}

func (r *LeaderboardRepository) query(ctx context.Context, sql string, args ...any) ([]leaderboard.Entry, error) {
	q, err := r.conn.Querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]leaderboard.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the entry for userID.
func (r *LeaderboardRepository) Get(ctx context.Context, userID string) (leaderboard.Entry, error) {
	q, err := r.conn.Querier()
	if err != nil {
		return leaderboard.Entry{}, err
	}
	e, err := scanEntry(q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM leaderboard_entries WHERE user_id = $1`, userID))
	if IsNoRows(err) {
		return leaderboard.Entry{}, shared.ErrEntryNotFound
	}
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("failed to get leaderboard entry: %w", err)
	}
	return e, nil
}

// Position counts the entries ordered before userID.
func (r *LeaderboardRepository) Position(ctx context.Context, userID string) (shared.Rank, error) {
	q, err := r.conn.Querier()
	if err != nil {
		return shared.Unranked, err
	}
	var ahead int
	err = q.QueryRow(ctx, `
		WITH me AS (
			SELECT xp, COALESCE(NULLIF(username, ''), user_id) AS name, user_id
			FROM leaderboard_entries WHERE user_id = $1
		)
		SELECT COUNT(*) FROM leaderboard_entries l, me
		WHERE l.user_id <> me.user_id AND (
			l.xp > me.xp
			OR (l.xp = me.xp AND COALESCE(NULLIF(l.username, ''), l.user_id) COLLATE "C" < me.name COLLATE "C")
			OR (l.xp = me.xp AND COALESCE(NULLIF(l.username, ''), l.user_id) = me.name
			    AND l.user_id COLLATE "C" < me.user_id COLLATE "C")
		)`, userID).Scan(&ahead)
	if err != nil {
		return shared.Unranked, fmt.Errorf("failed to compute position: %w", err)
	}
	if ahead == 0 {
		// COUNT is also 0 when the user has no row.
		if _, err := r.Get(ctx, userID); err != nil {
			return shared.Unranked, err
		}
	}
	return shared.Rank(ahead + 1), nil
}
