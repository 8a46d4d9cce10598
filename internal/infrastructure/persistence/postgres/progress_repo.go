package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository. One row per user;
// Update locks the row for the duration of the mutation.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const snapshotColumns = `
	user_id, username, xp, level, streak_days, best_streak,
	last_activity_date, last_xp_date, badges,
	lessons_completed, quizzes_attempted, quizzes_passed, perfect_quiz_streak,
	mini_games_completed, study_groups_joined, bookmarked_lessons,
	math_problems_solved, science_lessons_completed, consecutive_days_xp_earned,
	subjects_explored, lessons_per_subject, created_at, updated_at`

func scanSnapshot(row pgx.Row) (*progress.Snapshot, error) {
	var s progress.Snapshot
	err := row.Scan(
		&s.UserID, &s.Username, &s.XP, &s.Level, &s.StreakDays, &s.BestStreak,
		&s.LastActivityDate, &s.LastXPDate, &s.Badges,
		&s.LessonsCompleted, &s.QuizzesAttempted, &s.QuizzesPassed, &s.PerfectQuizStreak,
		&s.MiniGamesCompleted, &s.StudyGroupsJoined, &s.BookmarkedLessons,
		&s.MathProblemsSolved, &s.ScienceLessonsCompleted, &s.ConsecutiveDaysXPEarned,
		&s.SubjectsExplored, &s.LessonsPerSubject, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Normalize()
	return &s, nil
}

// Get returns the stored snapshot or shared.ErrSnapshotNotFound.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.Snapshot, error) {
	q, err := r.conn.Querier()
	if err != nil {
		return nil, err
	}
	s, err := scanSnapshot(q.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM progress_snapshots WHERE user_id = $1`, userID))
	if IsNoRows(err) {
		return nil, shared.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// Update inserts a zero row if none exists, locks it with SELECT ... FOR
// UPDATE, applies fn and writes the result back in the same transaction.
// Concurrent updates for one user queue on the row lock.
func (r *ProgressRepository) Update(ctx context.Context, userID string, fn progress.MutateFunc) (*progress.Snapshot, error) {
	var out *progress.Snapshot

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO progress_snapshots (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID); err != nil {
			return fmt.Errorf("failed to ensure snapshot row: %w", err)
		}

		s, err := scanSnapshot(tx.QueryRow(ctx,
			`SELECT `+snapshotColumns+` FROM progress_snapshots WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return fmt.Errorf("failed to lock snapshot: %w", err)
		}

		if err := fn(s); err != nil {
			return err
		}
		s.Normalize()

		if err := writeSnapshot(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeSnapshot(ctx context.Context, tx pgx.Tx, s *progress.Snapshot) error {
	_, err := tx.Exec(ctx, `
		UPDATE progress_snapshots SET
			username = $2, xp = $3, level = $4, streak_days = $5, best_streak = $6,
			last_activity_date = $7, last_xp_date = $8, badges = $9,
			lessons_completed = $10, quizzes_attempted = $11, quizzes_passed = $12,
			perfect_quiz_streak = $13, mini_games_completed = $14,
			study_groups_joined = $15, bookmarked_lessons = $16,
			math_problems_solved = $17, science_lessons_completed = $18,
			consecutive_days_xp_earned = $19, subjects_explored = $20,
			lessons_per_subject = $21, updated_at = $22
		WHERE user_id = $1`,
		s.UserID, s.Username, s.XP, s.Level, s.StreakDays, s.BestStreak,
		s.LastActivityDate, s.LastXPDate, s.Badges,
		s.LessonsCompleted, s.QuizzesAttempted, s.QuizzesPassed,
		s.PerfectQuizStreak, s.MiniGamesCompleted,
		s.StudyGroupsJoined, s.BookmarkedLessons,
		s.MathProblemsSolved, s.ScienceLessonsCompleted,
		s.ConsecutiveDaysXPEarned, s.SubjectsExplored,
		s.LessonsPerSubject, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// List returns snapshots ordered by user id.
func (r *ProgressRepository) List(ctx context.Context, offset, limit int) ([]*progress.Snapshot, error) {
	q, err := r.conn.Querier()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = shared.MaxLimit
	}
	rows, err := q.Query(ctx,
		`SELECT `+snapshotColumns+` FROM progress_snapshots ORDER BY user_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*progress.Snapshot, 0, limit)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
