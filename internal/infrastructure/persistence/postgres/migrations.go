package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROGRESS SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS progress_snapshots (
    user_id                    TEXT PRIMARY KEY,
    username                   TEXT NOT NULL DEFAULT '',
    xp                         INTEGER NOT NULL DEFAULT 0,
    level                      INTEGER NOT NULL DEFAULT 1,
    streak_days                INTEGER NOT NULL DEFAULT 0,
    best_streak                INTEGER NOT NULL DEFAULT 0,
    last_activity_date         TEXT NOT NULL DEFAULT '',
    last_xp_date               TEXT NOT NULL DEFAULT '',
    badges                     TEXT[] NOT NULL DEFAULT '{}',
    lessons_completed          INTEGER NOT NULL DEFAULT 0,
    quizzes_attempted          INTEGER NOT NULL DEFAULT 0,
    quizzes_passed             INTEGER NOT NULL DEFAULT 0,
    perfect_quiz_streak        INTEGER NOT NULL DEFAULT 0,
    mini_games_completed       INTEGER NOT NULL DEFAULT 0,
    study_groups_joined        INTEGER NOT NULL DEFAULT 0,
    bookmarked_lessons         INTEGER NOT NULL DEFAULT 0,
    math_problems_solved       INTEGER NOT NULL DEFAULT 0,
    science_lessons_completed  INTEGER NOT NULL DEFAULT 0,
    consecutive_days_xp_earned INTEGER NOT NULL DEFAULT 0,
    subjects_explored          TEXT[] NOT NULL DEFAULT '{}',
    lessons_per_subject        JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at                 TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at                 TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_streak CHECK (streak_days >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS progress_snapshots;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEADERBOARD MIRROR
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS leaderboard_entries (
    user_id      TEXT PRIMARY KEY,
    username     TEXT NOT NULL DEFAULT '',
    xp           INTEGER NOT NULL DEFAULT 0,
    streak_days  INTEGER NOT NULL DEFAULT 0,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_entry_xp CHECK (xp >= 0)
);

-- Matches the read order: xp desc, username asc.
CREATE INDEX IF NOT EXISTS idx_leaderboard_order
    ON leaderboard_entries (xp DESC, username ASC, user_id ASC);
`

const migration002Down = `
DROP INDEX IF EXISTS idx_leaderboard_order;
DROP TABLE IF EXISTS leaderboard_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progress_snapshots", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_leaderboard_entries", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// Migrator applies embedded migrations and records them in a tracking table.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: Migrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = appliedAt
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	q, err := m.conn.Querier()
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx, q); err != nil {
		return err
	}
	done, err := m.applied(ctx, q)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	q, err := m.conn.Querier()
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx, q); err != nil {
		return err
	}
	done, err := m.applied(ctx, q)
	if err != nil {
		return err
	}

	last := 0
	for v := range done {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	q, err := m.conn.Querier()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx, q); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}
