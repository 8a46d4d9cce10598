// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/leaderboard"
	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/logger"
	"github.com/classquest/classquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ENGINE
// Every command follows the same shape: atomic read-modify-write of the
// snapshot, badge evaluation on the projected state, then the side effects
// (change feed, domain events, leaderboard mirror) after the commit.
// ══════════════════════════════════════════════════════════════════════════════

// MirrorWriter receives leaderboard entries after an award.
type MirrorWriter interface {
	Upsert(ctx context.Context, e leaderboard.Entry) error
}

// Deps wires the engine. Feed and Events may be nil.
type Deps struct {
	Progress progress.Repository
	Mirror   MirrorWriter
	Feed     progress.ChangeFeed
	Catalog  *badge.Catalog
	Events   shared.EventPublisher
	Clock    timeutil.Clock
	Logger   *logger.Logger
}

// Engine is shared by all command handlers.
type Engine struct {
	progress progress.Repository
	mirror   MirrorWriter
	feed     progress.ChangeFeed
	catalog  *badge.Catalog
	events   shared.EventPublisher
	clock    timeutil.Clock
	log      *logger.Logger
}

// NewEngine creates an Engine. Missing optional deps get defaults.
func NewEngine(d Deps) *Engine {
	if d.Catalog == nil {
		d.Catalog = badge.Default()
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return &Engine{
		progress: d.Progress,
		mirror:   d.Mirror,
		feed:     d.Feed,
		catalog:  d.Catalog,
		events:   d.Events,
		clock:    d.Clock,
		log:      d.Logger.With(logger.Component("award_engine")),
	}
}

// Catalog returns the badge catalog the engine evaluates.
func (e *Engine) Catalog() *badge.Catalog {
	return e.catalog
}

// change is what one mutation did to a snapshot.
type change struct {
	before *progress.Snapshot
	after  *progress.Snapshot
	earned []string
}

// mutate runs fn inside the repository's atomic update, evaluates badges on
// the result and publishes the change feed update plus badge events.
func (e *Engine) mutate(ctx context.Context, op, userID string, fn progress.MutateFunc) (*change, error) {
	var (
		before *progress.Snapshot
		earned []string
	)
	after, err := e.progress.Update(ctx, userID, func(s *progress.Snapshot) error {
		before = s.Clone()
		if err := fn(s); err != nil {
			return err
		}
		earned = e.catalog.Evaluate(s)
		s.GrantBadges(earned...)
		s.Touch(e.clock.Now())
		return nil
	})
	if err != nil {
		if shared.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: failed to update progress: %w", op, err)
	}

	c := &change{before: before, after: after, earned: earned}

	if e.feed != nil {
		if err := e.feed.Publish(ctx, after); err != nil {
			e.log.Warn("change feed publish failed",
				logger.Operation(op), logger.UserID(userID), logger.Err(err))
		}
	}
	for _, id := range earned {
		e.publish(shared.NewBadgeEarnedEvent(userID, id))
		e.log.Info("badge earned", logger.UserID(userID), logger.BadgeID(id))
	}
	return c, nil
}

// writeMirror upserts the denormalized leaderboard entry. It runs after the
// progress commit; a failure here leaves the progress write in place.
func (e *Engine) writeMirror(ctx context.Context, s *progress.Snapshot) error {
	if e.mirror == nil {
		return nil
	}
	entry := leaderboard.Entry{
		UserID:      s.UserID,
		Username:    s.Username,
		XP:          s.XP,
		StreakDays:  s.StreakDays,
		LastUpdated: s.UpdatedAt,
	}
	err := e.mirror.Upsert(ctx, entry)
	if errors.Is(err, shared.ErrStaleEntry) {
		e.log.Debug("newer leaderboard entry already mirrored",
			logger.UserID(s.UserID), logger.XPAmount(s.XP))
		return nil
	}
	if err != nil {
		e.log.Error("leaderboard mirror write failed",
			logger.UserID(s.UserID), logger.XPAmount(s.XP), logger.Err(err))
		return fmt.Errorf("award: progress saved but leaderboard mirror write failed: %w", err)
	}
	e.publish(shared.NewLeaderboardUpdatedEvent(s.UserID, s.XP, s.StreakDays))
	return nil
}

func (e *Engine) publish(ev shared.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ev); err != nil {
		e.log.Warn("event publish failed",
			logger.String("event_type", string(ev.EventType())), logger.Err(err))
	}
}

func validateUserID(userID string) error {
	if _, err := shared.NewUserID(userID); err != nil {
		return err
	}
	return nil
}

// TrackResult is returned by the narrow activity trackers.
type TrackResult struct {
	Snapshot     *progress.Snapshot `json:"snapshot"`
	EarnedBadges []string           `json:"earnedBadges"`
}

func newTrackResult(c *change) *TrackResult {
	earned := c.earned
	if earned == nil {
		earned = []string{}
	}
	return &TrackResult{Snapshot: c.after, EarnedBadges: earned}
}

// track is the shared body of the narrow trackers: no XP, no streak change.
func (e *Engine) track(ctx context.Context, op, userID, activity, detail string, fn progress.MutateFunc) (*TrackResult, error) {
	c, err := e.mutate(ctx, op, userID, fn)
	if err != nil {
		return nil, err
	}
	e.publish(shared.NewActivityTrackedEvent(userID, activity, detail))
	return newTrackResult(c), nil
}
