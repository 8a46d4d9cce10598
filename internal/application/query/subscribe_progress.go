package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBE PROGRESS
// Live updates of one learner's snapshot. The current snapshot is delivered
// first, then every change. A dropped feed connection is re-opened with
// exponential backoff until the caller's context ends.
// ══════════════════════════════════════════════════════════════════════════════

// SubscribeProgressHandler streams snapshot changes.
type SubscribeProgressHandler struct {
	repo    progress.Repository
	feed    progress.ChangeFeed
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewSubscribeProgressHandler creates a new handler. A nil retrier uses
// retry.SubscriptionRetrier.
func NewSubscribeProgressHandler(repo progress.Repository, feed progress.ChangeFeed, retrier *retry.Retrier, logger *slog.Logger) *SubscribeProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = retry.SubscriptionRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Warn("progress feed dropped, reconnecting",
				"attempt", attempt, "delay", delay, "error", err)
		})
	}
	return &SubscribeProgressHandler{repo: repo, feed: feed, retrier: retrier, logger: logger}
}

// Handle calls fn with the current snapshot and then with every change until
// ctx is done. It returns nil on a clean shutdown. The current snapshot is
// read after the feed watcher is registered, on the first connect and on
// every reconnect, so no committed change falls between the read and the
// watch. Snapshots older than one already delivered are dropped.
func (h *SubscribeProgressHandler) Handle(ctx context.Context, userID string, fn func(*progress.Snapshot)) error {
	if _, err := shared.NewUserID(userID); err != nil {
		return err
	}

	var last time.Time
	deliver := func(s *progress.Snapshot) {
		if s.UpdatedAt.Before(last) {
			return
		}
		last = s.UpdatedAt
		fn(s)
	}

	attempt := 0
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		var readErr error
		ready := func() error {
			current, err := h.repo.Get(ctx, userID)
			switch {
			case shared.IsNotFound(err):
				current = progress.NewSnapshot(userID)
			case err != nil:
				readErr = err
				return err
			}
			deliver(current)
			return nil
		}

		werr := h.feed.Watch(ctx, userID, ready, deliver)
		switch {
		case werr == nil || ctx.Err() != nil:
			return retry.Permanent(ctx.Err())
		case readErr != nil && attempt == 1:
			return retry.Permanent(readErr)
		}
		return retry.Retryable(werr)
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
