package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/classquest/classquest/internal/domain/progress"
)

// ErrSubscriptionClosed is returned by Watch when Redis drops the channel.
var ErrSubscriptionClosed = errors.New("redis: subscription closed")

// ChangeFeed implements progress.ChangeFeed over Redis pub/sub, one channel
// per user. Messages carry the full snapshot as JSON.
type ChangeFeed struct {
	cache  *Cache
	logger *slog.Logger
}

// NewChangeFeed creates a feed on cache.
func NewChangeFeed(cache *Cache, logger *slog.Logger) *ChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{cache: cache, logger: logger.With("component", "redis_change_feed")}
}

// Publish sends s to the user's channel.
func (f *ChangeFeed) Publish(ctx context.Context, s *progress.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return f.cache.Client().Publish(ctx, ProgressChannel(s.UserID), data).Err()
}

// Watch subscribes to the user's channel and calls fn per message until ctx
// is done or the subscription breaks. Malformed payloads are logged and
// skipped.
func (f *ChangeFeed) Watch(ctx context.Context, userID string, ready func() error, fn func(*progress.Snapshot)) error {
	pubsub := f.cache.Client().Subscribe(ctx, ProgressChannel(userID))
	defer pubsub.Close()

	// Receive waits for the subscribe confirmation so connection errors
	// surface here instead of as a silently closed channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", userID, err)
	}
	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			var s progress.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				f.logger.Warn("malformed progress message",
					"channel", msg.Channel, "error", err)
				continue
			}
			s.Normalize()
			fn(&s)
		}
	}
}
