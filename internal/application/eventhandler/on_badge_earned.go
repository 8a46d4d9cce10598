// Package eventhandler contains the reactive side of the system: handlers
// subscribed to domain events that trigger side effects after a write.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/classquest/classquest/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BADGE EARNED
// Queues an unlock popup for every newly earned badge.
// ═══════════════════════════════════════════════════════════════════════════

// PopupAnnouncer enqueues a badge popup for a user.
type PopupAnnouncer interface {
	Announce(ctx context.Context, userID, badgeID string) (bool, error)
}

// OnBadgeEarnedHandler forwards badge.earned events to the popup queues.
type OnBadgeEarnedHandler struct {
	popups  PopupAnnouncer
	timeout time.Duration
	logger  *slog.Logger
}

// NewOnBadgeEarnedHandler creates the handler.
func NewOnBadgeEarnedHandler(popups PopupAnnouncer, logger *slog.Logger) *OnBadgeEarnedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnBadgeEarnedHandler{
		popups:  popups,
		timeout: 5 * time.Second,
		logger:  logger.With("handler", "on_badge_earned"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnBadgeEarnedHandler) Handle(event shared.Event) error {
	ev, ok := event.(shared.BadgeEarnedEvent)
	if !ok {
		h.logger.Warn("received non-BadgeEarnedEvent", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	added, err := h.popups.Announce(ctx, ev.UserID, ev.BadgeID)
	if err != nil {
		return err
	}
	h.logger.Debug("badge popup announced",
		"user_id", ev.UserID, "badge_id", ev.BadgeID, "queued", added)
	return nil
}

// Register subscribes the handler on bus. The subscription is synchronous so
// popups queue in the order the badges were granted.
func (h *OnBadgeEarnedHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeSync(shared.EventBadgeEarned, h.Handle)
}
