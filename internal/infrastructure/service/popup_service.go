package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/notification"
	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POPUP SERVICE
// One notification.Queue per user. Queue callbacks are turned into
// PopupEvents and fanned out to that user's subscribers (the SSE stream).
//
// Lock order: mu (queues) → queue lock → subMu (subscribers).
// ══════════════════════════════════════════════════════════════════════════════

// PopupEventType is show or hide.
type PopupEventType string

const (
	PopupShow PopupEventType = "show"
	PopupHide PopupEventType = "hide"
)

// PopupEvent is delivered to subscribers when a popup appears or goes away.
type PopupEvent struct {
	ID     string                  `json:"id"`
	Type   PopupEventType          `json:"type"`
	UserID string                  `json:"user_id"`
	Badge  badge.Descriptor        `json:"badge"`
	Reason notification.HideReason `json:"reason,omitempty"`
	At     time.Time               `json:"at"`
}

// PopupOptions configures a PopupService.
type PopupOptions struct {
	Catalog *badge.Catalog
	Clock   notification.Clock
	// DisplayDuration and Cooldown fall back to the notification defaults.
	DisplayDuration time.Duration
	Cooldown        time.Duration
	// Buffer is the per-subscriber channel size.
	Buffer int
	Logger *slog.Logger
}

// PopupService owns the per-user popup queues.
type PopupService struct {
	mu     sync.Mutex
	queues map[string]*notification.Queue
	closed bool

	subMu   sync.Mutex
	subs    map[string]map[uint64]chan PopupEvent
	nextSub uint64

	catalog *badge.Catalog
	clock   notification.Clock
	qopts   notification.Options
	buffer  int
	logger  *slog.Logger
}

// NewPopupService creates an empty service.
func NewPopupService(opts PopupOptions) *PopupService {
	if opts.Catalog == nil {
		opts.Catalog = badge.Default()
	}
	if opts.Clock == nil {
		opts.Clock = notification.RealClock{}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PopupService{
		queues:  make(map[string]*notification.Queue),
		subs:    make(map[string]map[uint64]chan PopupEvent),
		catalog: opts.Catalog,
		clock:   opts.Clock,
		qopts: notification.Options{
			Clock:           opts.Clock,
			DisplayDuration: opts.DisplayDuration,
			Cooldown:        opts.Cooldown,
		},
		buffer: opts.Buffer,
		logger: opts.Logger.With("component", "popup_service"),
	}
}

// Announce enqueues the popup for badgeID on the user's queue. It reports
// whether the popup was added (false when it is already pending).
func (s *PopupService) Announce(ctx context.Context, userID, badgeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d := s.catalog.Describe(badgeID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, shared.ErrQueueClosed
	}
	q, ok := s.queues[userID]
	if !ok {
		q = notification.NewQueue(s.presenter(userID), s.qopts)
		s.queues[userID] = q
	}
	added, err := q.Enqueue(d)
	if err != nil {
		return false, err
	}
	if added {
		s.logger.Debug("popup queued", "user_id", userID, "badge_id", badgeID)
	}
	return added, nil
}

// Dismiss hides the user's visible popup early.
func (s *PopupService) Dismiss(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		return shared.ErrNothingShowing
	}
	return q.Dismiss()
}

// Current returns the visible popup for userID.
func (s *PopupService) Current(userID string) (badge.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		return badge.Descriptor{}, false
	}
	return q.Current()
}

// Pending returns the waiting badge ids for userID.
func (s *PopupService) Pending(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		return []string{}
	}
	return q.Pending()
}

// Subscribe returns a channel of the user's popup events and a cancel func
// that closes it. Events are dropped for subscribers whose buffer is full.
func (s *PopupService) Subscribe(userID string) (<-chan PopupEvent, func()) {
	ch := make(chan PopupEvent, s.buffer)

	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[uint64]chan PopupEvent)
	}
	s.subs[userID][id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[userID][id]; ok {
				delete(s.subs[userID], id)
				if len(s.subs[userID]) == 0 {
					delete(s.subs, userID)
				}
				close(c)
			}
		})
	}
	return ch, cancel
}

// Sweep drops idle queues of users without subscribers and returns how many
// were removed.
func (s *PopupService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, q := range s.queues {
		if !q.Idle() || s.subscribers(userID) > 0 {
			continue
		}
		q.Close()
		delete(s.queues, userID)
		removed++
	}
	return removed
}

// Queues returns the number of live queues.
func (s *PopupService) Queues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Close stops every queue and closes every subscriber channel.
func (s *PopupService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		q.Close()
	}
	s.queues = make(map[string]*notification.Queue)
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for userID, m := range s.subs {
		for _, ch := range m {
			close(ch)
		}
		delete(s.subs, userID)
	}
}

func (s *PopupService) subscribers(userID string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs[userID])
}

// presenter runs under the queue lock; it only touches subMu.
func (s *PopupService) presenter(userID string) notification.Presenter {
	return notification.PresenterFuncs{
		OnShow: func(d badge.Descriptor) {
			s.broadcast(PopupEvent{Type: PopupShow, UserID: userID, Badge: d})
		},
		OnHide: func(d badge.Descriptor, reason notification.HideReason) {
			s.broadcast(PopupEvent{Type: PopupHide, UserID: userID, Badge: d, Reason: reason})
		},
	}
}

func (s *PopupService) broadcast(ev PopupEvent) {
	ev.ID = uuid.NewString()
	ev.At = s.clock.Now().UTC()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("popup subscriber lagging, event dropped",
				"user_id", ev.UserID, "badge_id", ev.Badge.ID, "type", ev.Type)
		}
	}
}
