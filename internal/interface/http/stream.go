package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/internal/infrastructure/service"
	"github.com/classquest/classquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER-SENT EVENTS
// One stream per learner carries two event types:
//   progress  the current snapshot, then every change
//   popup     show/hide of the badge popup queue
// ══════════════════════════════════════════════════════════════════════════════

const (
	sseEventProgress = "progress"
	sseEventPopup    = "popup"
)

type sseMessage struct {
	event string
	data  any
}

// handleStream handles GET /api/v1/users/{id}/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if _, err := shared.NewUserID(userID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	liveFeed := s.liveFeedEnabled(userID)
	popups := s.popupsEnabled(userID)
	if !liveFeed && !popups {
		writeJSONError(w, r, http.StatusNotFound, "stream_disabled", "No live updates are enabled for this user")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.FromContext(r.Context()).Warn("stream flush unsupported", logger.Err(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	snapshots := make(chan *progress.Snapshot, 8)
	if liveFeed {
		g.Go(func() error {
			return s.deps.SubscribeProgress.Handle(gctx, userID, func(snap *progress.Snapshot) {
				select {
				case snapshots <- snap:
				case <-gctx.Done():
				}
			})
		})
	}

	var popupCh <-chan service.PopupEvent
	if popups {
		ch, unsubscribe := s.deps.Popups.Subscribe(userID)
		defer unsubscribe()
		popupCh = ch
		if d, ok := s.deps.Popups.Current(userID); ok {
			s.writeSSE(w, rc, sseMessage{event: sseEventPopup, data: service.PopupEvent{
				ID:     uuid.NewString(),
				Type:   service.PopupShow,
				UserID: userID,
				Badge:  d,
				At:     time.Now().UTC(),
			}})
		}
	}

	heartbeat := time.NewTicker(s.config.StreamHeartbeat)
	defer heartbeat.Stop()

	log := logger.FromContext(r.Context()).With(logger.UserID(userID))
	log.Debug("stream opened", logger.Bool("live_feed", liveFeed), logger.Bool("popups", popups))
	if s.deps.Metrics != nil {
		s.deps.Metrics.StreamOpened()
		defer s.deps.Metrics.StreamClosed()
	}

loop:
	for {
		var msg sseMessage
		select {
		case <-gctx.Done():
			break loop
		case snap := <-snapshots:
			msg = sseMessage{event: sseEventProgress, data: snap}
		case ev, ok := <-popupCh:
			if !ok {
				popupCh = nil
				continue
			}
			msg = sseMessage{event: sseEventPopup, data: ev}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				break loop
			}
			if err := rc.Flush(); err != nil {
				break loop
			}
			continue
		}
		if err := s.writeSSE(w, rc, msg); err != nil {
			break loop
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Warn("progress subscription ended", logger.Err(err))
	}
	log.Debug("stream closed")
}

func (s *Server) writeSSE(w http.ResponseWriter, rc *http.ResponseController, msg sseMessage) error {
	data, err := json.Marshal(msg.data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), msg.event, data); err != nil {
		return err
	}
	return rc.Flush()
}
