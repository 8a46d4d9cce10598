package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/classquest/classquest/config"
	"github.com/classquest/classquest/internal/application/command"
	"github.com/classquest/classquest/internal/application/query"
	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
	"github.com/classquest/classquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "ClassQuest API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"badges":      "/api/v1/badges",
			"leaderboard": "/api/v1/leaderboard",
			"progress":    "/api/v1/users/{id}/progress",
			"stream":      "/api/v1/users/{id}/stream",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ENGINE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type awardRequest struct {
	XP       int    `json:"xp" validate:"gte=0,lte=100000"`
	Username string `json:"username,omitempty" validate:"omitempty,max=64"`
}

// handleAward handles POST /api/v1/users/{id}/award
func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	if s.deps.Award == nil {
		writeNotConfigured(w, r, "award")
		return
	}
	var req awardRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Award.Handle(r.Context(), command.AwardCommand{
		UserID:        r.PathValue("id"),
		XPDelta:       req.XP,
		Username:      req.Username,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type lessonRequest struct {
	Subject string `json:"subject" validate:"omitempty,max=64"`
}

// handleTrackLesson handles POST /api/v1/users/{id}/lessons
func (s *Server) handleTrackLesson(w http.ResponseWriter, r *http.Request) {
	if s.deps.TrackLesson == nil {
		writeNotConfigured(w, r, "lesson tracking")
		return
	}
	var req lessonRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.TrackLesson.Handle(r.Context(), command.TrackLessonCommand{
		UserID:  r.PathValue("id"),
		Subject: req.Subject,
	})
	s.writeTrackResult(w, r, res, err)
}

type quizRequest struct {
	Score  int  `json:"score" validate:"gte=0,lte=100"`
	Passed bool `json:"passed"`
}

// handleTrackQuiz handles POST /api/v1/users/{id}/quizzes
func (s *Server) handleTrackQuiz(w http.ResponseWriter, r *http.Request) {
	if s.deps.TrackQuiz == nil {
		writeNotConfigured(w, r, "quiz tracking")
		return
	}
	var req quizRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.TrackQuiz.Handle(r.Context(), command.TrackQuizCommand{
		UserID: r.PathValue("id"),
		Score:  req.Score,
		Passed: req.Passed,
	})
	s.writeTrackResult(w, r, res, err)
}

type miniGameRequest struct {
	GameID string `json:"game_id" validate:"omitempty,max=64"`
}

// handleTrackMiniGame handles POST /api/v1/users/{id}/minigames
func (s *Server) handleTrackMiniGame(w http.ResponseWriter, r *http.Request) {
	if s.deps.TrackMiniGame == nil {
		writeNotConfigured(w, r, "mini-game tracking")
		return
	}
	var req miniGameRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.TrackMiniGame.Handle(r.Context(), command.TrackMiniGameCommand{
		UserID: r.PathValue("id"),
		GameID: req.GameID,
	})
	s.writeTrackResult(w, r, res, err)
}

type engagementRequest struct {
	Count int `json:"count" validate:"gte=0,lte=10000"`
}

// handleEngagement serves the study-group, bookmark and math endpoints.
func (s *Server) handleEngagement(kind command.EngagementKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.TrackEngagement == nil {
			writeNotConfigured(w, r, "engagement tracking")
			return
		}
		var req engagementRequest
		if !s.decode(w, r, &req) {
			return
		}
		res, err := s.deps.TrackEngagement.Handle(r.Context(), command.TrackEngagementCommand{
			UserID: r.PathValue("id"),
			Kind:   kind,
			Count:  req.Count,
		})
		s.writeTrackResult(w, r, res, err)
	}
}

func (s *Server) writeTrackResult(w http.ResponseWriter, r *http.Request, res *command.TrackResult, err error) {
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & POPUP HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgress == nil {
		writeNotConfigured(w, r, "progress")
		return
	}
	view, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{UserID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

type popupState struct {
	Showing any      `json:"showing"`
	Pending []string `json:"pending"`
}

// handleGetPopups handles GET /api/v1/users/{id}/popups
func (s *Server) handleGetPopups(w http.ResponseWriter, r *http.Request) {
	if s.deps.Popups == nil {
		writeNotConfigured(w, r, "popups")
		return
	}
	userID := r.PathValue("id")
	st := popupState{Pending: s.deps.Popups.Pending(userID)}
	if d, ok := s.deps.Popups.Current(userID); ok {
		st.Showing = d
	}
	writeJSON(w, r, http.StatusOK, st)
}

// handleDismissPopup handles POST /api/v1/users/{id}/popups/dismiss
func (s *Server) handleDismissPopup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Popups == nil {
		writeNotConfigured(w, r, "popups")
		return
	}
	if err := s.deps.Popups.Dismiss(r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"dismissed": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE & LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListBadges handles GET /api/v1/badges
func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	if s.deps.Badges == nil {
		writeNotConfigured(w, r, "badges")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Badges.List())
}

// handleDescribeBadge handles GET /api/v1/badges/{id}. Unknown ids get the
// generic descriptor with a 200.
func (s *Server) handleDescribeBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Badges == nil {
		writeNotConfigured(w, r, "badges")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Badges.Describe(r.PathValue("id")))
}

// handleGetLeaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLeaderboard == nil {
		writeNotConfigured(w, r, "leaderboard")
		return
	}
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	res, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{
		TotalCount: len(res.Entries),
		Limit:      res.Limit,
	})
}

// handleGetUserRank handles GET /api/v1/leaderboard/users/{id}
func (s *Server) handleGetUserRank(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetUserRank == nil {
		writeNotConfigured(w, r, "leaderboard")
		return
	}
	res, err := s.deps.GetUserRank.Handle(r.Context(), query.GetUserRankQuery{UserID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeNotConfigured(w, r, "scheduler")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeNotConfigured(w, r, "scheduler")
		return
	}
	res, err := s.deps.Jobs.RunNow(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		writeJSONWithMeta(w, r, http.StatusInternalServerError, res, nil)
	default:
		writeJSON(w, r, http.StatusOK, res)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads an optional JSON body into v. An empty body leaves v zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", validationMessage(err))
		return false
	}
	return true
}

// writeDomainError maps error kinds to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrStateTransition), errors.Is(err, shared.ErrInvalidState):
		writeJSONError(w, r, http.StatusConflict, "conflict", err.Error())
	case shared.IsRetryable(err):
		logger.FromContext(r.Context()).Warn("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func writeNotConfigured(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", what+" is not configured")
}

// liveFeedEnabled and popupsEnabled read the per-user feature flags.
func (s *Server) liveFeedEnabled(userID string) bool {
	return s.deps.SubscribeProgress != nil && s.deps.Features.EnabledFor(config.FeatureProgressLiveFeed, userID)
}

func (s *Server) popupsEnabled(userID string) bool {
	return s.deps.Popups != nil && s.deps.Features.EnabledFor(config.FeatureNotifyBadgePopups, userID)
}
