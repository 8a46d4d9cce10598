package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/classquest/classquest/config"
	"github.com/classquest/classquest/internal/application/command"
	"github.com/classquest/classquest/internal/application/eventhandler"
	"github.com/classquest/classquest/internal/application/query"
	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/notification"
	"github.com/classquest/classquest/internal/infrastructure/messaging"
	"github.com/classquest/classquest/internal/infrastructure/metrics"
	"github.com/classquest/classquest/internal/infrastructure/persistence/memory"
	"github.com/classquest/classquest/internal/infrastructure/scheduler"
	"github.com/classquest/classquest/internal/infrastructure/service"
	"github.com/classquest/classquest/internal/interface/http/handlers"
	"github.com/classquest/classquest/pkg/logger"
	"github.com/classquest/classquest/pkg/timeutil"
)

type harness struct {
	srv      *Server
	progress *memory.ProgressRepository
	feed     *memory.ChangeFeed
	popups   *service.PopupService
	clock    *notification.ManualClock
}

func newHarness(t *testing.T, cfg Config, mutate func(*Dependencies)) *harness {
	t.Helper()

	h := &harness{
		progress: memory.NewProgressRepository(),
		feed:     memory.NewChangeFeed(8),
		clock:    notification.NewManualClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)),
	}
	catalog := badge.Default()
	mirror := service.NewLeaderboardService(memory.NewLeaderboardRepository(), nil, 0, nil)

	h.popups = service.NewPopupService(service.PopupOptions{Catalog: catalog, Clock: h.clock})
	t.Cleanup(h.popups.Close)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, eventhandler.NewOnBadgeEarnedHandler(h.popups, nil).Register(bus))

	engine := command.NewEngine(command.Deps{
		Progress: h.progress,
		Mirror:   mirror,
		Feed:     h.feed,
		Catalog:  catalog,
		Events:   bus,
		Clock:    timeutil.NewFixedClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)),
		Logger:   logger.Nop(),
	})

	deps := Dependencies{
		Award:             command.NewAwardHandler(engine),
		TrackLesson:       command.NewTrackLessonHandler(engine),
		TrackQuiz:         command.NewTrackQuizHandler(engine),
		TrackMiniGame:     command.NewTrackMiniGameHandler(engine),
		TrackEngagement:   command.NewTrackEngagementHandler(engine),
		GetProgress:       query.NewGetProgressHandler(h.progress, catalog),
		GetLeaderboard:    query.NewGetLeaderboardHandler(mirror),
		GetUserRank:       query.NewGetUserRankHandler(mirror),
		Badges:            query.NewBadgeQueries(catalog),
		SubscribeProgress: query.NewSubscribeProgressHandler(h.progress, h.feed, nil, nil),
		Popups:            h.popups,
		Features:          config.NewFeatureFlags(),
		Logger:            logger.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.srv = NewServer(cfg, deps)
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return cfg
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (h *harness) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestAward_ReturnsEnvelope(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec, env := h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":120,"username":"amy"}`, "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	var res command.AwardResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 120, res.NewXP)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, 1, res.NewStreak)
	assert.True(t, res.LevelUp)
}

func TestAward_BadInput(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec, env := h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	rec, env = h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":5,"bonus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", env.Error.Code)

	rec, env = h.do(t, "POST", "/api/v1/users/u1/quizzes", `{"score":140,"passed":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "score must be at most 100", env.Error.Message)

	rec, env = h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":5,"username":"`+strings.Repeat("x", 65)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Contains(t, env.Error.Message, "username")

	rec, env = h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":100001}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "xp must be at most 100000", env.Error.Message)

	rec, _ = h.do(t, "POST", "/api/v1/users/u1/math", `{"count":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteEndpointsRequireAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("classroom-key"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.APIKeyHashes = []string{string(hash)}
	h := newHarness(t, cfg, nil)

	rec, env := h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":10}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, env = h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":10}`, "X-API-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	rec, _ = h.do(t, "POST", "/api/v1/users/u1/award", `{"xp":10}`, "X-API-Key", "classroom-key")
	assert.Equal(t, http.StatusOK, rec.Code)

	// reads stay open
	rec, _ = h.do(t, "GET", "/api/v1/users/u1/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLessonEarnsBadgeAndQueuesPopup(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec, env := h.do(t, "POST", "/api/v1/users/u1/lessons", `{"subject":"Math"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res command.TrackResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Contains(t, res.EarnedBadges, badge.IDDailyStarter)

	h.clock.Advance(0)

	_, env = h.do(t, "GET", "/api/v1/users/u1/popups", "")
	var st struct {
		Showing *badge.Descriptor `json:"showing"`
		Pending []string          `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.NotNil(t, st.Showing)
	assert.Equal(t, badge.IDDailyStarter, st.Showing.ID)

	rec, _ = h.do(t, "POST", "/api/v1/users/u1/popups/dismiss", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, "POST", "/api/v1/users/u1/popups/dismiss", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestProgress_ZeroStateForNewUser(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec, env := h.do(t, "GET", "/api/v1/users/brand-new/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.EqualValues(t, 0, view["xp"])
	assert.EqualValues(t, 1, view["level"])
}

func TestLeaderboardEndpoints(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	for _, a := range []struct{ id, name, xp string }{
		{"u1", "cat", "30"}, {"u2", "amy", "50"}, {"u3", "bob", "50"},
	} {
		rec, _ := h.do(t, "POST", "/api/v1/users/"+a.id+"/award", `{"xp":`+a.xp+`,"username":"`+a.name+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env := h.do(t, "GET", "/api/v1/leaderboard?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var board query.GetLeaderboardResult
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "amy", board.Entries[0].Username)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, "bob", board.Entries[1].Username)
	assert.Equal(t, 2, board.Entries[1].Rank)

	rec, env = h.do(t, "GET", "/api/v1/leaderboard/users/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me query.LeaderboardEntryDTO
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, 3, me.Rank)

	rec, _ = h.do(t, "GET", "/api/v1/leaderboard/users/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, "GET", "/api/v1/leaderboard?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBadgeEndpoints(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	rec, env := h.do(t, "GET", "/api/v1/badges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []query.RarityGroup
	require.NoError(t, json.Unmarshal(env.Data, &groups))
	total := 0
	for _, g := range groups {
		total += len(g.Badges)
	}
	assert.Equal(t, badge.Default().Len(), total)

	rec, env = h.do(t, "GET", "/api/v1/badges/not-a-badge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d badge.Descriptor
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.False(t, d.Known)
	assert.Equal(t, "Mystery Badge", d.Name)
}

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("down") })
	h := newHarness(t, testConfig(), func(d *Dependencies) { d.HealthChecker = checker })

	rec, _ := h.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = h.do(t, "GET", "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = h.do(t, "GET", "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, "GET", "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, "GET", "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	h := newHarness(t, cfg, nil)
	t.Cleanup(h.srv.stopBackground)

	for i := 0; i < 2; i++ {
		rec, _ := h.do(t, "GET", "/live", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := h.do(t, "GET", "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	rec, _ := h.do(t, "OPTIONS", "/api/v1/users/u1/award", "", "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

type fakeJobs struct{}

func (fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "rebuild_leaderboard", Enabled: true}}
}

func (fakeJobs) RunNow(_ context.Context, name string) (scheduler.JobResult, error) {
	if name != "rebuild_leaderboard" {
		return scheduler.JobResult{}, scheduler.ErrJobNotFound
	}
	return scheduler.JobResult{JobName: name, Success: true, Manual: true}, nil
}

func TestAdminJobs(t *testing.T) {
	h := newHarness(t, testConfig(), func(d *Dependencies) { d.Jobs = fakeJobs{} })

	rec, _ := h.do(t, "GET", "/api/v1/admin/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := h.do(t, "POST", "/api/v1/admin/jobs/rebuild_leaderboard/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res scheduler.JobResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Manual)

	rec, _ = h.do(t, "POST", "/api/v1/admin/jobs/nope/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAM
// ══════════════════════════════════════════════════════════════════════════════

type sseEvent struct {
	event string
	data  string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.event != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStream_ProgressAndPopups(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/users/u1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)

	first := readEvent(t, rd)
	assert.Equal(t, sseEventProgress, first.event)
	assert.Contains(t, first.data, `"xp":0`)

	require.Eventually(t, func() bool { return h.feed.Watchers("u1") > 0 }, 2*time.Second, 10*time.Millisecond)

	post, err := http.Post(ts.URL+"/api/v1/users/u1/lessons", "application/json", bytes.NewBufferString(`{"subject":"science"}`))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	changed := readEvent(t, rd)
	assert.Equal(t, sseEventProgress, changed.event)
	assert.Contains(t, changed.data, `"lessonsCompleted":1`)

	h.clock.Advance(0)
	shown := readEvent(t, rd)
	assert.Equal(t, sseEventPopup, shown.event)
	assert.Contains(t, shown.data, `"type":"show"`)
	assert.Contains(t, shown.data, badge.IDDailyStarter)

	h.clock.Advance(4200 * time.Millisecond)
	hidden := readEvent(t, rd)
	assert.Equal(t, sseEventPopup, hidden.event)
	assert.Contains(t, hidden.data, `"type":"hide"`)
}

func TestStream_DisabledByFlags(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureProgressLiveFeed))
	require.NoError(t, flags.DisableFeature(config.FeatureNotifyBadgePopups))
	h := newHarness(t, testConfig(), func(d *Dependencies) { d.Features = flags })

	rec, env := h.do(t, "GET", "/api/v1/users/u1/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "stream_disabled", env.Error.Code)
}

func TestMetrics_RouteLabels(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, testConfig(), func(d *Dependencies) { d.Metrics = m })

	rec, _ := h.do(t, "GET", "/api/v1/users/u7/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="GET /api/v1/users/{id}/progress"`)
	assert.NotContains(t, body, "u7")
}

func TestMetrics_RouteAbsentWithoutRecorder(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	rec, _ := h.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
