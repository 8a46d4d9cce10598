package eventhandler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/internal/infrastructure/messaging"
)

type announceCall struct{ userID, badgeID string }

type fakeAnnouncer struct {
	calls []announceCall
	err   error
}

func (f *fakeAnnouncer) Announce(_ context.Context, userID, badgeID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.calls = append(f.calls, announceCall{userID, badgeID})
	return true, nil
}

func TestOnBadgeEarned_AnnouncesThroughBus(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	popups := &fakeAnnouncer{}
	require.NoError(t, NewOnBadgeEarnedHandler(popups, nil).Register(bus))

	require.NoError(t, bus.Publish(shared.NewBadgeEarnedEvent("u1", "daily-starter")))
	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("u1", 10, 10)))
	require.NoError(t, bus.Publish(shared.NewBadgeEarnedEvent("u1", "quiz-rookie")))

	assert.Equal(t, []announceCall{
		{"u1", "daily-starter"},
		{"u1", "quiz-rookie"},
	}, popups.calls)
}

func TestOnBadgeEarned_AsyncBusKeepsGrantOrder(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: true})
	defer bus.Close()
	popups := &fakeAnnouncer{}
	require.NoError(t, NewOnBadgeEarnedHandler(popups, nil).Register(bus))

	for _, id := range []string{"daily-starter", "xp-collector", "quiz-rookie"} {
		require.NoError(t, bus.Publish(shared.NewBadgeEarnedEvent("u1", id)))
	}

	assert.Equal(t, []announceCall{
		{"u1", "daily-starter"},
		{"u1", "xp-collector"},
		{"u1", "quiz-rookie"},
	}, popups.calls)
}

func TestOnBadgeEarned_IgnoresOtherEvents(t *testing.T) {
	popups := &fakeAnnouncer{}
	h := NewOnBadgeEarnedHandler(popups, nil)

	assert.NoError(t, h.Handle(shared.NewLevelUpEvent("u1", 1, 2)))
	assert.Empty(t, popups.calls)
}

func TestOnBadgeEarned_ReturnsAnnounceError(t *testing.T) {
	h := NewOnBadgeEarnedHandler(&fakeAnnouncer{err: shared.ErrQueueClosed}, nil)
	err := h.Handle(shared.NewBadgeEarnedEvent("u1", "x"))
	assert.True(t, errors.Is(err, shared.ErrQueueClosed))
}

func TestAuditLog_WritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	require.NoError(t, NewAuditLogHandler(logger).Register(bus))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("u1", 10, 110)))

	out := buf.String()
	assert.Contains(t, out, `"event_type":"progress.xp_awarded"`)
	assert.Contains(t, out, `"user_id":"u1"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}
