package notification

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/shared"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Show(d badge.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "show:"+d.ID)
}

func (r *recorder) Hide(d badge.Descriptor, reason HideReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("hide:%s:%s", d.ID, reason))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestQueue() (*Queue, *ManualClock, *recorder) {
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	q := NewQueue(rec, Options{Clock: clock})
	return q, clock, rec
}

func desc(id string) badge.Descriptor {
	return badge.Descriptor{ID: id, Name: id, Known: true}
}

func TestQueue_ShowsThenHidesAfterDuration(t *testing.T) {
	q, clock, rec := newTestQueue()

	added, err := q.Enqueue(desc("a"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, StateStarting, q.State())

	clock.Advance(0)
	assert.Equal(t, StateShowing, q.State())
	assert.Equal(t, []string{"show:a"}, rec.Events())

	clock.Advance(DefaultDisplayDuration - time.Millisecond)
	assert.Equal(t, StateShowing, q.State())

	clock.Advance(time.Millisecond)
	assert.Equal(t, StateCooldown, q.State())

	clock.Advance(DefaultCooldown)
	assert.Equal(t, StateIdle, q.State())
	assert.True(t, q.Idle())
	assert.Equal(t, []string{"show:a", "hide:a:timeout"}, rec.Events())
	assert.Zero(t, clock.Pending())
}

func TestQueue_DedupesPendingBadge(t *testing.T) {
	q, clock, rec := newTestQueue()

	added, err := q.Enqueue(desc("a"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(desc("a"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"a"}, q.Pending())

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"show:a", "hide:a:timeout"}, rec.Events())
}

func TestQueue_OneAtATimeInOrder(t *testing.T) {
	q, clock, rec := newTestQueue()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(desc(id))
		require.NoError(t, err)
	}

	clock.Advance(0)
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.ID)
	assert.Equal(t, []string{"b", "c"}, q.Pending())

	// during cooldown nothing is visible
	clock.Advance(DefaultDisplayDuration)
	_, ok = q.Current()
	assert.False(t, ok)
	assert.Equal(t, StateCooldown, q.State())

	clock.Advance(DefaultCooldown)
	cur, _ = q.Current()
	assert.Equal(t, "b", cur.ID)

	clock.Advance(time.Minute)
	assert.Equal(t, []string{
		"show:a", "hide:a:timeout",
		"show:b", "hide:b:timeout",
		"show:c", "hide:c:timeout",
	}, rec.Events())
	assert.Equal(t, StateIdle, q.State())
}

func TestQueue_SameBadgeAfterDisplayStarts(t *testing.T) {
	q, clock, rec := newTestQueue()

	_, _ = q.Enqueue(desc("a"))
	clock.Advance(0)

	// "a" is visible, no longer pending, so it queues again
	added, err := q.Enqueue(desc("a"))
	require.NoError(t, err)
	assert.True(t, added)

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"show:a", "hide:a:timeout", "show:a", "hide:a:timeout"}, rec.Events())
}

func TestQueue_Dismiss(t *testing.T) {
	q, clock, rec := newTestQueue()

	assert.ErrorIs(t, q.Dismiss(), shared.ErrStateTransition)

	_, _ = q.Enqueue(desc("a"))
	_, _ = q.Enqueue(desc("b"))
	clock.Advance(0)

	clock.Advance(time.Second)
	require.NoError(t, q.Dismiss())
	assert.Equal(t, StateCooldown, q.State())
	assert.ErrorIs(t, q.Dismiss(), shared.ErrNothingShowing)

	clock.Advance(DefaultCooldown)
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)

	// the cancelled display timer of "a" must not cut "b" short
	clock.Advance(DefaultDisplayDuration - time.Millisecond)
	assert.Equal(t, StateShowing, q.State())

	assert.Equal(t, []string{"show:a", "hide:a:dismissed", "show:b"}, rec.Events())
}

func TestQueue_EnqueueDuringCooldownWaits(t *testing.T) {
	q, clock, rec := newTestQueue()

	_, _ = q.Enqueue(desc("a"))
	clock.Advance(DefaultDisplayDuration)
	require.Equal(t, StateCooldown, q.State())

	_, _ = q.Enqueue(desc("b"))
	assert.Equal(t, StateCooldown, q.State())

	clock.Advance(DefaultCooldown - time.Millisecond)
	assert.Equal(t, []string{"show:a", "hide:a:timeout"}, rec.Events())

	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"show:a", "hide:a:timeout", "show:b"}, rec.Events())
}

func TestQueue_Close(t *testing.T) {
	q, clock, rec := newTestQueue()

	_, _ = q.Enqueue(desc("a"))
	_, _ = q.Enqueue(desc("b"))
	clock.Advance(0)

	q.Close()
	clock.Advance(time.Minute)

	assert.Equal(t, []string{"show:a", "hide:a:closed"}, rec.Events())
	_, err := q.Enqueue(desc("c"))
	assert.ErrorIs(t, err, shared.ErrQueueClosed)
}

func TestQueue_CustomTimings(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	rec := &recorder{}
	q := NewQueue(rec, Options{Clock: clock, DisplayDuration: time.Second, Cooldown: 10 * time.Millisecond})

	_, _ = q.Enqueue(desc("a"))
	_, _ = q.Enqueue(desc("b"))
	clock.Advance(time.Second + 10*time.Millisecond)

	assert.Equal(t, []string{"show:a", "hide:a:timeout", "show:b"}, rec.Events())
}
