// Package notification sequences badge-unlock popups so that exactly one is
// visible at a time.
package notification

import (
	"sync"
	"time"

	"github.com/classquest/classquest/internal/domain/badge"
	"github.com/classquest/classquest/internal/domain/shared"
)

// Default timings.
const (
	DefaultDisplayDuration = 4200 * time.Millisecond
	DefaultCooldown        = 250 * time.Millisecond
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
//
//	Idle ──enqueue──▶ Starting ──start──▶ Showing ──timeout|dismiss──▶ Cooldown
//	  ▲                  ▲                                               │
//	  └──── queue empty ─┴────────────── queue non-empty ────────────────┘
// ══════════════════════════════════════════════════════════════════════════════

// State is the position of the popup sequencer.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateShowing
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateShowing:
		return "showing"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// HideReason tells the presenter why a popup went away.
type HideReason string

const (
	HideTimeout   HideReason = "timeout"
	HideDismissed HideReason = "dismissed"
	HideClosed    HideReason = "closed"
)

// Presenter displays popups. Its methods run with the queue locked and must
// not call back into the queue.
type Presenter interface {
	Show(d badge.Descriptor)
	Hide(d badge.Descriptor, reason HideReason)
}

// PresenterFuncs adapts two functions to a Presenter. Nil funcs are skipped.
type PresenterFuncs struct {
	OnShow func(d badge.Descriptor)
	OnHide func(d badge.Descriptor, reason HideReason)
}

func (p PresenterFuncs) Show(d badge.Descriptor) {
	if p.OnShow != nil {
		p.OnShow(d)
	}
}

func (p PresenterFuncs) Hide(d badge.Descriptor, reason HideReason) {
	if p.OnHide != nil {
		p.OnHide(d, reason)
	}
}

// Options configures a Queue.
type Options struct {
	Clock           Clock
	DisplayDuration time.Duration
	Cooldown        time.Duration
}

// Queue is a single-sequencer popup FSM. Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	clock     Clock
	presenter Presenter
	display   time.Duration
	cooldown  time.Duration

	state   State
	pending []badge.Descriptor
	current *badge.Descriptor
	timer   Timer
	// gen invalidates callbacks of timers that were superseded.
	gen    uint64
	closed bool
}

// NewQueue creates an idle queue.
func NewQueue(p Presenter, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.DisplayDuration <= 0 {
		opts.DisplayDuration = DefaultDisplayDuration
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Queue{
		clock:     opts.Clock,
		presenter: p,
		display:   opts.DisplayDuration,
		cooldown:  opts.Cooldown,
	}
}

// Enqueue appends d unless a popup with the same badge id is already
// pending. It reports whether d was added. When the queue is idle the
// display is scheduled to start.
func (q *Queue) Enqueue(d badge.Descriptor) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, shared.ErrQueueClosed
	}
	for _, p := range q.pending {
		if p.ID == d.ID {
			return false, nil
		}
	}
	q.pending = append(q.pending, d)

	if q.state == StateIdle {
		q.state = StateStarting
		q.scheduleLocked(0, q.start)
	}
	return true, nil
}

// Dismiss hides the visible popup early.
func (q *Queue) Dismiss() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateShowing {
		return shared.ErrNothingShowing
	}
	q.hideLocked(HideDismissed)
	return nil
}

// Close stops all timers, hides the visible popup and drops pending ones.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.state == StateShowing && q.current != nil {
		q.presenter.Hide(*q.current, HideClosed)
	}
	q.current = nil
	q.pending = nil
	q.state = StateIdle
}

// State returns the current FSM state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Current returns the visible popup, if any.
func (q *Queue) Current() (badge.Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return badge.Descriptor{}, false
	}
	return *q.current, true
}

// Pending returns the ids waiting to be shown, in order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.pending))
	for i, p := range q.pending {
		ids[i] = p.ID
	}
	return ids
}

// Idle reports whether nothing is visible or waiting.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == StateIdle && len(q.pending) == 0
}

// ──────────────────────────────────────────────────────────────────────────────
// transitions (called with mu held)
// ──────────────────────────────────────────────────────────────────────────────

func (q *Queue) scheduleLocked(d time.Duration, step func()) {
	q.gen++
	gen := q.gen
	q.timer = q.clock.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed || gen != q.gen {
			return
		}
		q.timer = nil
		step()
	})
}

// start: Starting → Showing.
func (q *Queue) start() {
	if q.state != StateStarting {
		return
	}
	if len(q.pending) == 0 {
		q.state = StateIdle
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next
	q.state = StateShowing
	q.presenter.Show(next)
	q.scheduleLocked(q.display, func() { q.hideLocked(HideTimeout) })
}

// hideLocked: Showing → Cooldown.
func (q *Queue) hideLocked(reason HideReason) {
	if q.state != StateShowing || q.current == nil {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	shown := *q.current
	q.current = nil
	q.state = StateCooldown
	q.presenter.Hide(shown, reason)
	q.scheduleLocked(q.cooldown, q.afterCooldown)
}

// afterCooldown: Cooldown → Starting | Idle.
func (q *Queue) afterCooldown() {
	if q.state != StateCooldown {
		return
	}
	if len(q.pending) == 0 {
		q.state = StateIdle
		return
	}
	q.state = StateStarting
	q.start()
}
