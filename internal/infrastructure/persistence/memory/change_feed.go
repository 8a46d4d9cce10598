package memory

import (
	"context"
	"sync"

	"github.com/classquest/classquest/internal/domain/progress"
)

// ChangeFeed is an in-process progress.ChangeFeed. Slow watchers drop
// intermediate snapshots rather than blocking publishers; the latest state
// is always the one that matters.
type ChangeFeed struct {
	mu       sync.Mutex
	watchers map[string]map[chan *progress.Snapshot]struct{}
	buffer   int
}

// NewChangeFeed creates a feed with a per-watcher buffer.
func NewChangeFeed(buffer int) *ChangeFeed {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChangeFeed{
		watchers: make(map[string]map[chan *progress.Snapshot]struct{}),
		buffer:   buffer,
	}
}

// Publish delivers s to every watcher of s.UserID.
func (f *ChangeFeed) Publish(ctx context.Context, s *progress.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.watchers[s.UserID] {
		select {
		case ch <- s.Clone():
		default:
		}
	}
	return nil
}

// Watch blocks until ctx is done, calling fn for each snapshot.
func (f *ChangeFeed) Watch(ctx context.Context, userID string, ready func() error, fn func(*progress.Snapshot)) error {
	ch := make(chan *progress.Snapshot, f.buffer)

	f.mu.Lock()
	if f.watchers[userID] == nil {
		f.watchers[userID] = make(map[chan *progress.Snapshot]struct{})
	}
	f.watchers[userID][ch] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.watchers[userID], ch)
		if len(f.watchers[userID]) == 0 {
			delete(f.watchers, userID)
		}
		f.mu.Unlock()
	}()

	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-ch:
			fn(s)
		}
	}
}

// Watchers returns the number of active watchers of userID.
func (f *ChangeFeed) Watchers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[userID])
}
