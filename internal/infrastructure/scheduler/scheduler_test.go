package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule_Every(t *testing.T) {
	s, err := ParseSchedule("@every 5m")
	require.NoError(t, err)
	assert.Equal(t, "@every 5m0s", s.String())

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(5*time.Minute), s.Next(base))
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, spec := range []string{
		"@every nope",
		"@every -1s",
		"* * *",
		"60 * * * *",
		"5-2 * * * *",
		"*/0 * * * *",
	} {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestCronExpression_Next(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			expr:  "*/15 * * * *",
			after: time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC),
			want:  time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		},
		{
			expr:  "0 3 * * *",
			after: time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC),
		},
		{
			// 2024-03-01 is a Friday.
			expr:  "30 9 * * 1-5",
			after: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		},
		{
			expr:  "0 0 1,15 * *",
			after: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.after))
		})
	}
}

func TestScheduler_RegisterDuplicate(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := JobFunc{JobName: "a", Fn: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	boom := errors.New("boom")
	require.NoError(t, s.Register(JobFunc{JobName: "ok", Fn: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(JobFunc{JobName: "bad", Fn: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "boom")
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	hist := s.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "ok", hist[0].JobName)
	assert.Equal(t, "bad", hist[1].JobName)
}

func TestScheduler_RunOnStartAndNoOverlap(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	s := NewScheduler(SchedulerConfig{Tick: 5 * time.Millisecond, RunOnStart: true})
	require.NoError(t, s.Register(JobFunc{
		JobName: "slow",
		Fn: func(ctx context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	<-started

	// Many ticks pass while the first run is blocked.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	var mu sync.Mutex
	ran := false

	s := NewScheduler(SchedulerConfig{Tick: 5 * time.Millisecond, RunOnStart: true})
	require.NoError(t, s.Register(JobFunc{JobName: "off", Fn: func(context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.SetEnabled("off", false))
	assert.ErrorIs(t, s.SetEnabled("nope", true), ErrJobNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Enabled)
}
