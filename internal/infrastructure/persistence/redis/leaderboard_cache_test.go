package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/leaderboard"
)

func TestProgressChannel(t *testing.T) {
	assert.Equal(t, "progress:changes:u-1", ProgressChannel("u-1"))
}

func TestTieScore(t *testing.T) {
	head := []redis.Z{
		{Score: 500, Member: "dan"},
		{Score: 120, Member: "amy"},
	}

	t.Run("head shorter than limit", func(t *testing.T) {
		_, ok := tieScore(head, 3)
		assert.False(t, ok)
	})

	t.Run("head fills limit", func(t *testing.T) {
		score, ok := tieScore(head, 2)
		require.True(t, ok)
		assert.Equal(t, float64(120), score)
	})
}

func TestScoreArg(t *testing.T) {
	assert.Equal(t, "120", scoreArg(120))
	assert.Equal(t, "0", scoreArg(0))
}

func TestMergeIDs(t *testing.T) {
	got := mergeIDs([]string{"dan", "amy"}, []string{"amy", "cat", "cat"})
	assert.Equal(t, []string{"dan", "amy", "cat"}, got)
}

func TestMembers(t *testing.T) {
	got := members([]redis.Z{{Member: "a"}, {Member: 42}, {Member: "b"}})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDecodeEntries(t *testing.T) {
	raw := func(e leaderboard.Entry) string {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		return string(b)
	}
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("complete", func(t *testing.T) {
		vals := []any{
			raw(leaderboard.Entry{UserID: "u1", Username: "cat", XP: 120, LastUpdated: now}),
			raw(leaderboard.Entry{UserID: "u2", Username: "amy", XP: 120, LastUpdated: now}),
		}
		entries, ok := decodeEntries(vals)
		require.True(t, ok)
		require.Len(t, entries, 2)

		leaderboard.Sort(entries)
		assert.Equal(t, "amy", entries[0].Username)
		assert.Equal(t, "cat", entries[1].Username)
	})

	t.Run("missing field is a miss", func(t *testing.T) {
		vals := []any{raw(leaderboard.Entry{UserID: "u1", XP: 1}), nil}
		_, ok := decodeEntries(vals)
		assert.False(t, ok)
	})

	t.Run("malformed json is a miss", func(t *testing.T) {
		_, ok := decodeEntries([]any{"{not json"})
		assert.False(t, ok)
	})
}

func TestConfigOptions(t *testing.T) {
	t.Run("url wins", func(t *testing.T) {
		opts, err := Config{URL: "redis://:secret@cache:6380/2", Addr: "ignored:1"}.options()
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 2, opts.DB)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := Config{URL: "http://nope"}.options()
		assert.Error(t, err)
	})

	t.Run("fields", func(t *testing.T) {
		opts, err := DefaultConfig().options()
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, 10, opts.PoolSize)
	})
}

func TestIsOutage(t *testing.T) {
	assert.False(t, IsOutage(nil))
	assert.False(t, IsOutage(ErrCacheMiss))
	assert.False(t, IsOutage(fmt.Errorf("%w: unexpected end of JSON input", ErrCacheSerialization)))
	assert.False(t, IsOutage(redis.Nil))
	assert.False(t, IsOutage(context.Canceled))
	assert.False(t, IsOutage(leaderboard.Entry{}.Validate()))

	assert.True(t, IsOutage(errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")))
	assert.True(t, IsOutage(context.DeadlineExceeded))
	assert.True(t, IsOutage(fmt.Errorf("%w: i/o timeout", ErrCacheConnection)))
}
