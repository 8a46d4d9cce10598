package leaderboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/shared"
)

func TestRank_OrdersByXPThenUsername(t *testing.T) {
	entries := []Entry{
		{UserID: "u1", Username: "carol", XP: 50},
		{UserID: "u2", Username: "bob", XP: 120},
		{UserID: "u3", Username: "alice", XP: 50},
		{UserID: "u4", Username: "dave", XP: 300},
	}

	ranked := Rank(entries, 0)
	require.Len(t, ranked, 4)

	var names []string
	for i, r := range ranked {
		assert.Equal(t, shared.Rank(i+1), r.Rank)
		names = append(names, r.Username)
	}
	assert.Equal(t, []string{"dave", "bob", "alice", "carol"}, names)

	// input untouched
	assert.Equal(t, "carol", entries[0].Username)
}

func TestRank_Limit(t *testing.T) {
	entries := []Entry{
		{UserID: "a", XP: 1},
		{UserID: "b", XP: 2},
		{UserID: "c", XP: 3},
	}
	ranked := Rank(entries, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "c", ranked[0].UserID)
	assert.Equal(t, "b", ranked[1].UserID)
}

func TestLess_FallsBackToUserID(t *testing.T) {
	a := Entry{UserID: "a", XP: 10}
	b := Entry{UserID: "b", XP: 10}
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestPositionOf(t *testing.T) {
	others := []Entry{
		{UserID: "u1", Username: "amy", XP: 100},
		{UserID: "u2", Username: "zed", XP: 100},
		{UserID: "u3", Username: "kim", XP: 10},
	}
	me := Entry{UserID: "me", Username: "max", XP: 100}
	assert.Equal(t, shared.Rank(2), PositionOf(me, others))

	// own row is ignored
	assert.Equal(t, shared.Rank(1), PositionOf(others[0], others))
}

func TestEntry_Validate(t *testing.T) {
	assert.NoError(t, Entry{UserID: "u1"}.Validate())
	assert.ErrorIs(t, Entry{}.Validate(), shared.ErrInvalidID)
	assert.True(t, shared.IsValidation(Entry{UserID: "u1", XP: -1}.Validate()))
}
