package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/timeutil"
)

var today = timeutil.DateOf(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))

func TestApplyAward_FirstAward(t *testing.T) {
	s := NewSnapshot("u1")

	out, err := s.ApplyAward(10, today)
	require.NoError(t, err)

	assert.Equal(t, 10, s.XP)
	assert.Equal(t, 1, s.Level)
	assert.Equal(t, 1, s.StreakDays)
	assert.Equal(t, "2026-03-15", s.LastActivityDate)
	assert.False(t, out.LevelUp(s))
	assert.Equal(t, timeutil.Gap, out.Transition)
}

func TestApplyAward_SameDayKeepsStreak(t *testing.T) {
	s := NewSnapshot("u1")
	s.StreakDays = 4
	s.LastActivityDate = today.String()

	_, err := s.ApplyAward(0, today)
	require.NoError(t, err)
	_, err = s.ApplyAward(0, today)
	require.NoError(t, err)

	assert.Equal(t, 4, s.StreakDays)
	assert.Equal(t, 0, s.XP)
}

func TestApplyAward_YesterdayIncrements(t *testing.T) {
	for _, delta := range []int{0, 5, 500} {
		s := NewSnapshot("u1")
		s.StreakDays = 9
		s.LastActivityDate = today.AddDays(-1).String()

		out, err := s.ApplyAward(delta, today)
		require.NoError(t, err)
		assert.Equal(t, 10, s.StreakDays, "delta=%d", delta)
		assert.Equal(t, timeutil.NextDay, out.Transition)
		assert.True(t, out.StreakChanged(s))
	}
}

func TestApplyAward_GapResets(t *testing.T) {
	for _, last := range []string{today.AddDays(-2).String(), today.AddDays(-40).String(), "", "garbage"} {
		s := NewSnapshot("u1")
		s.StreakDays = 12
		s.BestStreak = 12
		s.LastActivityDate = last

		_, err := s.ApplyAward(1, today)
		require.NoError(t, err)
		assert.Equal(t, 1, s.StreakDays, "last=%q", last)
		assert.Equal(t, 12, s.BestStreak)
	}
}

func TestApplyAward_LevelUp(t *testing.T) {
	s := NewSnapshot("u1")
	s.XP = 90

	out, err := s.ApplyAward(20, today)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Level)
	assert.True(t, out.LevelUp(s))
}

func TestApplyAward_RejectsNegativeDelta(t *testing.T) {
	s := NewSnapshot("u1")
	_, err := s.ApplyAward(-1, today)
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 0, s.StreakDays)
}

func TestApplyAward_DeltaBounds(t *testing.T) {
	s := NewSnapshot("u1")
	_, err := s.ApplyAward(MaxXPDelta+1, today)
	assert.ErrorIs(t, err, shared.ErrXPDeltaTooLarge)
	assert.Equal(t, 0, s.XP)

	_, err = s.ApplyAward(MaxXPDelta, today)
	require.NoError(t, err)
	assert.Equal(t, MaxXPDelta, s.XP)
}

func TestApplyAward_SaturatesAtMaxXP(t *testing.T) {
	s := NewSnapshot("u1")
	s.XP = MaxXP - 10
	s.Level = LevelForXP(s.XP)

	_, err := s.ApplyAward(50, today)
	require.NoError(t, err)
	assert.Equal(t, MaxXP, s.XP)
	assert.Equal(t, MaxLevel, s.Level)

	_, err = s.ApplyAward(1, today)
	require.NoError(t, err)
	assert.Equal(t, MaxXP, s.XP)
	assert.Equal(t, MaxLevel, s.Level)
}

func TestApplyAward_ConsecutiveXPDays(t *testing.T) {
	s := NewSnapshot("u1")
	day := today
	for i := 0; i < 3; i++ {
		_, err := s.ApplyAward(5, day)
		require.NoError(t, err)
		day = day.AddDays(1)
	}
	assert.Equal(t, 3, s.ConsecutiveDaysXPEarned)

	// a zero award keeps the streak alive but does not count as an XP day
	_, err := s.ApplyAward(0, day)
	require.NoError(t, err)
	assert.Equal(t, 4, s.StreakDays)
	assert.Equal(t, 3, s.ConsecutiveDaysXPEarned)

	_, err = s.ApplyAward(5, day.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 1, s.ConsecutiveDaysXPEarned)
}

func TestRecordQuiz_PerfectStreak(t *testing.T) {
	s := NewSnapshot("u1")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordQuiz(100, true))
	}
	assert.Equal(t, 3, s.PerfectQuizStreak)

	require.NoError(t, s.RecordQuiz(60, false))
	assert.Equal(t, 0, s.PerfectQuizStreak)
	assert.Equal(t, 4, s.QuizzesAttempted)
	assert.Equal(t, 3, s.QuizzesPassed)

	assert.ErrorIs(t, s.RecordQuiz(101, true), shared.ErrValueOutOfRange)
	assert.Equal(t, 4, s.QuizzesAttempted)
}

func TestRecordLesson(t *testing.T) {
	s := NewSnapshot("u1")
	require.NoError(t, s.RecordLesson("Biology"))
	require.NoError(t, s.RecordLesson("  biology "))
	require.NoError(t, s.RecordLesson("History"))

	assert.Equal(t, 3, s.LessonsCompleted)
	assert.Equal(t, []string{"biology", "history"}, s.SubjectsExplored)
	assert.Equal(t, 2, s.LessonsPerSubject["biology"])
	assert.Equal(t, 2, s.ScienceLessonsCompleted)

	assert.Error(t, s.RecordLesson("   "))
	assert.Equal(t, 3, s.LessonsCompleted)
}

func TestRecordMathProblems(t *testing.T) {
	s := NewSnapshot("u1")
	require.NoError(t, s.RecordMathProblems(7))
	assert.Equal(t, 7, s.MathProblemsSolved)
	assert.ErrorIs(t, s.RecordMathProblems(0), shared.ErrValueOutOfRange)
}

func TestGrantBadges_OnlyGrows(t *testing.T) {
	s := NewSnapshot("u1")
	added := s.GrantBadges("a", "b", "a", "")
	assert.Equal(t, []string{"a", "b"}, added)

	added = s.GrantBadges("b", "c")
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a", "b", "c"}, s.Badges)
	assert.True(t, s.HasAllBadges("a", "c"))
	assert.False(t, s.HasAllBadges("a", "z"))
}

func TestClone_IsDeep(t *testing.T) {
	s := NewSnapshot("u1")
	require.NoError(t, s.RecordLesson("math"))
	s.GrantBadges("x")

	c := s.Clone()
	c.GrantBadges("y")
	require.NoError(t, c.RecordLesson("art"))

	assert.Equal(t, []string{"x"}, s.Badges)
	assert.Equal(t, []string{"math"}, s.SubjectsExplored)
	assert.NotContains(t, s.LessonsPerSubject, "art")
}

func TestNormalize(t *testing.T) {
	s := &Snapshot{UserID: "u1", XP: 300, Level: 1}
	s.Normalize()
	assert.Equal(t, 3, s.Level)
	assert.NotNil(t, s.Badges)
	assert.NotNil(t, s.LessonsPerSubject)
}
