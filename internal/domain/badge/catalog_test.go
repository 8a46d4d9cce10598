package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

func TestDefaultCatalog_Shape(t *testing.T) {
	c := Default()
	assert.Equal(t, 29, c.Len())

	groups := c.ByRarity()
	for r := RarityRookie; r <= RarityLegendary; r++ {
		assert.NotEmpty(t, groups[r], "rarity %s", r)
	}

	for _, d := range c.All() {
		assert.NotEmpty(t, d.Name, d.ID)
		assert.NotEmpty(t, d.Description, d.ID)
		assert.NotEmpty(t, d.Icon, d.ID)
	}
}

func TestRarity_Order(t *testing.T) {
	assert.True(t, RarityRookie < RarityBronze)
	assert.True(t, RarityDiamond < RarityLegendary)
	assert.Equal(t, "gold", RarityGold.String())

	r, ok := ParseRarity("diamond")
	assert.True(t, ok)
	assert.Equal(t, RarityDiamond, r)

	_, ok = ParseRarity("mythic")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	c := Default()

	d, err := c.Lookup(IDPersistencePro)
	require.NoError(t, err)
	assert.Equal(t, RaritySilver, d.Rarity)

	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDescribe_Fallback(t *testing.T) {
	c := Default()

	known := c.Describe(IDDailyStarter)
	assert.True(t, known.Known)
	assert.Equal(t, "Daily Starter", known.Name)

	unknown := c.Describe("retired-badge")
	assert.False(t, unknown.Known)
	assert.Equal(t, "retired-badge", unknown.ID)
	assert.NotEmpty(t, unknown.Name)
	assert.NotEmpty(t, unknown.Icon)
}

func TestDescribeAll_SortsByRarity(t *testing.T) {
	c := Default()
	out := c.DescribeAll([]string{IDDailyStarter, IDBadgeCollector, "ghost", IDMathGenius})
	require.Len(t, out, 4)
	assert.Equal(t, IDBadgeCollector, out[0].ID)
	assert.Equal(t, IDMathGenius, out[1].ID)
}

func TestPredicates(t *testing.T) {
	c := Default()
	check := func(id string, mutate func(s *progress.Snapshot), want bool) {
		t.Helper()
		d, err := c.Lookup(id)
		require.NoError(t, err)
		s := progress.NewSnapshot("u1")
		mutate(s)
		s.Normalize()
		assert.Equal(t, want, d.Unlocked(s), id)
	}

	check(IDDailyStarter, func(s *progress.Snapshot) {}, false)
	check(IDDailyStarter, func(s *progress.Snapshot) { s.LessonsCompleted = 1 }, true)
	check("streak-starter", func(s *progress.Snapshot) { s.StreakDays = 2 }, false)
	check("streak-starter", func(s *progress.Snapshot) { s.StreakDays = 3 }, true)
	check(IDPersistencePro, func(s *progress.Snapshot) { s.StreakDays = 9 }, false)
	check(IDPersistencePro, func(s *progress.Snapshot) { s.StreakDays = 10 }, true)
	check("quiz-master", func(s *progress.Snapshot) { s.QuizzesPassed = 10 }, true)
	check("perfectionist", func(s *progress.Snapshot) { s.PerfectQuizStreak = 3 }, true)
	check("level-climber", func(s *progress.Snapshot) { s.XP = 999 }, false)
	check("level-climber", func(s *progress.Snapshot) { s.XP = 1000 }, true)
	check("well-rounded", func(s *progress.Snapshot) {
		s.SubjectsExplored = []string{"a", "b", "c", "d", "e"}
	}, true)
	check("consistent-earner", func(s *progress.Snapshot) { s.ConsecutiveDaysXPEarned = 14 }, true)
	check(IDBadgeCollector, func(s *progress.Snapshot) {
		s.Badges = []string{IDMonthMarathon, IDMathGenius}
	}, false)
	check(IDBadgeCollector, func(s *progress.Snapshot) {
		s.Badges = []string{IDMonthMarathon, IDMathGenius, IDLessonLegend}
	}, true)
}

func TestUnimplementedBadgesNeverUnlock(t *testing.T) {
	c := Default()
	maxed := progress.NewSnapshot("u1")
	maxed.XP = 1_000_000
	maxed.StreakDays = 365
	maxed.LessonsCompleted = 1000
	maxed.QuizzesPassed = 1000
	maxed.PerfectQuizStreak = 100
	maxed.MiniGamesCompleted = 1000
	maxed.Normalize()

	for _, id := range []string{IDSubjectSpecialist, IDSpeedDemon, IDUltimateLearner} {
		d, err := c.Lookup(id)
		require.NoError(t, err)
		assert.True(t, d.Unimplemented, id)
		assert.False(t, d.Unlocked(maxed), id)
	}
}

func TestEvaluate_SkipsOwned(t *testing.T) {
	c := Default()
	s := progress.NewSnapshot("u1")
	s.StreakDays = 10
	s.Badges = []string{"streak-starter"}

	earned := c.Evaluate(s)
	assert.Contains(t, earned, IDPersistencePro)
	assert.Contains(t, earned, "week-warrior")
	assert.NotContains(t, earned, "streak-starter")
	assert.Equal(t, []string{"streak-starter"}, s.Badges, "Evaluate must not modify its input")
}

func TestEvaluate_CollectorInSamePass(t *testing.T) {
	c := Default()
	s := progress.NewSnapshot("u1")
	s.StreakDays = 30
	s.MathProblemsSolved = 100
	s.LessonsCompleted = 50

	earned := c.Evaluate(s)
	assert.Contains(t, earned, IDBadgeCollector)
	assert.Equal(t, IDBadgeCollector, earned[len(earned)-1])
}

func TestEvaluate_FreshAwardEarnsNothing(t *testing.T) {
	c := Default()
	s := progress.NewSnapshot("u1")
	s.XP = 10
	s.StreakDays = 1
	s.Normalize()

	assert.Empty(t, c.Evaluate(s))
}

func TestNewCatalog_PanicsOnDuplicate(t *testing.T) {
	d := Definition{ID: "x", Predicate: never}
	assert.Panics(t, func() { NewCatalog([]Definition{d, d}) })
	assert.Panics(t, func() { NewCatalog([]Definition{{ID: "y"}}) })
}
