package badge

import "github.com/classquest/classquest/internal/domain/progress"

// Badge ids referenced outside the registry.
const (
	IDDailyStarter      = "daily-starter"
	IDPersistencePro    = "persistence-pro"
	IDMonthMarathon     = "month-marathon"
	IDMathGenius        = "math-genius"
	IDLessonLegend      = "lesson-legend"
	IDBadgeCollector    = "badge-collector"
	IDSubjectSpecialist = "subject-specialist"
	IDSpeedDemon        = "speed-demon"
	IDUltimateLearner   = "ultimate-learner"
)

// collectorSet must all be owned for badge-collector.
var collectorSet = []string{IDMonthMarathon, IDMathGenius, IDLessonLegend}

// never is the predicate of badges whose unlock rule is still undefined.
func never(*progress.Snapshot) bool { return false }

func builtin() []Definition {
	return []Definition{

		// ── Rookie ─────────────────────────────────────────────────────────

		{
			ID: IDDailyStarter, Name: "Daily Starter", Icon: "🌅",
			Description: "Complete your first lesson",
			Rarity:      RarityRookie, Category: CategoryLessons,
			Predicate: func(s *progress.Snapshot) bool { return s.LessonsCompleted > 0 },
		},
		{
			ID: "quiz-rookie", Name: "Quiz Rookie", Icon: "❓",
			Description: "Attempt your first quiz",
			Rarity:      RarityRookie, Category: CategoryQuizzes,
			Predicate: func(s *progress.Snapshot) bool { return s.QuizzesAttempted >= 1 },
		},
		{
			ID: "game-on", Name: "Game On", Icon: "🎮",
			Description: "Finish your first mini-game",
			Rarity:      RarityRookie, Category: CategoryGames,
			Predicate: func(s *progress.Snapshot) bool { return s.MiniGamesCompleted >= 1 },
		},
		{
			ID: "bookworm", Name: "Bookworm", Icon: "🔖",
			Description: "Bookmark a lesson",
			Rarity:      RarityRookie, Category: CategoryLessons,
			Predicate: func(s *progress.Snapshot) bool { return s.BookmarkedLessons >= 1 },
		},

		// ── Bronze ─────────────────────────────────────────────────────────

		{
			ID: "streak-starter", Name: "Streak Starter", Icon: "🔥",
			Description: "Keep a 3-day streak",
			Rarity:      RarityBronze, Category: CategoryStreaks,
			Predicate: func(s *progress.Snapshot) bool { return s.StreakDays >= 3 },
		},
		{
			ID: "quiz-whiz", Name: "Quiz Whiz", Icon: "✅",
			Description: "Pass 5 quizzes",
			Rarity:      RarityBronze, Category: CategoryQuizzes,
			Predicate: func(s *progress.Snapshot) bool { return s.QuizzesPassed >= 5 },
		},
		{
			ID: "lesson-learner", Name: "Lesson Learner", Icon: "📘",
			Description: "Complete 5 lessons",
			Rarity:      RarityBronze, Category: CategoryLessons,
			Predicate: func(s *progress.Snapshot) bool { return s.LessonsCompleted >= 5 },
		},
		{
			ID: "team-player", Name: "Team Player", Icon: "🤝",
			Description: "Join a study group",
			Rarity:      RarityBronze, Category: CategorySocial,
			Predicate: func(s *progress.Snapshot) bool { return s.StudyGroupsJoined >= 1 },
		},
		{
			ID: "math-rookie", Name: "Math Rookie", Icon: "➕",
			Description: "Solve 10 math problems",
			Rarity:      RarityBronze, Category: CategoryMath,
			Predicate: func(s *progress.Snapshot) bool { return s.MathProblemsSolved >= 10 },
		},
		{
			ID: "xp-collector", Name: "XP Collector", Icon: "💎",
			Description: "Earn 100 XP",
			Rarity:      RarityBronze, Category: CategoryProgression,
			Predicate: func(s *progress.Snapshot) bool { return s.XP >= 100 },
		},

		// ── Silver ─────────────────────────────────────────────────────────

		{
			ID: "week-warrior", Name: "Week Warrior", Icon: "🗓️",
			Description: "Keep a 7-day streak",
			Rarity:      RaritySilver, Category: CategoryStreaks,
			Predicate: func(s *progress.Snapshot) bool { return s.StreakDays >= 7 },
		},
		{
			ID: IDPersistencePro, Name: "Persistence Pro", Icon: "💪",
			Description: "Keep a 10-day streak",
			Rarity:      RaritySilver, Category: CategoryStreaks,
			Predicate: func(s *progress.Snapshot) bool { return s.StreakDays >= 10 },
		},
		{
			ID: "quiz-master", Name: "Quiz Master", Icon: "🎓",
			Description: "Pass 10 quizzes",
			Rarity:      RaritySilver, Category: CategoryQuizzes,
			Predicate: func(s *progress.Snapshot) bool { return s.QuizzesPassed >= 10 },
		},
		{
			ID: "perfectionist", Name: "Perfectionist", Icon: "💯",
			Description: "Score 100% on 3 quizzes in a row",
			Rarity:      RaritySilver, Category: CategoryQuizzes,
			Predicate: func(s *progress.Snapshot) bool { return s.PerfectQuizStreak >= 3 },
		},
		{
			ID: "science-explorer", Name: "Science Explorer", Icon: "🔬",
			Description: "Complete 5 science lessons",
			Rarity:      RaritySilver, Category: CategoryScience,
			Predicate: func(s *progress.Snapshot) bool { return s.ScienceLessonsCompleted >= 5 },
		},
		{
			ID: "level-climber", Name: "Level Climber", Icon: "🧗",
			Description: "Reach level 5",
			Rarity:      RaritySilver, Category: CategoryProgression,
			Predicate: func(s *progress.Snapshot) bool { return s.Level >= 5 },
		},
		{
			ID: "game-champion", Name: "Game Champion", Icon: "🕹️",
			Description: "Finish 10 mini-games",
			Rarity:      RaritySilver, Category: CategoryGames,
			Predicate: func(s *progress.Snapshot) bool { return s.MiniGamesCompleted >= 10 },
		},

		// ── Gold ───────────────────────────────────────────────────────────

		{
			ID: IDMonthMarathon, Name: "Month Marathon", Icon: "🏃",
			Description: "Keep a 30-day streak",
			Rarity:      RarityGold, Category: CategoryStreaks,
			Predicate: func(s *progress.Snapshot) bool { return s.StreakDays >= 30 },
		},
		{
			ID: IDMathGenius, Name: "Math Genius", Icon: "🧮",
			Description: "Solve 100 math problems",
			Rarity:      RarityGold, Category: CategoryMath,
			Predicate: func(s *progress.Snapshot) bool { return s.MathProblemsSolved >= 100 },
		},
		{
			ID: "consistent-earner", Name: "Consistent Earner", Icon: "📈",
			Description: "Earn XP 14 days in a row",
			Rarity:      RarityGold, Category: CategoryStreaks,
			Predicate: func(s *progress.Snapshot) bool { return s.ConsecutiveDaysXPEarned >= 14 },
		},
		{
			ID: IDLessonLegend, Name: "Lesson Legend", Icon: "📚",
			Description: "Complete 50 lessons",
			Rarity:      RarityGold, Category: CategoryLessons,
			Predicate: func(s *progress.Snapshot) bool { return s.LessonsCompleted >= 50 },
		},
		{
			ID: IDSubjectSpecialist, Name: "Subject Specialist", Icon: "🎯",
			Description:   "Master a single subject",
			Rarity:        RarityGold, Category: CategoryLessons,
			Unimplemented: true,
			Predicate:     never,
		},
		{
			ID: "well-rounded", Name: "Well Rounded", Icon: "🌍",
			Description: "Explore 5 different subjects",
			Rarity:      RarityGold, Category: CategoryLessons,
			Predicate: func(s *progress.Snapshot) bool { return len(s.SubjectsExplored) >= 5 },
		},

		// ── Diamond ────────────────────────────────────────────────────────

		{
			ID: "xp-titan", Name: "XP Titan", Icon: "⚡",
			Description: "Earn 5000 XP",
			Rarity:      RarityDiamond, Category: CategoryProgression,
			Predicate: func(s *progress.Snapshot) bool { return s.XP >= 5000 },
		},
		{
			ID: IDSpeedDemon, Name: "Speed Demon", Icon: "🏎️",
			Description:   "Finish a timed challenge in record time",
			Rarity:        RarityDiamond, Category: CategoryGames,
			Unimplemented: true,
			Predicate:     never,
		},
		{
			ID: "perfect-ten", Name: "Perfect Ten", Icon: "🌟",
			Description: "Score 100% on 10 quizzes in a row",
			Rarity:      RarityDiamond, Category: CategoryQuizzes,
			Predicate: func(s *progress.Snapshot) bool { return s.PerfectQuizStreak >= 10 },
		},
		{
			ID: "social-butterfly", Name: "Social Butterfly", Icon: "🦋",
			Description: "Join 5 study groups",
			Rarity:      RarityDiamond, Category: CategorySocial,
			Predicate: func(s *progress.Snapshot) bool { return s.StudyGroupsJoined >= 5 },
		},

		// ── Legendary ──────────────────────────────────────────────────────

		{
			ID: IDUltimateLearner, Name: "Ultimate Learner", Icon: "👑",
			Description:   "Reach the pinnacle of learning",
			Rarity:        RarityLegendary, Category: CategoryCollection,
			Unimplemented: true,
			Predicate:     never,
		},
		{
			ID: IDBadgeCollector, Name: "Badge Collector", Icon: "🏆",
			Description: "Earn Month Marathon, Math Genius and Lesson Legend",
			Rarity:      RarityLegendary, Category: CategoryCollection,
			Predicate: func(s *progress.Snapshot) bool { return s.HasAllBadges(collectorSet...) },
		},
	}
}
