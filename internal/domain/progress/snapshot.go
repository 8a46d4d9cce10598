// Package progress holds the per-learner gamification snapshot: XP, level,
// daily streak, owned badges and the activity counters badge predicates read.
package progress

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/classquest/classquest/internal/domain/shared"
	"github.com/classquest/classquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the current persisted state of one learner's counters.
type Snapshot struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`

	XP               int    `json:"xp"`
	Level            int    `json:"level"`
	StreakDays       int    `json:"streakDays"`
	BestStreak       int    `json:"bestStreak"`
	LastActivityDate string `json:"lastActivityDate,omitempty"`
	LastXPDate       string `json:"lastXpDate,omitempty"`

	Badges []string `json:"badges"`

	LessonsCompleted        int            `json:"lessonsCompleted"`
	QuizzesAttempted        int            `json:"quizzesAttempted"`
	QuizzesPassed           int            `json:"quizzesPassed"`
	MiniGamesCompleted      int            `json:"miniGamesCompleted"`
	StudyGroupsJoined       int            `json:"studyGroupsJoined"`
	BookmarkedLessons       int            `json:"bookmarkedLessons"`
	MathProblemsSolved      int            `json:"mathProblemsSolved"`
	ScienceLessonsCompleted int            `json:"scienceLessonsCompleted"`
	ConsecutiveDaysXPEarned int            `json:"consecutiveDaysXpEarned"`
	PerfectQuizStreak       int            `json:"perfectQuizStreak"`
	SubjectsExplored        []string       `json:"subjectsExplored"`
	LessonsPerSubject       map[string]int `json:"lessonsPerSubject"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSnapshot returns the zero-state snapshot used when nothing is stored yet.
func NewSnapshot(userID string) *Snapshot {
	return &Snapshot{
		UserID:            userID,
		Level:             MinLevel,
		Badges:            []string{},
		SubjectsExplored:  []string{},
		LessonsPerSubject: map[string]int{},
	}
}

// Normalize fills nil collections and recomputes the level from XP.
// Repositories call it after loading a row.
func (s *Snapshot) Normalize() {
	if s.Badges == nil {
		s.Badges = []string{}
	}
	if s.SubjectsExplored == nil {
		s.SubjectsExplored = []string{}
	}
	if s.LessonsPerSubject == nil {
		s.LessonsPerSubject = map[string]int{}
	}
	if s.XP < 0 {
		s.XP = 0
	}
	s.Level = LevelForXP(s.XP)
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Badges = append([]string{}, s.Badges...)
	c.SubjectsExplored = append([]string{}, s.SubjectsExplored...)
	c.LessonsPerSubject = make(map[string]int, len(s.LessonsPerSubject))
	for k, v := range s.LessonsPerSubject {
		c.LessonsPerSubject[k] = v
	}
	return &c
}

// HasBadge reports whether id is already owned.
func (s *Snapshot) HasBadge(id string) bool {
	for _, b := range s.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// HasAllBadges reports whether every id is owned.
func (s *Snapshot) HasAllBadges(ids ...string) bool {
	for _, id := range ids {
		if !s.HasBadge(id) {
			return false
		}
	}
	return true
}

// GrantBadges adds ids that are not yet owned and returns the ones added.
// Badges are never removed.
func (s *Snapshot) GrantBadges(ids ...string) []string {
	added := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || s.HasBadge(id) {
			continue
		}
		s.Badges = append(s.Badges, id)
		added = append(added, id)
	}
	return added
}

// HasExplored reports whether subject appears in SubjectsExplored.
func (s *Snapshot) HasExplored(subject string) bool {
	subject = NormalizeSubject(subject)
	for _, sub := range s.SubjectsExplored {
		if sub == subject {
			return true
		}
	}
	return false
}

// Touch sets the bookkeeping timestamps.
func (s *Snapshot) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

// AwardOutcome describes how ApplyAward changed a snapshot.
type AwardOutcome struct {
	OldXP      int
	OldLevel   int
	OldStreak  int
	Transition timeutil.DayTransition
}

// LevelUp reports whether the award moved the learner past a threshold.
func (o AwardOutcome) LevelUp(s *Snapshot) bool {
	return s.Level > o.OldLevel
}

// StreakChanged reports whether the streak value moved.
func (o AwardOutcome) StreakChanged(s *Snapshot) bool {
	return s.StreakDays != o.OldStreak
}

// MaxXPDelta is the largest XP a single award may carry.
const MaxXPDelta = 100_000

// MaxXP caps the running total so it fits the INTEGER xp columns.
// Awards past the cap saturate instead of wrapping.
const MaxXP = math.MaxInt32

// ApplyAward adds xpDelta, advances the daily streak and recomputes the level.
// Calling it twice on the same day leaves the streak unchanged; XP is added
// each time.
func (s *Snapshot) ApplyAward(xpDelta int, today timeutil.Date) (AwardOutcome, error) {
	if xpDelta < 0 {
		return AwardOutcome{}, shared.ErrNegativeXPDelta
	}
	if xpDelta > MaxXPDelta {
		return AwardOutcome{}, shared.ErrXPDeltaTooLarge
	}
	out := AwardOutcome{
		OldXP:     s.XP,
		OldLevel:  s.Level,
		OldStreak: s.StreakDays,
	}
	if out.OldLevel < MinLevel {
		out.OldLevel = MinLevel
	}

	last, err := timeutil.ParseDate(s.LastActivityDate)
	if err != nil {
		last = timeutil.Date{}
	}
	s.StreakDays, out.Transition = timeutil.AdvanceRun(s.StreakDays, last, today)
	s.LastActivityDate = today.String()
	if s.StreakDays > s.BestStreak {
		s.BestStreak = s.StreakDays
	}

	if xpDelta > 0 {
		lastXP, err := timeutil.ParseDate(s.LastXPDate)
		if err != nil {
			lastXP = timeutil.Date{}
		}
		s.ConsecutiveDaysXPEarned, _ = timeutil.AdvanceRun(s.ConsecutiveDaysXPEarned, lastXP, today)
		s.LastXPDate = today.String()
	}

	if s.XP > MaxXP-xpDelta {
		s.XP = MaxXP
	} else {
		s.XP += xpDelta
	}
	s.Level = LevelForXP(s.XP)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY COUNTERS
// None of these touch XP or the streak.
// ══════════════════════════════════════════════════════════════════════════════

// scienceSubjects bump ScienceLessonsCompleted in addition to the
// per-subject counter.
var scienceSubjects = map[string]struct{}{
	"science":               {},
	"biology":               {},
	"chemistry":             {},
	"physics":               {},
	"earth science":         {},
	"environmental science": {},
	"astronomy":             {},
}

// NormalizeSubject lowercases and trims a subject name.
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// IsScienceSubject reports whether subject counts toward science badges.
func IsScienceSubject(subject string) bool {
	_, ok := scienceSubjects[NormalizeSubject(subject)]
	return ok
}

// RecordLesson counts a completed lesson in subject.
func (s *Snapshot) RecordLesson(subject string) error {
	subject = NormalizeSubject(subject)
	if subject == "" {
		return shared.NewDomainError("progress", "TrackLesson", shared.ErrInvalidInput, "subject cannot be empty")
	}
	s.LessonsCompleted++
	if !s.HasExplored(subject) {
		s.SubjectsExplored = append(s.SubjectsExplored, subject)
		sort.Strings(s.SubjectsExplored)
	}
	if s.LessonsPerSubject == nil {
		s.LessonsPerSubject = map[string]int{}
	}
	s.LessonsPerSubject[subject]++
	if IsScienceSubject(subject) {
		s.ScienceLessonsCompleted++
	}
	return nil
}

// RecordQuiz counts a quiz attempt. A perfect score extends the perfect
// streak; anything else resets it.
func (s *Snapshot) RecordQuiz(score int, passed bool) error {
	if score < 0 || score > 100 {
		return shared.ErrInvalidQuizScore
	}
	s.QuizzesAttempted++
	if passed {
		s.QuizzesPassed++
	}
	if score == 100 {
		s.PerfectQuizStreak++
	} else {
		s.PerfectQuizStreak = 0
	}
	return nil
}

// RecordMiniGame counts a finished mini-game.
func (s *Snapshot) RecordMiniGame(gameID string) error {
	if strings.TrimSpace(gameID) == "" {
		return shared.NewDomainError("progress", "TrackMiniGame", shared.ErrInvalidInput, "game ID cannot be empty")
	}
	s.MiniGamesCompleted++
	return nil
}

// RecordStudyGroupJoin counts a joined study group.
func (s *Snapshot) RecordStudyGroupJoin() {
	s.StudyGroupsJoined++
}

// RecordBookmark counts a bookmarked lesson.
func (s *Snapshot) RecordBookmark() {
	s.BookmarkedLessons++
}

// RecordMathProblems adds count solved problems.
func (s *Snapshot) RecordMathProblems(count int) error {
	if count <= 0 {
		return shared.ErrInvalidCount
	}
	s.MathProblemsSolved += count
	return nil
}
