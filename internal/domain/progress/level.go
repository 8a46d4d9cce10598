package progress

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS
// Level is never stored authoritatively: it is recomputed from XP on every
// write via a fixed ascending threshold table.
// ══════════════════════════════════════════════════════════════════════════════

// levelThresholds[i] is the minimum XP for level i+1.
var levelThresholds = [...]int{0, 100, 250, 500, 1000, 2000, 3500, 5000, 7500, 10000}

// MinLevel is the level of a fresh snapshot.
const MinLevel = 1

// MaxLevel is the highest reachable level.
const MaxLevel = len(levelThresholds)

// Thresholds returns a copy of the level threshold table.
func Thresholds() []int {
	out := make([]int, len(levelThresholds))
	copy(out, levelThresholds[:])
	return out
}

// LevelForXP returns the highest level whose threshold is <= xp.
// Negative XP is treated as zero.
func LevelForXP(xp int) int {
	level := MinLevel
	for i, min := range levelThresholds {
		if xp >= min {
			level = i + 1
		} else {
			break
		}
	}
	return level
}

// XPForLevel returns the threshold of level, clamped to the table bounds.
func XPForLevel(level int) int {
	if level <= MinLevel {
		return 0
	}
	if level >= MaxLevel {
		return levelThresholds[MaxLevel-1]
	}
	return levelThresholds[level-1]
}

// XPToNextLevel returns how much XP is missing for the next level,
// or 0 at the top level.
func XPToNextLevel(xp int) int {
	level := LevelForXP(xp)
	if level >= MaxLevel {
		return 0
	}
	return levelThresholds[level] - xp
}
