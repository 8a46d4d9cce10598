// Package leaderboard holds the denormalized ranking mirror. Entries carry
// no rank; ranks come from sorted position and are recomputed on every read.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/classquest/classquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one learner's row in the mirror.
type Entry struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	XP          int       `json:"xp"`
	StreakDays  int       `json:"streakDays"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Validate checks the entry before an upsert.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if e.XP < 0 || e.StreakDays < 0 {
		return shared.NewDomainError("leaderboard", "Upsert", shared.ErrNegativeValue, "xp and streak must be non-negative")
	}
	return nil
}

// DisplayName falls back to the user id when no username is known.
func (e Entry) DisplayName() string {
	if e.Username != "" {
		return e.Username
	}
	return e.UserID
}

// String returns a short form for logs.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{User: %s, XP: %d, Streak: %d}", e.UserID, e.XP, e.StreakDays)
}

// RankedEntry is an Entry with its 1-based position in a read.
type RankedEntry struct {
	Rank shared.Rank `json:"rank"`
	Entry
}

// ══════════════════════════════════════════════════════════════════════════════
// ORDERING
// ══════════════════════════════════════════════════════════════════════════════

// Less orders by XP descending, then display name ascending, then user id so
// that the order is total.
func Less(a, b Entry) bool {
	if a.XP != b.XP {
		return a.XP > b.XP
	}
	an, bn := a.DisplayName(), b.DisplayName()
	if an != bn {
		return an < bn
	}
	return a.UserID < b.UserID
}

// Sort orders entries in place.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// Rank sorts a copy of entries and assigns positions 1..n, keeping at most
// limit rows (limit <= 0 keeps all).
func Rank(entries []Entry, limit int) []RankedEntry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	Sort(sorted)
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	out := make([]RankedEntry, len(sorted))
	for i, e := range sorted {
		out[i] = RankedEntry{Rank: shared.Rank(i + 1), Entry: e}
	}
	return out
}

// PositionOf returns the rank target would have among others: one plus the
// number of entries ordered before it.
func PositionOf(target Entry, others []Entry) shared.Rank {
	pos := 1
	for _, e := range others {
		if e.UserID == target.UserID {
			continue
		}
		if Less(e, target) {
			pos++
		}
	}
	return shared.Rank(pos)
}
