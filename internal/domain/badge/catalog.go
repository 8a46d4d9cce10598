// Package badge defines the static badge catalog: display metadata plus an
// unlock predicate per badge, evaluated over a progress snapshot.
package badge

import (
	"sort"

	"github.com/classquest/classquest/internal/domain/progress"
	"github.com/classquest/classquest/internal/domain/shared"
)

// Rarity is the ordered tier of a badge.
type Rarity int

const (
	RarityRookie Rarity = iota
	RarityBronze
	RaritySilver
	RarityGold
	RarityDiamond
	RarityLegendary
)

var rarityNames = [...]string{"rookie", "bronze", "silver", "gold", "diamond", "legendary"}

// String returns the lowercase tier name.
func (r Rarity) String() string {
	if r < RarityRookie || r > RarityLegendary {
		return "unknown"
	}
	return rarityNames[r]
}

// MarshalText encodes the rarity by name.
func (r Rarity) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRarity converts a tier name back to a Rarity.
func ParseRarity(s string) (Rarity, bool) {
	for i, name := range rarityNames {
		if name == s {
			return Rarity(i), true
		}
	}
	return 0, false
}

// Category groups badges for display.
type Category string

const (
	CategoryStreaks     Category = "streaks"
	CategoryQuizzes     Category = "quizzes"
	CategoryLessons     Category = "lessons"
	CategoryGames       Category = "games"
	CategorySocial      Category = "social"
	CategoryMath        Category = "math"
	CategoryScience     Category = "science"
	CategoryProgression Category = "progression"
	CategoryCollection  Category = "collection"
)

// Predicate reports whether a snapshot satisfies a badge's unlock rule.
type Predicate func(s *progress.Snapshot) bool

// Definition is one catalog entry.
type Definition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Rarity      Rarity   `json:"rarity"`
	Category    Category `json:"category"`
	// Unimplemented marks badges whose unlock rule is not defined yet; their
	// predicate always reports false.
	Unimplemented bool `json:"unimplemented,omitempty"`

	Predicate Predicate `json:"-"`
}

// Unlocked evaluates the predicate.
func (d Definition) Unlocked(s *progress.Snapshot) bool {
	return d.Predicate != nil && d.Predicate(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is a read-only registry of badge definitions in evaluation order.
type Catalog struct {
	order []Definition
	byID  map[string]int
}

// NewCatalog builds a catalog from defs. It panics on a duplicate or empty
// id, or a missing predicate, since the registry is fixed at compile time.
func NewCatalog(defs []Definition) *Catalog {
	c := &Catalog{
		order: make([]Definition, 0, len(defs)),
		byID:  make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			panic("badge: empty id in catalog")
		}
		if _, dup := c.byID[d.ID]; dup {
			panic("badge: duplicate id " + d.ID)
		}
		if d.Predicate == nil {
			panic("badge: missing predicate for " + d.ID)
		}
		c.byID[d.ID] = len(c.order)
		c.order = append(c.order, d)
	}
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return NewCatalog(builtin())
}

// Len returns the number of badges.
func (c *Catalog) Len() int {
	return len(c.order)
}

// All returns the definitions in evaluation order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.order))
	copy(out, c.order)
	return out
}

// IDs returns every badge id in evaluation order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.order))
	for i, d := range c.order {
		ids[i] = d.ID
	}
	return ids
}

// Lookup returns the definition for id, or shared.ErrBadgeNotFound.
func (c *Catalog) Lookup(id string) (Definition, error) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, shared.ErrBadgeNotFound
	}
	return c.order[i], nil
}

// ByRarity groups definitions by tier, lowest tier first. Within a tier,
// evaluation order is kept.
func (c *Catalog) ByRarity() map[Rarity][]Definition {
	out := make(map[Rarity][]Definition)
	for _, d := range c.order {
		out[d.Rarity] = append(out[d.Rarity], d)
	}
	return out
}

// Evaluate checks every badge not yet owned by s against s and returns the
// ids that unlock. Evaluation runs in catalog order and sees ids unlocked
// earlier in the same pass, so collection badges placed last can complete in
// one call. s itself is not modified.
func (c *Catalog) Evaluate(s *progress.Snapshot) []string {
	projected := s.Clone()
	var earned []string
	for _, d := range c.order {
		if projected.HasBadge(d.ID) {
			continue
		}
		if d.Unlocked(projected) {
			projected.Badges = append(projected.Badges, d.ID)
			earned = append(earned, d.ID)
		}
	}
	return earned
}

// ══════════════════════════════════════════════════════════════════════════════
// DESCRIPTORS
// ══════════════════════════════════════════════════════════════════════════════

// Descriptor is the display metadata returned to clients.
type Descriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Rarity      Rarity   `json:"rarity"`
	Category    Category `json:"category,omitempty"`
	Known       bool     `json:"known"`
}

const (
	fallbackName        = "Mystery Badge"
	fallbackDescription = "A badge you have earned."
	fallbackIcon        = "🏅"
)

// Describe returns display metadata for id. Unknown ids get a generic
// descriptor instead of an error.
func (c *Catalog) Describe(id string) Descriptor {
	d, err := c.Lookup(id)
	if err != nil {
		return Descriptor{
			ID:          id,
			Name:        fallbackName,
			Description: fallbackDescription,
			Icon:        fallbackIcon,
			Rarity:      RarityRookie,
		}
	}
	return d.Descriptor()
}

// Descriptor converts a definition into display metadata.
func (d Definition) Descriptor() Descriptor {
	return Descriptor{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Rarity:      d.Rarity,
		Category:    d.Category,
		Known:       true,
	}
}

// DescribeAll returns descriptors for ids, sorted by rarity (highest first)
// then id.
func (c *Catalog) DescribeAll(ids []string) []Descriptor {
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Describe(id))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rarity != out[j].Rarity {
			return out[i].Rarity > out[j].Rarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}
