package query

import "github.com/classquest/classquest/internal/domain/badge"

// ══════════════════════════════════════════════════════════════════════════════
// BADGE CATALOG QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeQueries exposes catalog reads to the interface layer.
type BadgeQueries struct {
	catalog *badge.Catalog
}

// NewBadgeQueries creates a new handler.
func NewBadgeQueries(catalog *badge.Catalog) *BadgeQueries {
	return &BadgeQueries{catalog: catalog}
}

// Describe never fails; unknown ids get the generic descriptor.
func (q *BadgeQueries) Describe(id string) badge.Descriptor {
	return q.catalog.Describe(id)
}

// RarityGroup is one tier of the catalog listing.
type RarityGroup struct {
	Rarity badge.Rarity       `json:"rarity"`
	Badges []badge.Descriptor `json:"badges"`
}

// List returns the catalog grouped by rarity, lowest tier first.
func (q *BadgeQueries) List() []RarityGroup {
	groups := q.catalog.ByRarity()
	out := make([]RarityGroup, 0, len(groups))
	for r := badge.RarityRookie; r <= badge.RarityLegendary; r++ {
		defs, ok := groups[r]
		if !ok {
			continue
		}
		g := RarityGroup{Rarity: r, Badges: make([]badge.Descriptor, len(defs))}
		for i, d := range defs {
			g.Badges[i] = d.Descriptor()
		}
		out = append(out, g)
	}
	return out
}
