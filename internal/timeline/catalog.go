package timeline

import (
	"fmt"
	"sort"
)

// Catalog is an immutable, offset-sorted snapshot of a session's photo set.
// It is replaced wholesale whenever the input list changes, never patched in
// place; Generation stamps each snapshot so late async results can be told
// apart from current ones.
type Catalog struct {
	Generation uint64

	assets []Asset // sorted by offset ascending, malformed entries last
	byID   map[Identity]Asset
}

// BuildCatalog sorts the input by offset, derives identities, and marks
// malformed entries (non-finite or negative offset) as non-schedulable.
func BuildCatalog(generation uint64, photos []PhotoInput) *Catalog {
	assets := make([]Asset, 0, len(photos))
	for _, p := range photos {
		assets = append(assets, Asset{
			Identity:    Identity(p.ID),
			URL:         p.URL,
			Offset:      p.Offset,
			Caption:     p.Caption,
			CreatedAt:   p.CreatedAt,
			schedulable: validOffset(p.Offset),
		})
	}

	// Valid entries first, ordered by offset; malformed entries keep their
	// relative input order at the tail. NaN offsets must not reach the
	// comparator's float path.
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].schedulable != assets[j].schedulable {
			return assets[i].schedulable
		}
		if !assets[i].schedulable {
			return false
		}
		return assets[i].Offset < assets[j].Offset
	})

	byID := make(map[Identity]Asset, len(assets))
	for i := range assets {
		if assets[i].Identity == "" {
			// Derived identity: stable within this snapshot only.
			assets[i].Identity = Identity(fmt.Sprintf("p%d@%.3f", i, assets[i].Offset))
		}
		byID[assets[i].Identity] = assets[i]
	}

	return &Catalog{Generation: generation, assets: assets, byID: byID}
}

// Assets returns the sorted snapshot. Callers must treat it as read-only.
func (c *Catalog) Assets() []Asset { return c.assets }

// Lookup returns the asset with the given identity.
func (c *Catalog) Lookup(id Identity) (Asset, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// Len returns the total number of assets, malformed entries included.
func (c *Catalog) Len() int { return len(c.assets) }

// SchedulableCount returns the number of assets eligible for prefetch/reveal.
func (c *Catalog) SchedulableCount() int {
	n := 0
	for _, a := range c.assets {
		if a.schedulable {
			n++
		}
	}
	return n
}
