package timeline

import "sort"

// DefaultMaxVisible caps the revealed working set when no override is configured.
const DefaultMaxVisible = 20

// RevealedSet is the bounded, offset-ordered collection of assets that have
// crossed the play-head and should currently be displayed. Capacity eviction
// drops the smallest offsets first: they are furthest in the past relative to
// playback and least likely to still be of interest. This is deliberately not
// an LRU.
//
// The set is not internally locked; it is mutated only by the scheduler,
// which serializes access.
type RevealedSet struct {
	max   int
	items []Asset // sorted by offset ascending
}

// NewRevealedSet returns an empty set capped at max entries.
// A max <= 0 falls back to DefaultMaxVisible.
func NewRevealedSet(max int) *RevealedSet {
	if max <= 0 {
		max = DefaultMaxVisible
	}
	return &RevealedSet{max: max}
}

// Insert adds the asset, keeping the set sorted by offset and within
// capacity. Inserting an identity already present is a no-op.
func (s *RevealedSet) Insert(a Asset) {
	if s.Contains(a.Identity) {
		return
	}
	s.items = append(s.items, a)
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].Offset < s.items[j].Offset
	})
	if len(s.items) > s.max {
		// Truncate from the front: oldest offsets go first.
		s.items = s.items[len(s.items)-s.max:]
	}
}

// Contains reports whether the identity is currently revealed.
func (s *RevealedSet) Contains(id Identity) bool {
	for _, it := range s.items {
		if it.Identity == id {
			return true
		}
	}
	return false
}

// Items returns a copy of the revealed assets, offset ascending.
func (s *RevealedSet) Items() []Asset {
	out := make([]Asset, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of revealed assets.
func (s *RevealedSet) Len() int { return len(s.items) }

// Clear empties the set (seek or catalog replacement).
func (s *RevealedSet) Clear() { s.items = s.items[:0] }
