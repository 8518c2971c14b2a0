package timeline

import "testing"

func asset(id Identity, offset float64) Asset {
	return Asset{Identity: id, URL: "http://x/" + string(id) + ".jpg", Offset: offset, schedulable: true}
}

func TestRevealedSet_keeps_offset_order(t *testing.T) {
	s := NewRevealedSet(10)
	s.Insert(asset("b", 2))
	s.Insert(asset("c", 3))
	s.Insert(asset("a", 1))

	items := s.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []Identity{"a", "b", "c"} {
		if items[i].Identity != want {
			t.Errorf("position %d: expected %q, got %q", i, want, items[i].Identity)
		}
	}
}

func TestRevealedSet_capacity_evicts_smallest_offsets_first(t *testing.T) {
	s := NewRevealedSet(2)
	s.Insert(asset("a", 1))
	s.Insert(asset("b", 2))
	s.Insert(asset("c", 3))

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// Offset-order eviction, not LRU: the past falls off, not the stale.
	if items[0].Identity != "b" || items[1].Identity != "c" {
		t.Errorf("expected [b c], got [%s %s]", items[0].Identity, items[1].Identity)
	}
}

func TestRevealedSet_insert_is_idempotent_per_identity(t *testing.T) {
	s := NewRevealedSet(10)
	s.Insert(asset("a", 1))
	s.Insert(asset("a", 1))

	if s.Len() != 1 {
		t.Errorf("identity must appear at most once, got %d items", s.Len())
	}
}

func TestRevealedSet_clear(t *testing.T) {
	s := NewRevealedSet(10)
	s.Insert(asset("a", 1))
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty set after clear, got %d", s.Len())
	}
	if s.Contains("a") {
		t.Error("cleared set should not contain a")
	}
}

func TestNewRevealedSet_default_capacity(t *testing.T) {
	s := NewRevealedSet(0)
	for i := 0; i < DefaultMaxVisible+5; i++ {
		s.Insert(asset(Identity(rune('a'+i)), float64(i)))
	}
	if s.Len() != DefaultMaxVisible {
		t.Errorf("expected default cap %d, got %d", DefaultMaxVisible, s.Len())
	}
}
