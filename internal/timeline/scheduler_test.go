package timeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock is a hand-driven playback clock.
type fakeClock struct {
	mu      sync.Mutex
	pos     float64
	playing bool
	err     error
}

func (c *fakeClock) set(pos float64, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
	c.playing = playing
}

func (c *fakeClock) Position() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos, c.err
}

func (c *fakeClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func newTestScheduler(t *testing.T, photos []PhotoInput, opts SchedulerOptions) (*Scheduler, *recordingFetcher) {
	t.Helper()
	f := &recordingFetcher{}
	if opts.Clock == nil {
		opts.Clock = &fakeClock{}
	}
	opts.Cache = newTestCache(f, CacheOptions{})
	opts.Logger = testLogger()
	s := NewScheduler(opts)
	s.SetCatalog(BuildCatalog(0, photos))
	t.Cleanup(s.Stop)
	return s, f
}

func identities(assets []Asset) []Identity {
	out := make([]Identity, len(assets))
	for i, a := range assets {
		out[i] = a.Identity
	}
	return out
}

func TestScheduler_reveals_crossed_assets_in_offset_order(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
		{ID: "b", URL: "u", Offset: 2},
		{ID: "c", URL: "u", Offset: 30},
	}, SchedulerOptions{})

	ctx := context.Background()
	s.Tick(ctx, 1.0)
	s.Tick(ctx, 2.5)

	got := identities(s.Revealed())
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestScheduler_reveal_is_monotonic_without_seeks(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
		{ID: "b", URL: "u", Offset: 5},
		{ID: "c", URL: "u", Offset: 9},
	}, SchedulerOptions{})

	ctx := context.Background()
	prev := 0
	for _, pos := range []float64{1, 3, 5, 5, 7, 9, 12} {
		s.Tick(ctx, pos)
		if n := len(s.Revealed()); n < prev {
			t.Fatalf("revealed set shrank from %d to %d at pos %v without a seek", prev, n, pos)
		} else {
			prev = n
		}
	}
	if len(s.Revealed()) != 3 {
		t.Errorf("expected all 3 assets revealed, got %d", len(s.Revealed()))
	}
}

func TestScheduler_seek_clears_revealed_but_not_cache(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "p5", URL: "http://x/5.jpg", Offset: 5},
		{ID: "p6", URL: "http://x/6.jpg", Offset: 6},
		{ID: "p7", URL: "http://x/7.jpg", Offset: 7},
	}, SchedulerOptions{SeekTolerance: 0.5})

	ctx := context.Background()
	for _, pos := range []float64{5, 6, 7} {
		s.Tick(ctx, pos)
	}
	// p6 and p7 entered the lookahead window before being crossed; p5 was
	// already at the play-head on the first tick, so only two prefetches.
	waitFor(t, time.Second, "lookahead fetches", func() bool {
		entries, _ := s.cache.Stats()
		return entries == 2
	})
	if len(s.Revealed()) != 3 {
		t.Fatalf("expected 3 revealed before seek, got %d", len(s.Revealed()))
	}

	// Backward jump beyond tolerance: a seek.
	s.Tick(ctx, 2)

	if n := len(s.Revealed()); n != 0 {
		t.Errorf("seek must clear the revealed set, got %d entries", n)
	}
	for _, id := range []Identity{"p6", "p7"} {
		if data, _ := s.cache.Resolve(id, "fallback"); data == nil {
			t.Errorf("seek must not purge the prefetch cache, %s lost", id)
		}
	}

	// Forward progress after the seek reveals again from scratch.
	s.Tick(ctx, 6)
	got := identities(s.Revealed())
	if len(got) != 2 || got[0] != "p5" || got[1] != "p6" {
		t.Errorf("expected [p5 p6] after re-crossing, got %v", got)
	}
}

func TestScheduler_backward_jitter_within_tolerance_is_not_a_seek(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
	}, SchedulerOptions{SeekTolerance: 0.5})

	ctx := context.Background()
	s.Tick(ctx, 2.0)
	s.Tick(ctx, 1.8) // sub-tolerance backward wobble

	if len(s.Revealed()) != 1 {
		t.Errorf("jitter within tolerance must not clear the revealed set")
	}
}

func TestScheduler_lookahead_window_boundaries(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "in", URL: "http://x/in.jpg", Offset: 59.9},
		{ID: "out", URL: "http://x/out.jpg", Offset: 61},
	}, SchedulerOptions{Lookahead: 10})

	s.Tick(context.Background(), 50)

	if st := s.cache.State("in"); st == StateNone {
		t.Errorf("asset at 59.9 is inside the 10s window at pos 50, state=%s", st)
	}
	if st := s.cache.State("out"); st != StateNone {
		t.Errorf("asset at 61 is outside the 10s window at pos 50, state=%s", st)
	}
}

func TestScheduler_asset_at_playhead_is_revealed_not_prefetched(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 50},
	}, SchedulerOptions{Lookahead: 10})

	s.Tick(context.Background(), 50)

	if got := identities(s.Revealed()); len(got) != 1 || got[0] != "a" {
		t.Errorf("asset exactly at the play-head should be revealed, got %v", got)
	}
}

func TestScheduler_capacity_eviction_drops_smallest_offsets(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
		{ID: "b", URL: "u", Offset: 2},
		{ID: "c", URL: "u", Offset: 3},
	}, SchedulerOptions{MaxVisible: 2})

	s.Tick(context.Background(), 5)

	got := identities(s.Revealed())
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected [b c] after eviction, got %v", got)
	}

	// An evicted asset is not churned back in by the next tick.
	s.Tick(context.Background(), 6)
	got = identities(s.Revealed())
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("evicted asset must stay out, got %v", got)
	}
}

func TestScheduler_invalid_positions_are_ignored(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
	}, SchedulerOptions{})

	ctx := context.Background()
	s.Tick(ctx, 5)
	before := len(s.Revealed())

	s.Tick(ctx, math.NaN())
	s.Tick(ctx, math.Inf(1))
	s.Tick(ctx, -3)

	if len(s.Revealed()) != before {
		t.Error("invalid positions must not mutate state")
	}
	// A negative reading is not a seek either: lastSeen is untouched.
	s.Tick(ctx, 5)
	if len(s.Revealed()) != before {
		t.Error("state must survive invalid readings unchanged")
	}
}

func TestScheduler_malformed_assets_never_scheduled(t *testing.T) {
	s, f := newTestScheduler(t, []PhotoInput{
		{ID: "ok", URL: "http://x/ok.jpg", Offset: 1},
		{ID: "bad", URL: "http://x/bad.jpg", Offset: -7},
	}, SchedulerOptions{})

	s.Tick(context.Background(), 100)

	got := identities(s.Revealed())
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("malformed asset must never be revealed, got %v", got)
	}
	time.Sleep(10 * time.Millisecond)
	if f.callCount() != 0 {
		t.Errorf("nothing inside the window should have been prefetched, got %d fetches", f.callCount())
	}
}

func TestScheduler_empty_catalog_is_inert(t *testing.T) {
	clock := &fakeClock{playing: true}
	s, _ := newTestScheduler(t, nil, SchedulerOptions{Clock: clock, Interval: 2 * time.Millisecond})

	s.Start()
	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		t.Error("scheduler must stay inert with an empty catalog")
	}
}

func TestScheduler_loop_runs_while_playing_and_retires_on_pause(t *testing.T) {
	clock := &fakeClock{}
	clock.set(5, true)
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
	}, SchedulerOptions{Clock: clock, Interval: 2 * time.Millisecond})

	s.Start()
	waitFor(t, time.Second, "reveal via loop", func() bool { return len(s.Revealed()) == 1 })

	clock.set(5, false)
	waitFor(t, time.Second, "loop retired", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running
	})

	// Resume recreates the loop cleanly.
	clock.set(8, true)
	s.Start()
	waitFor(t, time.Second, "loop running again", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running
	})
}

func TestScheduler_clock_read_failure_skips_cycle(t *testing.T) {
	clock := &fakeClock{playing: true, err: errors.New("no clock")}
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
	}, SchedulerOptions{Clock: clock, Interval: 2 * time.Millisecond})

	s.Start()
	time.Sleep(20 * time.Millisecond)

	if len(s.Revealed()) != 0 {
		t.Error("unreadable clock must make ticks no-ops, not reveal anything")
	}
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		t.Error("clock read failures must not kill the loop")
	}
}

func TestScheduler_tick_panic_does_not_kill_loop(t *testing.T) {
	clock := &fakeClock{}
	clock.set(5, true)
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 7},
	}, SchedulerOptions{Clock: clock, Interval: 2 * time.Millisecond})

	// Force a panic inside Tick by breaking its collaborator.
	s.cache = nil

	s.Start()
	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		t.Error("a panicking tick must be contained, not cancel the timer")
	}
}

func TestScheduler_set_catalog_resets_cursor_and_reveals(t *testing.T) {
	s, _ := newTestScheduler(t, []PhotoInput{
		{ID: "a", URL: "u", Offset: 1},
	}, SchedulerOptions{})

	ctx := context.Background()
	s.Tick(ctx, 50)
	if len(s.Revealed()) != 1 {
		t.Fatal("sanity: expected one revealed asset")
	}

	s.SetCatalog(BuildCatalog(1, []PhotoInput{{ID: "b", URL: "u", Offset: 2}}))
	if len(s.Revealed()) != 0 {
		t.Error("catalog replacement must clear the revealed set")
	}

	// Position 3 is far below the previous 50; after the reset this must
	// not register as a seek, just as fresh forward progress.
	s.Tick(ctx, 3)
	got := identities(s.Revealed())
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b] from the new catalog, got %v", got)
	}
}
