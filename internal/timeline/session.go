package timeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"timeline-sync/internal/platform/metrics"
)

var (
	// ErrAssetNotFound is returned when an identity is not in the current catalog.
	ErrAssetNotFound = errors.New("asset not found in catalog")

	// errClockUnreported marks a clock that has not received a report yet.
	// A tick that sees it is a no-op for that cycle.
	errClockUnreported = errors.New("playback clock has not reported yet")
)

// reportedClock is the poll-only playback clock fed by the player's
// position reports. The scheduler never receives seek callbacks from it;
// discontinuities are inferred from position deltas alone.
type reportedClock struct {
	mu       sync.Mutex
	pos      float64
	playing  bool
	reported bool
}

func (c *reportedClock) Report(pos float64, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
	c.playing = playing
	c.reported = true
}

// Position implements Clock.
func (c *reportedClock) Position() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reported {
		return 0, errClockUnreported
	}
	return c.pos, nil
}

// Playing implements Clock.
func (c *reportedClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Session is the per-recording engine: one catalog, one prefetch cache, one
// scheduler loop, one viewport tracker, and the UI's selection focus. All
// methods are safe for concurrent use.
type Session struct {
	ID SessionID

	clock    *reportedClock
	cache    *Cache
	sched    *Scheduler
	viewport *ViewportTracker
	log      *slog.Logger

	mu        sync.Mutex
	gen       uint64
	selected  Identity
	hasSelect bool
	ended     bool

	sweepStop chan struct{}
}

// NewSession builds a session engine with the given tunables and starts its
// background cache sweep.
func NewSession(id SessionID, cfg Config, fetcher Fetcher, log *slog.Logger, met *metrics.Metrics) *Session {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("session_id", string(id)))

	clock := &reportedClock{}
	cache := NewCache(CacheOptions{
		TTL:          cfg.CacheDuration,
		RetryBackoff: cfg.RetryBackoff,
		MaxRetries:   cfg.MaxRetries,
		Fetcher:      fetcher,
		Logger:       log,
		Metrics:      met,
	})
	sched := NewScheduler(SchedulerOptions{
		Interval:      cfg.MonitoringInterval,
		Lookahead:     cfg.PreloadThreshold,
		SeekTolerance: cfg.SeekTolerance,
		MaxVisible:    cfg.MaxVisible,
		Clock:         clock,
		Cache:         cache,
		Logger:        log,
		Metrics:       met,
	})

	s := &Session{
		ID:        id,
		clock:     clock,
		cache:     cache,
		sched:     sched,
		log:       log,
		sweepStop: make(chan struct{}),
	}
	s.viewport = NewViewportTracker(cache, s.lookupAsset, log)

	go s.sweepLoop(cfg.SweepInterval)
	return s
}

func (s *Session) lookupAsset(id Identity) (Asset, uint64, bool) {
	cat := s.sched.Catalog()
	if cat == nil {
		return Asset{}, 0, false
	}
	a, ok := cat.Lookup(id)
	return a, cat.Generation, ok
}

func (s *Session) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			if n := s.cache.Sweep(now); n > 0 {
				s.log.Debug("cache sweep", slog.Int("released", n))
			}
		}
	}
}

// ReplacePhotos installs a new catalog snapshot, wholesale. All derived
// state resets: revealed set, seek cursor, viewport registrations, and the
// UI selection. Cache entries for identities absent from the new catalog are
// released; in-flight fetches for the old generation will be discarded.
func (s *Session) ReplacePhotos(photos []PhotoInput) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrSessionEnded
	}
	s.gen++
	cat := BuildCatalog(s.gen, photos)
	s.selected, s.hasSelect = "", false

	s.sched.SetCatalog(cat)
	s.cache.Rekey(cat.Generation, func(id Identity) bool {
		_, ok := cat.Lookup(id)
		return ok
	})
	s.viewport.Reset()
	s.cache.Sweep(time.Now())

	if s.clock.Playing() {
		s.sched.Start()
	}
	s.log.Info("catalog replaced",
		slog.Int("assets", cat.Len()),
		slog.Int("schedulable", cat.SchedulableCount()),
		slog.Uint64("generation", cat.Generation))
	return cat, nil
}

// ReportClock records the player's position and playing flag. The scheduler
// loop runs only while the clock reports playing: it is torn down on a pause
// report and recreated on a resume.
func (s *Session) ReportClock(pos float64, playing bool) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.mu.Unlock()

	s.clock.Report(pos, playing)
	if playing {
		s.sched.Start()
	} else {
		s.sched.Stop()
	}
	return nil
}

// Revealed returns the current revealed working set, offset ascending.
func (s *Session) Revealed() []Asset {
	return s.sched.Revealed()
}

// LoadState returns the identity's fetch state; StateNone if never requested.
func (s *Session) LoadState(id Identity) LoadState {
	return s.cache.State(id)
}

// ResolveSource returns the cached bytes for the asset, or its raw URL when
// no live cache entry exists, so the UI can always render something.
func (s *Session) ResolveSource(id Identity) (data []byte, srcURL string, err error) {
	a, _, ok := s.lookupAsset(id)
	if !ok {
		return nil, "", ErrAssetNotFound
	}
	data, srcURL = s.cache.Resolve(id, a.URL)
	return data, srcURL, nil
}

// Select marks one asset as focused for detail view.
func (s *Session) Select(id Identity) error {
	if _, _, ok := s.lookupAsset(id); !ok {
		return ErrAssetNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	s.selected = id
	s.hasSelect = true
	return nil
}

// Deselect clears the detail-view focus.
func (s *Session) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
	s.hasSelect = false
}

// Selected returns the focused asset, if any.
func (s *Session) Selected() (Asset, bool) {
	s.mu.Lock()
	id, ok := s.selected, s.hasSelect
	s.mu.Unlock()
	if !ok {
		return Asset{}, false
	}
	a, _, ok := s.lookupAsset(id)
	return a, ok
}

// Observe registers a rendered placeholder with the viewport tracker.
func (s *Session) Observe(id Identity) { s.viewport.Observe(id) }

// Unobserve deregisters a placeholder.
func (s *Session) Unobserve(id Identity) { s.viewport.Unobserve(id) }

// Visible reports a placeholder's transition into the viewport, triggering
// an on-demand load independent of playback position.
func (s *Session) Visible(id Identity) {
	s.viewport.Visible(context.Background(), id)
}

// Ended reports whether the session has been torn down.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// CacheStats returns the session cache's live entry count and payload bytes.
func (s *Session) CacheStats() (entries int, bytes int64) {
	return s.cache.Stats()
}

// End tears the session down: the scheduler loop and sweep stop, and every
// cache handle is released. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	close(s.sweepStop)
	s.mu.Unlock()

	s.sched.Stop()
	s.cache.Close()
	s.log.Info("session ended")
}
