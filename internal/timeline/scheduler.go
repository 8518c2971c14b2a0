package timeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"timeline-sync/internal/platform/metrics"
)

// DefaultMonitoringInterval is the fixed tick cadence while playback runs.
const DefaultMonitoringInterval = 250 * time.Millisecond

// DefaultPreloadThreshold is the lookahead window, in seconds ahead of the
// play-head, within which assets are eagerly prefetched.
const DefaultPreloadThreshold = 10.0

// DefaultSeekTolerance absorbs sub-frame backward jitter in clock readings
// so it is not mistaken for a seek.
const DefaultSeekTolerance = 0.5

// SchedulerOptions configures a Scheduler. Zero values fall back to the
// package's Default* constants.
type SchedulerOptions struct {
	Interval      time.Duration // tick cadence
	Lookahead     float64       // prefetch window in seconds
	SeekTolerance float64       // backward jitter allowance in seconds
	MaxVisible    int           // revealed-set capacity
	Clock         Clock
	Cache         *Cache
	Logger        *slog.Logger
	Metrics       *metrics.Metrics // may be nil
}

// Scheduler is the control loop that maps the advancing play-head onto the
// catalog: it polls the clock on a fixed cadence while playback runs,
// detects backward seeks, prefetches assets inside the lookahead window,
// and reveals assets the play-head has crossed.
type Scheduler struct {
	interval  time.Duration
	lookahead float64
	tolerance float64
	clock     Clock
	cache     *Cache
	log       *slog.Logger
	met       *metrics.Metrics

	mu       sync.Mutex
	catalog  *Catalog
	revealed *RevealedSet
	// crossed records identities that have been revealed at least once since
	// the last seek or catalog replacement. Capacity eviction does not
	// unmark, so an evicted asset is not churned back in on the next tick.
	crossed  map[Identity]struct{}
	lastSeen float64
	running  bool
	cancel   context.CancelFunc
}

// NewScheduler returns a stopped scheduler with an empty catalog.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitoringInterval
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultPreloadThreshold
	}
	if opts.SeekTolerance <= 0 {
		opts.SeekTolerance = DefaultSeekTolerance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		interval:  opts.Interval,
		lookahead: opts.Lookahead,
		tolerance: opts.SeekTolerance,
		clock:     opts.Clock,
		cache:     opts.Cache,
		log:       opts.Logger,
		met:       opts.Metrics,
		revealed:  NewRevealedSet(opts.MaxVisible),
		crossed:   make(map[Identity]struct{}),
	}
}

// SetCatalog installs a new catalog snapshot and resets all derived state:
// revealed set, crossed bookkeeping, and the seek-detection cursor.
func (s *Scheduler) SetCatalog(cat *Catalog) {
	s.mu.Lock()
	s.catalog = cat
	s.revealed.Clear()
	s.crossed = make(map[Identity]struct{})
	s.lastSeen = 0
	empty := cat == nil || cat.SchedulableCount() == 0
	s.mu.Unlock()
	if empty {
		s.Stop()
	}
}

// Catalog returns the current snapshot, which may be nil.
func (s *Scheduler) Catalog() *Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// Revealed returns the current revealed working set, offset ascending.
func (s *Scheduler) Revealed() []Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed.Items()
}

// Start launches the tick loop if playback state warrants one. An empty or
// all-malformed catalog keeps the scheduler inert. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running || s.catalog == nil || s.catalog.SchedulableCount() == 0 {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(ctx)
}

// Stop tears the tick loop down. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run owns the cadence timer. The timer is re-armed only after the previous
// tick has returned, so ticks never overlap. The loop retires itself when the
// clock stops reporting "playing"; a later Start recreates it.
func (s *Scheduler) run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !s.clock.Playing() {
				s.Stop()
				return
			}
			if pos, err := s.clock.Position(); err == nil {
				// The loop context only tears the cadence down. Fetches
				// started by a tick must survive a pause, so they do not
				// inherit it.
				s.safeTick(context.Background(), pos)
			}
			timer.Reset(s.interval)
		}
	}
}

// safeTick runs one tick, containing any panic so an unexpected failure in
// one cycle cannot silently kill all future synchronization.
func (s *Scheduler) safeTick(ctx context.Context, pos float64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", slog.Any("panic", r))
		}
	}()
	s.Tick(ctx, pos)
}

// Tick advances the timeline to pos: detect a seek, prefetch the lookahead
// window, reveal crossed assets. Non-finite or negative positions are
// ignored without mutating state. The fetches it triggers are asynchronous;
// nothing here blocks on them.
func (s *Scheduler) Tick(ctx context.Context, pos float64) {
	if !validOffset(pos) {
		return
	}

	s.mu.Lock()
	cat := s.catalog
	if cat == nil {
		s.mu.Unlock()
		return
	}

	if pos < s.lastSeen-s.tolerance {
		// Discontinuity: derived reveal state resets, fetched bytes stay valid.
		s.revealed.Clear()
		s.crossed = make(map[Identity]struct{})
		if s.met != nil {
			s.met.IncSeeks()
		}
		s.log.Debug("seek detected",
			slog.Float64("from", s.lastSeen),
			slog.Float64("to", pos))
	}
	s.lastSeen = pos

	var prefetch []Asset
	for _, a := range cat.Assets() {
		if !a.Schedulable() {
			continue
		}
		if a.Offset > pos+s.lookahead {
			// Sorted catalog: everything further is out of range too.
			break
		}
		if a.Offset > pos {
			prefetch = append(prefetch, a)
			continue
		}
		if _, ok := s.crossed[a.Identity]; !ok {
			s.crossed[a.Identity] = struct{}{}
			s.revealed.Insert(a)
			if s.met != nil {
				s.met.IncRevealed()
			}
		}
	}
	gen := cat.Generation
	s.mu.Unlock()

	if s.met != nil {
		s.met.IncTicks()
	}
	for _, a := range prefetch {
		s.cache.Load(ctx, gen, a.Identity, a.URL)
	}
}
