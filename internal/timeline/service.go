package timeline

import (
	"errors"
	"log/slog"
	"time"

	"timeline-sync/internal/platform/metrics"
)

// ErrUnknownViewportEvent is returned for viewport events other than
// observe, unobserve, or visible.
var ErrUnknownViewportEvent = errors.New("unknown viewport event")

// DefaultSweepInterval is the cadence of the background cache age sweep.
const DefaultSweepInterval = time.Minute

// Config carries the timing and capacity tunables. All of them were tuned
// empirically in the original application, so every one is configurable
// rather than hardcoded; zero values take the defaults.
type Config struct {
	MonitoringInterval time.Duration // scheduler tick cadence (default 250ms)
	PreloadThreshold   float64       // lookahead window in seconds (default 10)
	CacheDuration      time.Duration // cache entry lifetime (default 5m)
	MaxVisible         int           // revealed-set capacity (default 20)
	SeekTolerance      float64       // backward jitter allowance in seconds (default 0.5)
	RetryBackoff       time.Duration // delay before retrying a failed fetch (default 2s)
	MaxRetries         int           // retries per asset; 0 means unbounded
	SweepInterval      time.Duration // background sweep cadence (default 1m)
}

func (c Config) withDefaults() Config {
	if c.MonitoringInterval <= 0 {
		c.MonitoringInterval = DefaultMonitoringInterval
	}
	if c.PreloadThreshold <= 0 {
		c.PreloadThreshold = DefaultPreloadThreshold
	}
	if c.CacheDuration <= 0 {
		c.CacheDuration = DefaultCacheDuration
	}
	if c.MaxVisible <= 0 {
		c.MaxVisible = DefaultMaxVisible
	}
	if c.SeekTolerance <= 0 {
		c.SeekTolerance = DefaultSeekTolerance
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Service is the application-facing surface: it owns the session registry
// and the shared collaborators (fetcher, logger, metrics) and applies the
// configured tunables to every session it creates.
type Service struct {
	repo    Repository
	cfg     Config
	fetcher Fetcher
	log     *slog.Logger
	met     *metrics.Metrics
}

// NewService returns a Service creating sessions with the given config.
// fetcher may be nil for the default HTTP transport; met may be nil to
// disable metric recording (e.g. in tests).
func NewService(repo Repository, cfg Config, fetcher Fetcher, log *slog.Logger, met *metrics.Metrics) *Service {
	if fetcher == nil {
		fetcher = &HTTPFetcher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cfg: cfg.withDefaults(), fetcher: fetcher, log: log, met: met}
}

// session returns the existing session or creates a fresh engine for id.
func (s *Service) session(id SessionID) *Session {
	return s.repo.GetOrCreateSession(id, func(id SessionID) *Session {
		return NewSession(id, s.cfg, s.fetcher, s.log, s.met)
	})
}

// lookup returns the session only if it already exists.
func (s *Service) lookup(id SessionID) (*Session, error) {
	ses, ok := s.repo.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ses, nil
}

// ReplacePhotos installs the session's photo set, creating the session on
// first contact. Returns the new catalog snapshot.
func (s *Service) ReplacePhotos(id SessionID, photos []PhotoInput) (*Catalog, error) {
	return s.session(id).ReplacePhotos(photos)
}

// ReportClock records a player position report, creating the session on
// first contact so clock and photos may arrive in either order.
func (s *Service) ReportClock(id SessionID, pos float64, playing bool) error {
	return s.session(id).ReportClock(pos, playing)
}

// Revealed returns the session's revealed working set.
func (s *Service) Revealed(id SessionID) ([]Asset, error) {
	ses, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return ses.Revealed(), nil
}

// LoadState returns an asset's fetch state.
func (s *Service) LoadState(id SessionID, asset Identity) (LoadState, error) {
	ses, err := s.lookup(id)
	if err != nil {
		return StateNone, err
	}
	return ses.LoadState(asset), nil
}

// ResolveSource returns cached bytes or the asset's raw URL.
func (s *Service) ResolveSource(id SessionID, asset Identity) (data []byte, srcURL string, err error) {
	ses, err := s.lookup(id)
	if err != nil {
		return nil, "", err
	}
	return ses.ResolveSource(asset)
}

// Select focuses an asset for detail view.
func (s *Service) Select(id SessionID, asset Identity) error {
	ses, err := s.lookup(id)
	if err != nil {
		return err
	}
	return ses.Select(asset)
}

// Deselect clears the detail-view focus.
func (s *Service) Deselect(id SessionID) error {
	ses, err := s.lookup(id)
	if err != nil {
		return err
	}
	ses.Deselect()
	return nil
}

// Selected returns the focused asset, if any.
func (s *Service) Selected(id SessionID) (Asset, bool, error) {
	ses, err := s.lookup(id)
	if err != nil {
		return Asset{}, false, err
	}
	a, ok := ses.Selected()
	return a, ok, nil
}

// ViewportEvent applies one of the UI's placeholder lifecycle events:
// "observe", "unobserve", or "visible".
func (s *Service) ViewportEvent(id SessionID, asset Identity, event string) error {
	ses, err := s.lookup(id)
	if err != nil {
		return err
	}
	switch event {
	case "observe":
		ses.Observe(asset)
	case "unobserve":
		ses.Unobserve(asset)
	case "visible":
		ses.Visible(asset)
	default:
		return ErrUnknownViewportEvent
	}
	return nil
}

// EndSession tears the session down; idempotent.
func (s *Service) EndSession(id SessionID) error {
	return s.repo.EndSession(id)
}

// ActiveSessionCount reports sessions that are not ended, for metrics.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

// CacheStats aggregates live cache entries and bytes across sessions.
func (s *Service) CacheStats() (entries int, bytes int64) {
	for _, ses := range s.repo.ListSessions() {
		e, b := ses.CacheStats()
		entries += e
		bytes += b
	}
	return entries, bytes
}

// Close ends every session, stopping their loops and releasing all cached
// handles. Used on graceful shutdown.
func (s *Service) Close() {
	for _, ses := range s.repo.ListSessions() {
		ses.End()
	}
}
