package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the timeline-sync engine.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	ticksTotal          prometheus.Counter
	seeksTotal          prometheus.Counter
	revealedTotal       prometheus.Counter
	fetchesTotal        prometheus.Counter
	fetchErrorsTotal    prometheus.Counter
	fetchRetriesTotal   prometheus.Counter
	cacheEvictionsTotal prometheus.Counter
	activeSessions      prometheus.Gauge
	cacheEntries        prometheus.Gauge
	cacheBytes          prometheus.Gauge
}

// New creates and registers Prometheus metrics for the timeline-sync service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_scheduler_ticks_total",
			Help: "Total number of scheduler ticks executed",
		}),
		seeksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_seeks_detected_total",
			Help: "Total number of backward seeks detected from position deltas",
		}),
		revealedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_assets_revealed_total",
			Help: "Total number of assets revealed by play-head crossings",
		}),
		fetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_asset_fetches_total",
			Help: "Total number of asset fetches issued by the prefetch cache",
		}),
		fetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_asset_fetch_errors_total",
			Help: "Total number of asset fetches that failed",
		}),
		fetchRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_asset_fetch_retries_total",
			Help: "Total number of asset fetches re-issued after a failure",
		}),
		cacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_cache_evictions_total",
			Help: "Total number of cache entries released by age sweeps",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeline_active_sessions",
			Help: "Number of sessions that are not ended",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeline_cache_entries",
			Help: "Live prefetch cache entries across all sessions",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeline_cache_bytes",
			Help: "Total payload bytes held by prefetch caches",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.ticksTotal,
		m.seeksTotal,
		m.revealedTotal,
		m.fetchesTotal,
		m.fetchErrorsTotal,
		m.fetchRetriesTotal,
		m.cacheEvictionsTotal,
		m.activeSessions,
		m.cacheEntries,
		m.cacheBytes,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncTicks increments the scheduler tick counter.
func (m *Metrics) IncTicks() { m.ticksTotal.Inc() }

// IncSeeks increments the detected-seek counter.
func (m *Metrics) IncSeeks() { m.seeksTotal.Inc() }

// IncRevealed increments the revealed-asset counter.
func (m *Metrics) IncRevealed() { m.revealedTotal.Inc() }

// IncFetches increments the issued-fetch counter.
func (m *Metrics) IncFetches() { m.fetchesTotal.Inc() }

// IncFetchErrors increments the failed-fetch counter.
func (m *Metrics) IncFetchErrors() { m.fetchErrorsTotal.Inc() }

// IncFetchRetries increments the re-issued-fetch counter.
func (m *Metrics) IncFetchRetries() { m.fetchRetriesTotal.Inc() }

// AddCacheEvictions adds n to the sweep eviction counter.
func (m *Metrics) AddCacheEvictions(n int) { m.cacheEvictionsTotal.Add(float64(n)) }

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// SetCacheStats sets the cache entry and byte gauges.
func (m *Metrics) SetCacheStats(entries int, bytes int64) {
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (active sessions, cache stats).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
