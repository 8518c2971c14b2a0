package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"timeline-sync/internal/platform/metrics"
)

// DefaultCacheDuration is how long a fetched payload stays live before the
// sweep releases it.
const DefaultCacheDuration = 5 * time.Minute

// DefaultRetryBackoff is the fixed delay before a failed fetch is re-attempted.
const DefaultRetryBackoff = 2 * time.Second

// Fetcher is the asset transport collaborator: it turns a URL into bytes.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches asset bytes over HTTP with a shared client.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher. Non-2xx responses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Handle owns the bytes of one fetched asset. The cache is the sole owner;
// external readers get a copy via Cache.Resolve, never the handle itself, so
// release is always safe. Release must be called when the entry is retired.
type Handle struct {
	data []byte
}

// Len returns the payload size, zero once released.
func (h *Handle) Len() int { return len(h.data) }

// Release frees the payload. Safe to call more than once.
func (h *Handle) Release() { h.data = nil }

type cacheEntry struct {
	handle    *Handle
	fetchedAt time.Time
}

// CacheOptions configures a Cache. Zero values fall back to the package's
// Default* constants.
type CacheOptions struct {
	TTL          time.Duration // entry lifetime before sweep eligibility
	RetryBackoff time.Duration // delay before re-attempting a failed fetch
	MaxRetries   int           // retries per identity; 0 means unbounded
	Fetcher      Fetcher
	Logger       *slog.Logger
	Metrics      *metrics.Metrics // may be nil
	Now          func() time.Time // injectable clock for tests
}

// Cache is the content-addressed prefetch store: fetched payloads keyed by
// asset identity, with age-based expiry and leak-safe release. It also owns
// the per-identity load states; the loading marker doubles as the
// mutual-exclusion gate that keeps concurrent loads for one identity down to
// a single underlying fetch.
type Cache struct {
	ttl        time.Duration
	backoff    time.Duration
	maxRetries int
	fetcher    Fetcher
	log        *slog.Logger
	met        *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	gen     uint64
	entries map[Identity]cacheEntry
	bytes   int64
	states  *loadTracker
	closed  bool
}

// NewCache returns a Cache with the given options.
func NewCache(opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheDuration
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &HTTPFetcher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		ttl:        opts.TTL,
		backoff:    opts.RetryBackoff,
		maxRetries: opts.MaxRetries,
		fetcher:    opts.Fetcher,
		log:        opts.Logger,
		met:        opts.Metrics,
		now:        opts.Now,
		entries:    make(map[Identity]cacheEntry),
		states:     newLoadTracker(),
	}
}

// Load requests the asset's bytes if they are not already cached or being
// fetched. The call never blocks on the fetch; results are applied by the
// async continuation. gen must be the catalog generation the request was
// issued under; a stale generation makes the call a no-op, and a result
// arriving after the generation moved on is discarded.
func (c *Cache) Load(ctx context.Context, gen uint64, id Identity, rawURL string) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if e, ok := c.entries[id]; ok && c.now().Sub(e.fetchedAt) <= c.ttl {
		c.mu.Unlock()
		return
	}
	if c.states.get(id) == StateLoading {
		c.mu.Unlock()
		return
	}
	attempt := c.states.attempts[id]
	if c.maxRetries > 0 && attempt > c.maxRetries {
		c.mu.Unlock()
		return
	}
	c.states.set(id, StateLoading)
	c.mu.Unlock()

	if c.met != nil {
		c.met.IncFetches()
		if attempt > 0 {
			c.met.IncFetchRetries()
		}
	}
	go c.fetch(ctx, gen, id, rawURL, attempt)
}

func (c *Cache) fetch(ctx context.Context, gen uint64, id Identity, rawURL string, attempt int) {
	fetchURL := rawURL
	if attempt > 0 {
		// Cache-busting discriminator so a stale failed response is not
		// replayed by an intermediate cache.
		fetchURL = withRetryParam(rawURL, attempt)
	}

	data, err := c.fetcher.Fetch(ctx, fetchURL)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		// The catalog moved on while this fetch was in flight.
		c.mu.Unlock()
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller withdrew the request; that is not a fetch failure.
			// Clearing the loading marker lets a later Load start fresh
			// without burning a retry attempt.
			c.states.forget(id)
			c.mu.Unlock()
			c.log.Debug("asset fetch cancelled", slog.String("identity", string(id)))
			return
		}
		n := c.states.fail(id)
		retry := c.maxRetries == 0 || n <= c.maxRetries
		c.mu.Unlock()
		c.log.Warn("asset fetch failed",
			slog.String("identity", string(id)),
			slog.Int("attempt", n),
			slog.String("error", err.Error()))
		if c.met != nil {
			c.met.IncFetchErrors()
		}
		if retry {
			// The retry is a fresh request; it must not inherit a caller
			// context that may have been cancelled in the meantime.
			time.AfterFunc(c.backoff, func() { c.Load(context.Background(), gen, id, rawURL) })
		}
		return
	}
	if old, ok := c.entries[id]; ok {
		c.bytes -= int64(old.handle.Len())
		old.handle.Release()
	}
	c.entries[id] = cacheEntry{handle: &Handle{data: data}, fetchedAt: c.now()}
	c.bytes += int64(len(data))
	c.states.succeed(id)
	c.mu.Unlock()
}

// Resolve returns a copy of the cached bytes for the identity if a live
// entry exists, else the fallback URL so callers can render or fetch
// directly without blocking on this cache. Exactly one return is non-zero.
func (c *Cache) Resolve(id Identity, fallbackURL string) ([]byte, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && c.now().Sub(e.fetchedAt) <= c.ttl {
		out := make([]byte, e.handle.Len())
		copy(out, e.handle.data)
		return out, ""
	}
	return nil, fallbackURL
}

// State returns the identity's load state; StateNone if never requested.
func (c *Cache) State(id Identity) LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states.get(id)
}

// Release frees the identity's handle and removes the entry.
func (c *Cache) Release(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(id)
}

func (c *Cache) releaseLocked(id Identity) {
	if e, ok := c.entries[id]; ok {
		c.bytes -= int64(e.handle.Len())
		e.handle.Release()
		delete(c.entries, id)
	}
	c.states.forget(id)
}

// Sweep releases and removes every entry older than the TTL, returning the
// number evicted. A swept identity returns to StateNone so a later Load
// refetches it.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if now.Sub(e.fetchedAt) > c.ttl {
			c.releaseLocked(id)
			n++
		}
	}
	if n > 0 && c.met != nil {
		c.met.AddCacheEvictions(n)
	}
	return n
}

// Rekey advances the cache to a new catalog generation. Entries for
// identities the new catalog no longer contains are released; entries for
// surviving identities (stable upstream ids) are kept. Load-state
// bookkeeping restarts from scratch. In particular a `loading` marker from
// an old-generation fetch must not gate loads in the new generation, since
// that fetch's result will be discarded when it lands.
func (c *Cache) Rekey(gen uint64, live func(Identity) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen = gen
	for id := range c.entries {
		if !live(id) {
			c.releaseLocked(id)
		}
	}
	c.states = newLoadTracker()
	for id := range c.entries {
		c.states.set(id, StateLoaded)
	}
}

// Generation returns the catalog generation the cache currently accepts.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Stats returns the live entry count and total payload bytes.
func (c *Cache) Stats() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.bytes
}

// Close releases every handle and rejects all further loads.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.releaseLocked(id)
	}
	c.closed = true
}

// withRetryParam appends a retry discriminator to the URL's query string.
func withRetryParam(rawURL string, attempt int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("retry", strconv.Itoa(attempt))
	u.RawQuery = q.Encode()
	return u.String()
}
