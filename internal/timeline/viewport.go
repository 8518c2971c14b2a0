package timeline

import (
	"context"
	"log/slog"
	"sync"
)

// ViewportTracker reacts to the UI's visibility reports: when a rendered
// placeholder for an observed asset enters (or nears) the viewport, the
// tracker requests a prefetch for it. This path is independent of playback
// position: it covers a user scrolling the revealed list, and bulk reveals
// after a backward-then-forward seek, where visibility matters more than
// offset order.
type ViewportTracker struct {
	cache  *Cache
	lookup func(Identity) (Asset, uint64, bool)
	log    *slog.Logger

	mu       sync.Mutex
	observed map[Identity]struct{}
}

// NewViewportTracker returns a tracker that resolves identities through
// lookup (returning the asset and the catalog generation it belongs to) and
// loads via cache.
func NewViewportTracker(cache *Cache, lookup func(Identity) (Asset, uint64, bool), log *slog.Logger) *ViewportTracker {
	if log == nil {
		log = slog.Default()
	}
	return &ViewportTracker{
		cache:    cache,
		lookup:   lookup,
		log:      log,
		observed: make(map[Identity]struct{}),
	}
}

// Observe registers a rendered placeholder for the asset.
func (t *ViewportTracker) Observe(id Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed[id] = struct{}{}
}

// Unobserve deregisters the placeholder, typically when it leaves the DOM.
func (t *ViewportTracker) Unobserve(id Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.observed, id)
}

// Observed reports whether the identity currently has a registered placeholder.
func (t *ViewportTracker) Observed(id Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[id]
	return ok
}

// Visible handles a placeholder's transition into the viewport: if the
// identity is observed and maps to a schedulable asset, its bytes are
// requested. Already-cached or already-loading assets are no-ops inside the
// cache.
func (t *ViewportTracker) Visible(ctx context.Context, id Identity) {
	t.mu.Lock()
	_, ok := t.observed[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	a, gen, ok := t.lookup(id)
	if !ok || !a.Schedulable() {
		return
	}
	t.cache.Load(ctx, gen, a.Identity, a.URL)
}

// Reset drops all registrations (catalog replacement).
func (t *ViewportTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed = make(map[Identity]struct{})
}
