package timeline

// LoadState is the per-asset fetch state driving UI affordances and retry.
// Absence of an entry means the asset has not been requested yet.
type LoadState string

const (
	StateNone    LoadState = "none"
	StateLoading LoadState = "loading"
	StateLoaded  LoadState = "loaded"
	StateError   LoadState = "error"
)

// loadTracker holds identity-keyed load states and retry attempt counts.
// It is not internally locked; the owning cache serializes access.
type loadTracker struct {
	states   map[Identity]LoadState
	attempts map[Identity]int
}

func newLoadTracker() *loadTracker {
	return &loadTracker{
		states:   make(map[Identity]LoadState),
		attempts: make(map[Identity]int),
	}
}

func (t *loadTracker) get(id Identity) LoadState {
	if s, ok := t.states[id]; ok {
		return s
	}
	return StateNone
}

func (t *loadTracker) set(id Identity, s LoadState) {
	t.states[id] = s
}

// fail records a fetch failure and returns the updated attempt count.
func (t *loadTracker) fail(id Identity) int {
	t.states[id] = StateError
	t.attempts[id]++
	return t.attempts[id]
}

// succeed marks the asset loaded and resets its attempt count.
func (t *loadTracker) succeed(id Identity) {
	t.states[id] = StateLoaded
	delete(t.attempts, id)
}

// forget removes all tracking for the identity, returning it to StateNone.
func (t *loadTracker) forget(id Identity) {
	delete(t.states, id)
	delete(t.attempts, id)
}
