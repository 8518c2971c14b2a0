package timeline

import (
	"errors"
	"sync"
)

// Repository defines the concurrency-safe contract for looking up and
// managing session engines.
type Repository interface {
	// GetOrCreateSession returns the session with the given id, creating it
	// with create if it does not exist. An ended session is returned as-is;
	// callers hit ErrSessionEnded on its mutating methods.
	GetOrCreateSession(id SessionID, create func(SessionID) *Session) *Session

	// GetSession returns the session if it exists.
	GetSession(id SessionID) (*Session, bool)

	// EndSession tears the session down. Ending a missing or already-ended
	// session is a no-op for idempotency.
	EndSession(id SessionID) error

	// ListSessions returns all sessions, ended ones included.
	ListSessions() []*Session

	// ActiveSessionCount returns the number of sessions that are not ended.
	// Used for metrics.
	ActiveSessionCount() int
}

var (
	// ErrSessionEnded is returned when attempting to mutate a session that
	// has already been torn down.
	ErrSessionEnded = errors.New("session has ended")

	// ErrSessionNotFound is returned by lookups on sessions that were never
	// created.
	ErrSessionNotFound = errors.New("session not found")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of
// Repository. It uses a Store for persistence; by default an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given
// Store. Useful for testing or plugging in a different backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// GetOrCreateSession implements Repository.GetOrCreateSession.
func (r *InMemoryRepository) GetOrCreateSession(id SessionID, create func(SessionID) *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ses, ok := r.store.GetSession(id); ok {
		return ses
	}
	ses := create(id)
	r.store.SetSession(ses)
	return ses
}

// GetSession implements Repository.GetSession.
func (r *InMemoryRepository) GetSession(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// EndSession implements Repository.EndSession.
func (r *InMemoryRepository) EndSession(id SessionID) error {
	r.mu.RLock()
	ses, ok := r.store.GetSession(id)
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	// Session.End is idempotent and releases the cache.
	ses.End()
	return nil
}

// ListSessions implements Repository.ListSessions.
func (r *InMemoryRepository) ListSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.store.ListSessionIDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if ses, ok := r.store.GetSession(id); ok {
			out = append(out, ses)
		}
	}
	return out
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if ses, ok := r.store.GetSession(id); ok && !ses.Ended() {
			n++
		}
	}
	return n
}
