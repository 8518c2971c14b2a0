package timeline

// Store is the registry abstraction for session engines. Implementations
// can be in-memory or process-external; the Repository uses Store for all
// reads and writes, so callers never see which one is wired in.
type Store interface {
	GetSession(id SessionID) (*Session, bool)
	SetSession(s *Session)
	ListSessionIDs() []SessionID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[SessionID]*Session
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[SessionID]*Session),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(id SessionID) (*Session, bool) {
	ses, ok := s.sessions[id]
	return ses, ok
}

// SetSession implements Store.SetSession.
func (s *InMemoryStore) SetSession(ses *Session) {
	s.sessions[ses.ID] = ses
}

// ListSessionIDs implements Store.ListSessionIDs.
func (s *InMemoryStore) ListSessionIDs() []SessionID {
	ids := make([]SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
