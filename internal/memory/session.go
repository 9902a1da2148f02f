package memory

// sessionStore keeps session-scope memories in process memory. Insertion
// order doubles as creation order, so capacity eviction drops order[0].
// Callers hold the Store mutex; this type does no locking of its own.
type sessionStore struct {
	capacity int
	byID     map[string]*Memory
	order    []string
}

func newSessionStore(capacity int) *sessionStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &sessionStore{
		capacity: capacity,
		byID:     make(map[string]*Memory),
	}
}

// put inserts a new memory, evicting the oldest when over capacity.
// The evicted id is returned so the caller can unindex it.
func (s *sessionStore) put(m *Memory) (evicted string) {
	s.byID[m.ID] = m
	s.order = append(s.order, m.ID)

	if len(s.order) > s.capacity {
		evicted = s.order[0]
		s.order = s.order[1:]
		delete(s.byID, evicted)
	}
	return evicted
}

func (s *sessionStore) get(id string) (*Memory, bool) {
	m, ok := s.byID[id]
	return m, ok
}

func (s *sessionStore) delete(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// list returns memories most-recently-created first.
func (s *sessionStore) list(limit, offset int) []*Memory {
	out := make([]*Memory, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.byID[s.order[i]])
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *sessionStore) count() int {
	return len(s.byID)
}

func (s *sessionStore) clear() {
	s.byID = make(map[string]*Memory)
	s.order = nil
}
