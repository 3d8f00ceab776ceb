package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a volatile RecordStore keeping the log in a process-local
// slice per user. It is safe for concurrent access and best suited for tests
// or ephemeral demos; production deployments use SQLiteStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry // userID -> append-ordered log
}

// NewInMemoryStore constructs an empty in-memory record store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

// Append writes one entry to the user's log.
func (s *InMemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := e
	cp.Metadata = copyMeta(e.Metadata)
	s.entries[e.UserID] = append(s.entries[e.UserID], cp)
	return nil
}

// Query returns matching entries ordered by insertion, most recent Limit when set.
func (s *InMemoryStore) Query(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries[f.UserID] {
		if f.matches(e) {
			cp := e
			cp.Metadata = copyMeta(e.Metadata)
			out = append(out, cp)
		}
	}
	return tail(out, f.Limit), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// Len returns the total number of stored entries across all users.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, es := range s.entries {
		n += len(es)
	}
	return n
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
