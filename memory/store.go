package memory

import "context"

// Filter selects entries from the durable log. UserID is required; the other
// fields narrow the match. Results are always ordered by creation time
// ascending; when Limit is positive only the most recent Limit entries are
// returned (still ascending).
type Filter struct {
	UserID    string
	SessionID string
	AgentName string
	Types     []EntryType
	Limit     int
}

// matches reports whether the entry satisfies the non-limit fields.
func (f Filter) matches(e Entry) bool {
	if e.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.AgentName != "" && e.AgentName != f.AgentName {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// RecordStore is the append-only persistence contract for memory entries.
// Implementations must preserve insertion order per user and never mutate
// stored entries.
type RecordStore interface {
	// Append writes one entry to the log.
	Append(ctx context.Context, e Entry) error
	// Query returns entries matching the filter, ordered by creation time.
	Query(ctx context.Context, f Filter) ([]Entry, error)
	// Close releases underlying resources.
	Close() error
}

// tail returns the last n elements of entries (all when n <= 0 or larger
// than the slice).
func tail(entries []Entry, n int) []Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}
