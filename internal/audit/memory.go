package audit

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a slice with RWMutex for thread-safe access.
// Suitable for development and testing; swap for Postgres in production.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []Entry
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// LogEvent records a lifecycle event and returns its assigned ID.
func (s *MemoryStore) LogEvent(_ context.Context, e Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Details != nil {
		// Clone to avoid external mutations.
		cp := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			cp[k] = v
		}
		e.Details = cp
	}
	s.entries = append(s.entries, e)

	return e.ID, nil
}

// History returns the events for a workflow, newest first.
func (s *MemoryStore) History(_ context.Context, workflowID string, limit, offset int) ([]Entry, error) {
	if workflowID == "" {
		return nil, ErrWorkflowIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].WorkflowID == workflowID {
			matched = append(matched, s.entries[i])
		}
	}

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	return matched[offset:end], nil
}

// CleanupOldEntries deletes entries older than the retention window.
func (s *MemoryStore) CleanupOldEntries(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept

	return removed, nil
}
