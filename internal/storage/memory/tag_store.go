package memory

import (
	"context"
	"sync"
)

// TagStore keeps the set of monitored handles in memory.
type TagStore struct {
	mu      sync.RWMutex
	handles map[string]struct{}
}

// NewTagStore constructs a TagStore, optionally seeded with handles.
func NewTagStore(handles ...string) *TagStore {
	s := &TagStore{handles: make(map[string]struct{}, len(handles))}
	for _, h := range handles {
		s.handles[h] = struct{}{}
	}
	return s
}

// AddTag registers a handle for monitoring.
func (s *TagStore) AddTag(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle] = struct{}{}
	return nil
}

// RemoveTag stops monitoring a handle.
func (s *TagStore) RemoveTag(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, handle)
	return nil
}

// IsMonitored reports whether the handle is registered. Comparison is
// case-sensitive.
func (s *TagStore) IsMonitored(_ context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[handle]
	return ok, nil
}
