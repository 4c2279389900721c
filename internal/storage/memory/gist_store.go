package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

// GistStore keeps gists in memory.
type GistStore struct {
	mu    sync.RWMutex
	gists map[string]bookmark.Gist
}

// NewGistStore constructs a GistStore.
func NewGistStore() *GistStore {
	return &GistStore{gists: make(map[string]bookmark.Gist)}
}

// CreateGist stores a new gist.
func (s *GistStore) CreateGist(_ context.Context, g bookmark.Gist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gists[g.ID] = g
	return nil
}

// ListGistsByDay returns the handle's gists created within the UTC day
// containing the given instant, oldest first.
func (s *GistStore) ListGistsByDay(_ context.Context, handle string, day time.Time) ([]bookmark.Gist, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bookmark.Gist
	for _, g := range s.gists {
		if g.Handle != handle {
			continue
		}
		created := g.CreatedAt.UTC()
		if created.Before(start) || !created.Before(end) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteGist removes a gist by ID.
func (s *GistStore) DeleteGist(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gists[id]; !ok {
		return bookmark.ErrNotFound
	}
	delete(s.gists, id)
	return nil
}
