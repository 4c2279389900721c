// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

// RecordStore keeps bookmark records in memory. The tweet-id index makes
// CreateBookmark the duplicate check, mirroring the unique constraint the
// Postgres store relies on.
type RecordStore struct {
	mu      sync.RWMutex
	byID    map[string]bookmark.Bookmark
	byTweet map[string]string
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		byID:    make(map[string]bookmark.Bookmark),
		byTweet: make(map[string]string),
	}
}

// CreateBookmark inserts a record, rejecting tweet ids already present.
func (s *RecordStore) CreateBookmark(_ context.Context, b bookmark.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTweet[b.Tweet.ExternalID]; exists {
		return bookmark.ErrDuplicateTweet
	}
	s.byID[b.ID] = b
	s.byTweet[b.Tweet.ExternalID] = b.ID
	return nil
}

// GetBookmark fetches a record by ID.
func (s *RecordStore) GetBookmark(_ context.Context, id string) (bookmark.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	if !ok {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	return b, nil
}

// ListBookmarksByDay returns the handle's records created within the UTC day
// containing the given instant, oldest first.
func (s *RecordStore) ListBookmarksByDay(_ context.Context, handle string, day time.Time) ([]bookmark.Bookmark, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bookmark.Bookmark
	for _, b := range s.byID {
		if b.Author.Handle != handle {
			continue
		}
		created := b.CreatedAt.UTC()
		if created.Before(start) || !created.Before(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PatchSummary fills the summary if it is still empty.
func (s *RecordStore) PatchSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return bookmark.ErrNotFound
	}
	if b.Summary == "" {
		b.Summary = summary
		s.byID[id] = b
	}
	return nil
}

// PatchScreenshot fills the screenshot reference if it is still empty.
func (s *RecordStore) PatchScreenshot(_ context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return bookmark.ErrNotFound
	}
	if b.ScreenshotRef == "" {
		b.ScreenshotRef = ref
		s.byID[id] = b
	}
	return nil
}

// SetStatus transitions the record's enrichment status. The failure fields
// are cleared on any transition away from failed.
func (s *RecordStore) SetStatus(_ context.Context, id string, status bookmark.EnrichmentStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return bookmark.ErrNotFound
	}
	b.Status = status
	if status == bookmark.StatusFailed {
		b.FailureReason = reason
		ts := at.UTC()
		b.FailedAt = &ts
	} else {
		b.FailureReason = ""
		b.FailedAt = nil
	}
	s.byID[id] = b
	return nil
}
