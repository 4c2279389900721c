package bookmark

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across store implementations.
var (
	// ErrDuplicateTweet means the upstream tweet id has already been ingested.
	ErrDuplicateTweet = errors.New("tweet already ingested")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// RecordStore persists bookmark records. CreateBookmark must enforce
// at-most-one record per upstream tweet id: a second insert with the same
// Tweet.ExternalID returns ErrDuplicateTweet, even under concurrent calls.
type RecordStore interface {
	CreateBookmark(ctx context.Context, b Bookmark) error
	GetBookmark(ctx context.Context, id string) (Bookmark, error)
	ListBookmarksByDay(ctx context.Context, handle string, day time.Time) ([]Bookmark, error)
	// PatchSummary and PatchScreenshot only ever fill an empty field;
	// patching an already-set field is a no-op.
	PatchSummary(ctx context.Context, id string, summary string) error
	PatchScreenshot(ctx context.Context, id string, ref string) error
	SetStatus(ctx context.Context, id string, status EnrichmentStatus, reason string, at time.Time) error
}

// TagStore answers whether a handle is registered for monitoring.
// Handle comparison is case-sensitive.
type TagStore interface {
	IsMonitored(ctx context.Context, handle string) (bool, error)
}

// TagRegistry extends TagStore with management of the monitored set.
// Adding a handle that is already registered is a no-op.
type TagRegistry interface {
	TagStore
	AddTag(ctx context.Context, handle string) error
	RemoveTag(ctx context.Context, handle string) error
}

// GistStore persists user-created gists.
type GistStore interface {
	CreateGist(ctx context.Context, g Gist) error
	ListGistsByDay(ctx context.Context, handle string, day time.Time) ([]Gist, error)
	DeleteGist(ctx context.Context, id string) error
}

// Scraper obtains a full-page screenshot and a summary for a URL.
// Implementations own their retry budget; an error is terminal.
type Scraper interface {
	Scrape(ctx context.Context, url string) (ScrapeResult, error)
}

// BlobStore writes raw artifacts and returns an opaque reference.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Indexer submits composed text to the embedding service and runs
// namespace-scoped search/answer queries against it.
type Indexer interface {
	Add(ctx context.Context, entry IndexEntry) error
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Answer(ctx context.Context, req SearchRequest) (SearchResponse, error)
}

// Queue provides enqueue/dequeue semantics for enrichment jobs.
type Queue interface {
	Enqueue(ctx context.Context, job EnrichmentJob) error
	Dequeue(ctx context.Context) (EnrichmentJob, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests used for blob object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}
