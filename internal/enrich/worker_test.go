package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/hash/sha256"
	"github.com/emee-dev/pandamark/internal/retry"
)

type fakeQueue struct {
	ch chan bookmark.EnrichmentJob
}

func newFakeQueue(jobs ...bookmark.EnrichmentJob) *fakeQueue {
	q := &fakeQueue{ch: make(chan bookmark.EnrichmentJob, len(jobs)+1)}
	for _, j := range jobs {
		q.ch <- j
	}
	return q
}

func (q *fakeQueue) Enqueue(_ context.Context, job bookmark.EnrichmentJob) error {
	q.ch <- job
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (bookmark.EnrichmentJob, error) {
	select {
	case <-ctx.Done():
		return bookmark.EnrichmentJob{}, ctx.Err()
	case job := <-q.ch:
		return job, nil
	}
}

type fakeRecordStore struct {
	mu      sync.Mutex
	records map[string]bookmark.Bookmark
}

func newFakeRecordStore(records ...bookmark.Bookmark) *fakeRecordStore {
	s := &fakeRecordStore{records: make(map[string]bookmark.Bookmark)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeRecordStore) CreateBookmark(_ context.Context, b bookmark.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[b.ID] = b
	return nil
}

func (s *fakeRecordStore) GetBookmark(_ context.Context, id string) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.records[id]
	if !ok {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	return b, nil
}

func (s *fakeRecordStore) ListBookmarksByDay(context.Context, string, time.Time) ([]bookmark.Bookmark, error) {
	return nil, nil
}

func (s *fakeRecordStore) PatchSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.records[id]
	if b.Summary == "" {
		b.Summary = summary
		s.records[id] = b
	}
	return nil
}

func (s *fakeRecordStore) PatchScreenshot(_ context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.records[id]
	if b.ScreenshotRef == "" {
		b.ScreenshotRef = ref
		s.records[id] = b
	}
	return nil
}

func (s *fakeRecordStore) SetStatus(_ context.Context, id string, status bookmark.EnrichmentStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.records[id]
	b.Status = status
	b.FailureReason = reason
	if status == bookmark.StatusFailed {
		b.FailedAt = &at
	}
	s.records[id] = b
	return nil
}

func (s *fakeRecordStore) get(id string) bookmark.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type fakeScraper struct {
	mu     sync.Mutex
	calls  int
	result bookmark.ScrapeResult
	err    error
}

func (f *fakeScraper) Scrape(context.Context, string) (bookmark.ScrapeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return bookmark.ScrapeResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBlobStore struct {
	mu    sync.Mutex
	puts  map[string][]byte
	types map[string]string
	err   error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{puts: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeBlobStore) Put(_ context.Context, path, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.puts[path] = data
	f.types[path] = contentType
	return "mem://" + path, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	entries []bookmark.IndexEntry
	err     error
}

func (f *fakeIndexer) Add(_ context.Context, entry bookmark.IndexEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeIndexer) Search(context.Context, bookmark.SearchRequest) (bookmark.SearchResponse, error) {
	return bookmark.SearchResponse{}, nil
}

func (f *fakeIndexer) Answer(context.Context, bookmark.SearchRequest) (bookmark.SearchResponse, error) {
	return bookmark.SearchResponse{}, nil
}

func (f *fakeIndexer) all() []bookmark.IndexEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bookmark.IndexEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func pendingBookmark(id string) bookmark.Bookmark {
	return bookmark.Bookmark{
		ID:     id,
		Tweet:  bookmark.TweetMeta{ExternalID: "T1", Text: "@usepanda_ bookmark this", CanonicalURL: "https://x.com/bob/status/R1"},
		Author: bookmark.Author{Handle: "alice"},
		Status: bookmark.StatusPending,
	}
}

func jobFor(id string) bookmark.EnrichmentJob {
	return bookmark.EnrichmentJob{
		BookmarkID:   id,
		TweetID:      "T1",
		Handle:       "alice",
		ScrapeURL:    "https://xcancel.com/bob/status/R1",
		SourceURL:    "https://x.com/bob/status/R1",
		OriginalText: "@usepanda_ bookmark this",
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}
}

func newWorker(
	records bookmark.RecordStore,
	scraper bookmark.Scraper,
	blobs bookmark.BlobStore,
	indexer bookmark.Indexer,
) *Worker {
	return New(
		newFakeQueue(),
		records,
		scraper,
		blobs,
		indexer,
		sha256.New(),
		&fixedClock{now: time.Unix(1700000000, 0).UTC()},
		Config{BlobPrefix: "screenshots", DownloadRetry: fastRetry()},
		zap.NewNop(),
	)
}

func TestProcessJobFullSuccess(t *testing.T) {
	t.Parallel()

	image := []byte("png-bytes")
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(image) //nolint:errcheck
	}))
	defer imgSrv.Close()

	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{result: bookmark.ScrapeResult{
		ScreenshotURL: imgSrv.URL + "/shot.png",
		Summary:       "A thread about Go.",
		PageTitle:     "Tweet by bob",
	}}
	blobs := newFakeBlobStore()
	indexer := &fakeIndexer{}

	w := newWorker(records, scraper, blobs, indexer)
	w.processJob(context.Background(), jobFor("bm-1"))

	rec := records.get("bm-1")
	require.Equal(t, bookmark.StatusEnriched, rec.Status)
	require.Equal(t, "A thread about Go.", rec.Summary)
	require.NotEmpty(t, rec.ScreenshotRef)

	hash, _ := sha256.New().Hash(image)
	expectedPath := fmt.Sprintf("screenshots/bm-1/%s.png", hash)
	require.Equal(t, "mem://"+expectedPath, rec.ScreenshotRef)
	require.Equal(t, image, blobs.puts[expectedPath])
	require.Equal(t, "image/png", blobs.types[expectedPath])

	entries := indexer.all()
	require.Len(t, entries, 1)
	require.Equal(t, bookmark.EventTypeTwitterBookmark, entries[0].EventType)
	require.Equal(t, "alice", entries[0].Handle)
	require.Equal(t, "bm-1", entries[0].EventID)
	require.Contains(t, entries[0].Text, "Summary: A thread about Go.")
	require.Contains(t, entries[0].Text, "Source: https://x.com/bob/status/R1")
}

func TestProcessJobScrapeFailureMarksRecordFailed(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{err: errors.New("scrape failed after 3 attempts")}
	blobs := newFakeBlobStore()
	indexer := &fakeIndexer{}

	w := newWorker(records, scraper, blobs, indexer)
	w.processJob(context.Background(), jobFor("bm-1"))

	rec := records.get("bm-1")
	require.Equal(t, bookmark.StatusFailed, rec.Status)
	require.Contains(t, rec.FailureReason, "scrape failed")
	require.NotNil(t, rec.FailedAt)
	require.Empty(t, rec.Summary)
	require.Empty(t, rec.ScreenshotRef)
	require.Empty(t, indexer.all())
	require.Empty(t, blobs.puts)
}

func TestProcessJobBlobFailureDoesNotBlockIndex(t *testing.T) {
	t.Parallel()

	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer imgSrv.Close()

	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{result: bookmark.ScrapeResult{
		ScreenshotURL: imgSrv.URL + "/gone.png",
		Summary:       "still a summary",
	}}
	indexer := &fakeIndexer{}

	w := newWorker(records, scraper, newFakeBlobStore(), indexer)
	w.processJob(context.Background(), jobFor("bm-1"))

	rec := records.get("bm-1")
	require.Equal(t, bookmark.StatusEnriched, rec.Status)
	require.Equal(t, "still a summary", rec.Summary)
	require.Empty(t, rec.ScreenshotRef)
	require.Len(t, indexer.all(), 1)
}

func TestProcessJobIndexFailureDoesNotBlockScreenshot(t *testing.T) {
	t.Parallel()

	image := []byte("bytes")
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(image) //nolint:errcheck
	}))
	defer imgSrv.Close()

	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{result: bookmark.ScrapeResult{
		ScreenshotURL: imgSrv.URL + "/shot.png",
		Summary:       "summary",
	}}
	indexer := &fakeIndexer{err: errors.New("rag service down")}

	w := newWorker(records, scraper, newFakeBlobStore(), indexer)
	w.processJob(context.Background(), jobFor("bm-1"))

	rec := records.get("bm-1")
	require.Equal(t, bookmark.StatusEnriched, rec.Status)
	require.NotEmpty(t, rec.ScreenshotRef)
}

func TestProcessJobUsesInlineScreenshotBytes(t *testing.T) {
	t.Parallel()

	image := []byte("local-capture")
	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{result: bookmark.ScrapeResult{ScreenshotData: image}}
	blobs := newFakeBlobStore()

	w := newWorker(records, scraper, blobs, &fakeIndexer{})
	w.processJob(context.Background(), jobFor("bm-1"))

	rec := records.get("bm-1")
	require.Equal(t, bookmark.StatusEnriched, rec.Status)
	require.NotEmpty(t, rec.ScreenshotRef)
	require.Len(t, blobs.puts, 1)
	for _, data := range blobs.puts {
		require.Equal(t, image, data)
	}
}

func TestProcessJobSkipsAlreadyEnrichedRecord(t *testing.T) {
	t.Parallel()

	enriched := pendingBookmark("bm-1")
	enriched.Status = bookmark.StatusEnriched
	enriched.Summary = "original summary"
	records := newFakeRecordStore(enriched)
	scraper := &fakeScraper{result: bookmark.ScrapeResult{Summary: "new summary"}}

	w := newWorker(records, scraper, newFakeBlobStore(), &fakeIndexer{})
	w.processJob(context.Background(), jobFor("bm-1"))

	require.Zero(t, scraper.callCount())
	require.Equal(t, "original summary", records.get("bm-1").Summary)
}

func TestProcessJobUnknownRecord(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	scraper := &fakeScraper{result: bookmark.ScrapeResult{Summary: "s"}}

	w := newWorker(records, scraper, newFakeBlobStore(), &fakeIndexer{})
	w.processJob(context.Background(), jobFor("missing"))

	require.Zero(t, scraper.callCount())
}

func TestRunConsumesQueuedJobs(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore(pendingBookmark("bm-1"))
	scraper := &fakeScraper{result: bookmark.ScrapeResult{ScreenshotData: []byte("img"), Summary: "s"}}
	queue := newFakeQueue(jobFor("bm-1"))

	w := New(
		queue,
		records,
		scraper,
		newFakeBlobStore(),
		&fakeIndexer{},
		sha256.New(),
		&fixedClock{now: time.Now().UTC()},
		Config{DownloadRetry: fastRetry()},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return records.get("bm-1").Status == bookmark.StatusEnriched
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
}
