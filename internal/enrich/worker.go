// Package enrich implements the asynchronous enrichment pipeline executed
// per accepted tweet.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/metrics"
	"github.com/emee-dev/pandamark/internal/retry"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix    string
	ContentType   string
	DownloadRetry retry.Config
}

// Worker consumes enrichment jobs and executes the scrape, store, patch
// and index steps. Jobs for different tweets run fully in parallel; the
// only shared state is the record store's own concurrency control.
type Worker struct {
	queue    bookmark.Queue
	records  bookmark.RecordStore
	scraper  bookmark.Scraper
	blobs    bookmark.BlobStore
	indexer  bookmark.Indexer
	hasher   bookmark.Hasher
	clock    bookmark.Clock
	download *http.Client
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue bookmark.Queue,
	records bookmark.RecordStore,
	scraper bookmark.Scraper,
	blobs bookmark.BlobStore,
	indexer bookmark.Indexer,
	hasher bookmark.Hasher,
	clock bookmark.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "image/png"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		records:  records,
		scraper:  scraper,
		blobs:    blobs,
		indexer:  indexer,
		hasher:   hasher,
		clock:    clock,
		download: &http.Client{Timeout: 30 * time.Second},
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job bookmark.EnrichmentJob) {
	start := w.clock.Now()

	// The queue delivers at least once; a redelivered job for an already
	// enriched record is a no-op.
	rec, err := w.records.GetBookmark(ctx, job.BookmarkID)
	if err != nil {
		w.logger.Error("load bookmark failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
		metrics.EnrichmentCompleted("load_failed", w.clock.Now().Sub(start))
		return
	}
	if rec.Status == bookmark.StatusEnriched {
		w.logger.Debug("bookmark already enriched, skipping",
			zap.String("bookmark_id", job.BookmarkID),
		)
		return
	}

	scraped, err := w.scraper.Scrape(ctx, job.ScrapeURL)
	if err != nil {
		w.failJob(ctx, job, err)
		metrics.EnrichmentCompleted("failed", w.clock.Now().Sub(start))
		return
	}

	// The summary is known as soon as the scrape succeeds; commit it
	// before the independently-failing blob and index steps.
	if err := w.records.PatchSummary(ctx, job.BookmarkID, scraped.Summary); err != nil {
		w.logger.Error("patch summary failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
	}
	if err := w.records.SetStatus(ctx, job.BookmarkID, bookmark.StatusEnriched, "", w.clock.Now()); err != nil {
		w.logger.Error("set status failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.storeScreenshot(ctx, job, scraped)
	}()
	go func() {
		defer wg.Done()
		w.indexTweet(ctx, job, scraped.Summary)
	}()
	wg.Wait()

	metrics.EnrichmentCompleted("enriched", w.clock.Now().Sub(start))
	w.logger.Info("enrichment complete",
		zap.String("bookmark_id", job.BookmarkID),
		zap.String("tweet_id", job.TweetID),
	)
}

func (w *Worker) failJob(ctx context.Context, job bookmark.EnrichmentJob, cause error) {
	metrics.ScrapeFailed()
	w.logger.Error("scrape exhausted retries",
		zap.String("bookmark_id", job.BookmarkID),
		zap.String("url", job.ScrapeURL),
		zap.Error(cause),
	)
	if err := w.records.SetStatus(
		ctx, job.BookmarkID, bookmark.StatusFailed, cause.Error(), w.clock.Now(),
	); err != nil {
		w.logger.Error("mark bookmark failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
	}
}

// storeScreenshot persists the screenshot bytes and patches the record.
// A permanent download failure leaves the ref absent without affecting
// the summary or the index submission.
func (w *Worker) storeScreenshot(ctx context.Context, job bookmark.EnrichmentJob, scraped bookmark.ScrapeResult) {
	data := scraped.ScreenshotData
	if len(data) == 0 {
		downloaded, err := retry.DoValue(ctx, w.logger, scraped.ScreenshotURL, w.cfg.DownloadRetry,
			func(ctx context.Context) ([]byte, error) {
				return w.fetchImage(ctx, scraped.ScreenshotURL)
			})
		if err != nil {
			w.logger.Error("screenshot download exhausted retries",
				zap.String("bookmark_id", job.BookmarkID),
				zap.String("url", scraped.ScreenshotURL),
				zap.Error(err),
			)
			return
		}
		data = downloaded
	}

	hash, err := w.hasher.Hash(data)
	if err != nil {
		w.logger.Error("hash screenshot failed", zap.String("bookmark_id", job.BookmarkID), zap.Error(err))
		return
	}

	ref, err := w.blobs.Put(ctx, w.blobPath(job.BookmarkID, hash), w.cfg.ContentType, data)
	if err != nil {
		w.logger.Error("store screenshot failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
		return
	}

	if err := w.records.PatchScreenshot(ctx, job.BookmarkID, ref); err != nil {
		w.logger.Error("patch screenshot ref failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
	}
}

func (w *Worker) indexTweet(ctx context.Context, job bookmark.EnrichmentJob, summary string) {
	entry := bookmark.IndexEntry{
		EventType: bookmark.EventTypeTwitterBookmark,
		Handle:    job.Handle,
		EventID:   job.BookmarkID,
		Text:      bookmark.ComposeIndexText(job.Handle, job.OriginalText, summary, job.SourceURL),
	}
	if err := w.indexer.Add(ctx, entry); err != nil {
		w.logger.Error("index submission failed",
			zap.String("bookmark_id", job.BookmarkID),
			zap.Error(err),
		)
	}
}

func (w *Worker) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := w.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download screenshot: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("screenshot host returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read screenshot body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("screenshot host returned empty body")
	}
	return data, nil
}

func (w *Worker) blobPath(bookmarkID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.png", bookmarkID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.png", prefix, bookmarkID, hash)
}
