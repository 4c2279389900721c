// Package main wires together the bookmark service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/api"
	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/clock/system"
	"github.com/emee-dev/pandamark/internal/config"
	"github.com/emee-dev/pandamark/internal/dispatcher"
	"github.com/emee-dev/pandamark/internal/enrich"
	"github.com/emee-dev/pandamark/internal/hash/sha256"
	"github.com/emee-dev/pandamark/internal/id/uuid"
	"github.com/emee-dev/pandamark/internal/index"
	"github.com/emee-dev/pandamark/internal/ingest"
	"github.com/emee-dev/pandamark/internal/logging"
	"github.com/emee-dev/pandamark/internal/metrics"
	queuememory "github.com/emee-dev/pandamark/internal/queue/memory"
	queuepubsub "github.com/emee-dev/pandamark/internal/queue/pubsub"
	"github.com/emee-dev/pandamark/internal/retry"
	"github.com/emee-dev/pandamark/internal/scrape"
	"github.com/emee-dev/pandamark/internal/storage/gcs"
	"github.com/emee-dev/pandamark/internal/storage/local"
	storagememory "github.com/emee-dev/pandamark/internal/storage/memory"
	"github.com/emee-dev/pandamark/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *zap.Logger) error {
	var (
		records bookmark.RecordStore
		tags    bookmark.TagRegistry
		gists   bookmark.GistStore
	)
	switch cfg.DB.Backend {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		defer store.Close()
		records, tags, gists = store, store, store
	default:
		records = storagememory.NewRecordStore()
		tags = storagememory.NewTagStore()
		gists = storagememory.NewGistStore()
	}
	// Seed the admission gate; without at least one monitored handle every
	// tagged tweet is rejected as unauthorized.
	for _, handle := range cfg.Bookmark.MonitoredHandles {
		if err := tags.AddTag(ctx, handle); err != nil {
			return fmt.Errorf("seed monitored handle %q: %w", handle, err)
		}
	}

	var blobs bookmark.BlobStore
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer client.Close() //nolint:errcheck
		blobs, err = gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		blobs = store
	default:
		blobs = storagememory.NewBlobStore()
	}

	var queue bookmark.Queue
	if cfg.PubSub.Enabled {
		psQueue, err := queuepubsub.NewQueue(ctx, queuepubsub.Config{
			ProjectID:      cfg.PubSub.ProjectID,
			TopicID:        cfg.PubSub.TopicID,
			SubscriptionID: cfg.PubSub.SubscriptionID,
			Buffer:         cfg.Enrich.QueueDepth,
		}, logging.Component(logger, "queue"))
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		psQueue.Start(ctx)
		defer psQueue.Close() //nolint:errcheck
		queue = psQueue
	} else {
		memQueue := queuememory.NewQueue(cfg.Enrich.QueueDepth)
		defer memQueue.Close()
		queue = memQueue
	}

	scrapeRetry := retry.Config{
		MaxAttempts: cfg.Scrape.MaxRetries,
		BackoffBase: time.Duration(cfg.Scrape.BackoffInitialMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Scrape.BackoffMaxMs) * time.Millisecond,
	}
	var scraper bookmark.Scraper
	switch cfg.Scrape.Provider {
	case "chromedp":
		cdp, err := scrape.NewChromedp(scrape.ChromedpConfig{
			MaxParallel:       cfg.Scrape.MaxParallel,
			NavigationTimeout: cfg.ScrapeTimeout(),
			Quality:           cfg.Scrape.Quality,
			ViewportWidth:     cfg.Scrape.ViewportWidth,
			ViewportHeight:    cfg.Scrape.ViewportHeight,
			Retry:             scrapeRetry,
		}, logging.Component(logger, "chromedp"))
		if err != nil {
			return fmt.Errorf("init chromedp scraper: %w", err)
		}
		defer cdp.Close()
		scraper = cdp
	default:
		fc, err := scrape.NewFirecrawl(scrape.Config{
			Endpoint:       cfg.Scrape.Endpoint,
			APIKey:         cfg.Scrape.APIKey,
			WaitForMs:      cfg.Scrape.WaitForMs,
			Quality:        cfg.Scrape.Quality,
			ViewportWidth:  cfg.Scrape.ViewportWidth,
			ViewportHeight: cfg.Scrape.ViewportHeight,
			Timeout:        cfg.ScrapeTimeout(),
			Retry:          scrapeRetry,
		}, logging.Component(logger, "firecrawl"))
		if err != nil {
			return fmt.Errorf("init firecrawl scraper: %w", err)
		}
		scraper = fc
	}

	indexer, err := index.New(index.Config{
		Endpoint: cfg.Index.Endpoint,
		APIKey:   cfg.Index.APIKey,
		Timeout:  time.Duration(cfg.Index.TimeoutSeconds) * time.Second,
	}, logging.Component(logger, "index"))
	if err != nil {
		return fmt.Errorf("init index client: %w", err)
	}

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	workerCfg := enrich.Config{
		BlobPrefix:    cfg.Storage.Prefix,
		ContentType:   cfg.Storage.ContentType,
		DownloadRetry: scrapeRetry,
	}
	var workers []*enrich.Worker
	for i := 0; i < cfg.Enrich.Concurrency; i++ {
		workers = append(workers, enrich.New(
			queue,
			records,
			scraper,
			blobs,
			indexer,
			hasher,
			clock,
			workerCfg,
			logging.Component(logger, "worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	gate := bookmark.NewGate(tags, records, logging.Component(logger, "gate"))
	orch := ingest.New(gate, queue, idGen, clock, ingest.Config{
		TagPhrases:   cfg.Bookmark.TagPhrases,
		MirrorDomain: cfg.Bookmark.MirrorDomain,
	}, logging.Component(logger, "ingest"))

	apiServer := api.NewServer(orch, records, tags, gists, indexer, dispatch, idGen, clock, cfg, logging.Component(logger, "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
