package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/retry"
)

// ChromedpConfig controls the local capture engine.
type ChromedpConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Quality           int
	ViewportWidth     int
	ViewportHeight    int
	Retry             retry.Config
}

// Chromedp implements bookmark.Scraper with a local headless browser. It
// is the fallback when no scrape-provider key is configured: it produces a
// full-page screenshot and the page title but no summary, so records
// enriched through it carry an empty summary.
type Chromedp struct {
	cfg         ChromedpConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	capture     func(ctx context.Context, url string) (bookmark.ScrapeResult, error)
	logger      *zap.Logger
}

// NewChromedp creates a capture engine backed by headless Chrome.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 90
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1272
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 682
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	c := &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	c.capture = c.captureOnce
	return c, nil
}

// Close cancels the allocator context.
func (c *Chromedp) Close() {
	c.allocCancel()
}

// Scrape navigates to url and captures a full-page screenshot, retrying
// transient navigation failures within the configured attempt budget. The
// capture slot is held across attempts.
func (c *Chromedp) Scrape(ctx context.Context, url string) (bookmark.ScrapeResult, error) {
	if err := c.acquire(ctx); err != nil {
		return bookmark.ScrapeResult{}, err
	}
	defer c.release()

	return retry.DoValue(ctx, c.logger, url, c.cfg.Retry, func(ctx context.Context) (bookmark.ScrapeResult, error) {
		return c.capture(ctx, url)
	})
}

func (c *Chromedp) captureOnce(ctx context.Context, url string) (bookmark.ScrapeResult, error) {
	// The task context must descend from the allocator, so the caller's
	// deadline is carried over as a timeout clamp instead.
	timeout := c.cfg.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var (
		shot  []byte
		title string
	)
	actions := []chromedp.Action{
		c.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Title(&title),
		chromedp.FullScreenshot(&shot, c.cfg.Quality),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("chromedp capture: %w", err)
	}
	if len(shot) == 0 {
		return bookmark.ScrapeResult{}, fmt.Errorf("chromedp returned empty screenshot")
	}

	c.logger.Debug("captured page locally", zap.String("url", url), zap.Int("bytes", len(shot)))
	return bookmark.ScrapeResult{
		ScreenshotData: shot,
		PageTitle:      title,
	}, nil
}

func (c *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetDeviceMetricsOverride(
			int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight), 1, false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Chromedp) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture slot wait canceled: %w", ctx.Err())
	}
}

func (c *Chromedp) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
