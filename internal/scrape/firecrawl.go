// Package scrape obtains page screenshots and AI summaries for tweet URLs.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/retry"
)

const summaryPrompt = "Provide a brief paragraph plain text summary of the page content. " +
	"No markdown. Do nothing if you do not know. " +
	"It should match the structure of the schema I have provided. " +
	"Nothing more or less, just exactly the schema."

// Config controls the Firecrawl client.
type Config struct {
	Endpoint       string
	APIKey         string
	WaitForMs      int
	Quality        int
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
	Retry          retry.Config
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.firecrawl.dev/v2/scrape"
	}
	if c.WaitForMs <= 0 {
		c.WaitForMs = 1000
	}
	if c.Quality <= 0 {
		c.Quality = 90
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1272
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 682
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Firecrawl implements bookmark.Scraper against the Firecrawl scrape API.
// One request captures a full-page screenshot and runs a structured text
// extraction constrained to a {summary: string} schema.
type Firecrawl struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewFirecrawl constructs a Firecrawl scraper.
func NewFirecrawl(cfg Config, logger *zap.Logger) (*Firecrawl, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("scrape api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Firecrawl{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type scrapeEnvelope struct {
	Success bool `json:"success"`
	Data    *struct {
		Screenshot string `json:"screenshot"`
		JSON       struct {
			Summary string `json:"summary"`
		} `json:"json"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape captures the page at url, retrying transient provider failures
// within the configured attempt budget.
func (f *Firecrawl) Scrape(ctx context.Context, url string) (bookmark.ScrapeResult, error) {
	return retry.DoValue(ctx, f.logger, url, f.cfg.Retry, func(ctx context.Context) (bookmark.ScrapeResult, error) {
		return f.scrapeOnce(ctx, url)
	})
}

func (f *Firecrawl) scrapeOnce(ctx context.Context, url string) (bookmark.ScrapeResult, error) {
	body, err := json.Marshal(f.requestPayload(url))
	if err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return bookmark.ScrapeResult{}, fmt.Errorf("scrape provider returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("read scrape response: %w", err)
	}
	var envelope scrapeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("decode scrape response: %w", err)
	}
	if !envelope.Success || envelope.Data == nil {
		return bookmark.ScrapeResult{}, fmt.Errorf("scrape provider returned no data")
	}
	if envelope.Data.Screenshot == "" {
		return bookmark.ScrapeResult{}, fmt.Errorf("scrape provider returned no screenshot")
	}

	return bookmark.ScrapeResult{
		ScreenshotURL: envelope.Data.Screenshot,
		Summary:       envelope.Data.JSON.Summary,
		PageTitle:     envelope.Data.Metadata.Title,
	}, nil
}

func (f *Firecrawl) requestPayload(url string) map[string]any {
	return map[string]any{
		"url":     url,
		"waitFor": f.cfg.WaitForMs,
		"formats": []map[string]any{
			{
				"type":   "json",
				"prompt": summaryPrompt,
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"summary": map[string]any{
							"type":        "string",
							"description": "Summary of page content",
						},
					},
					"required": []string{"summary"},
				},
			},
			{
				"type":     "screenshot",
				"fullPage": true,
				"quality":  f.cfg.Quality,
				"viewport": map[string]any{
					"width":  f.cfg.ViewportWidth,
					"height": f.cfg.ViewportHeight,
				},
			},
		},
	}
}
