// Package index submits enriched tweet text to the embedding/RAG service
// and runs namespace-scoped queries against it.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

// Config controls the RAG service client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client implements bookmark.Indexer over the RAG service HTTP API.
// Every operation is scoped to a namespace derived from (event type,
// owner handle); that scoping is the sole isolation mechanism for
// multi-tenant search, so callers must only pass verified handles.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a RAG service client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("index endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type addRequest struct {
	Namespace string            `json:"namespace"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
}

type searchRequest struct {
	Namespace      string  `json:"namespace"`
	Query          string  `json:"query,omitempty"`
	Prompt         string  `json:"prompt,omitempty"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

type searchResponse struct {
	Matches []bookmark.SearchMatch `json:"matches"`
	Answer  string                 `json:"answer,omitempty"`
}

// Add submits composed text for embedding under the entry's namespace.
func (c *Client) Add(ctx context.Context, entry bookmark.IndexEntry) error {
	payload := addRequest{
		Namespace: bookmark.Namespace(entry.EventType, entry.Handle),
		Text:      entry.Text,
		Metadata: map[string]string{
			"event_id":   entry.EventID,
			"event_type": entry.EventType,
		},
	}
	if err := c.post(ctx, "/add", payload, nil); err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	c.logger.Debug("indexed entry",
		zap.String("namespace", payload.Namespace),
		zap.String("event_id", entry.EventID),
	)
	return nil
}

// Search returns nearest-neighbor matches within the request's namespace.
func (c *Client) Search(ctx context.Context, req bookmark.SearchRequest) (bookmark.SearchResponse, error) {
	payload := searchRequest{
		Namespace:      bookmark.Namespace(req.EventType, req.Handle),
		Query:          req.Query,
		Limit:          limitOrDefault(req.Limit, 5),
		ScoreThreshold: req.ScoreThreshold,
	}
	var out searchResponse
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return bookmark.SearchResponse{}, fmt.Errorf("index search: %w", err)
	}
	return bookmark.SearchResponse{Matches: out.Matches, Answer: out.Answer}, nil
}

// Answer asks the service to generate an answer grounded in the namespace.
func (c *Client) Answer(ctx context.Context, req bookmark.SearchRequest) (bookmark.SearchResponse, error) {
	payload := searchRequest{
		Namespace: bookmark.Namespace(req.EventType, req.Handle),
		Prompt:    req.Query,
		Limit:     limitOrDefault(req.Limit, 10),
	}
	var out searchResponse
	if err := c.post(ctx, "/answer", payload, &out); err != nil {
		return bookmark.SearchResponse{}, fmt.Errorf("index answer: %w", err)
	}
	return bookmark.SearchResponse{Matches: out.Matches, Answer: out.Answer}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("service returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
