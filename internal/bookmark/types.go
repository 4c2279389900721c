// Package bookmark defines core types shared across subsystems.
package bookmark

import "time"

// EnrichmentStatus represents the lifecycle state of a bookmark's enrichment.
type EnrichmentStatus string

// Enrichment status values persisted on each record.
const (
	StatusPending  EnrichmentStatus = "pending"
	StatusEnriched EnrichmentStatus = "enriched"
	StatusFailed   EnrichmentStatus = "failed"
)

// TweetMeta is the immutable source-of-truth metadata copied from the
// upstream API at ingestion time.
type TweetMeta struct {
	ExternalID   string `json:"external_id"`
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url"`
	Text         string `json:"text"`
	CreatedAt    string `json:"created_at"`
}

// Author identifies the account that posted the tagged tweet.
type Author struct {
	ExternalID string `json:"external_id"`
	Handle     string `json:"handle"`
	Bio        string `json:"bio,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// ReplyTarget identifies the tweet being replied to. Its page is the
// content actually screenshotted.
type ReplyTarget struct {
	ExternalID string `json:"external_id"`
	Handle     string `json:"handle"`
	TweetID    string `json:"tweet_id"`
}

// Bookmark represents one ingested, eventually enriched tweet.
// Summary and ScreenshotRef stay empty until enrichment populates them;
// once set they are never revised.
type Bookmark struct {
	ID            string           `json:"id"`
	Tweet         TweetMeta        `json:"tweet"`
	Author        Author           `json:"author"`
	RepliedTo     ReplyTarget      `json:"replied_to"`
	MirrorURL     string           `json:"mirror_url"`
	Summary       string           `json:"summary,omitempty"`
	ScreenshotRef string           `json:"screenshot_ref,omitempty"`
	Status        EnrichmentStatus `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	FailedAt      *time.Time       `json:"failed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// EnrichmentJob is the unit of work queued for each accepted tweet.
type EnrichmentJob struct {
	BookmarkID   string `json:"bookmark_id"`
	TweetID      string `json:"tweet_id"`
	Handle       string `json:"handle"`
	ScrapeURL    string `json:"scrape_url"`
	SourceURL    string `json:"source_url"`
	OriginalText string `json:"original_text"`
	Attempt      int    `json:"attempt"`
	Submitted    int64  `json:"submitted"`
}

// ScrapeResult is returned by a Scraper implementation. Providers that
// capture in-process return the image bytes directly in ScreenshotData;
// hosted providers return a fetchable ScreenshotURL instead.
type ScrapeResult struct {
	ScreenshotURL  string
	ScreenshotData []byte
	Summary        string
	PageTitle      string
}

// Gist is a user-created note, listed alongside bookmarks on the calendar.
// Gists are never enriched.
type Gist struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Recipients  []string  `json:"recipients,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IndexEntry is the text submitted to the search index. EventType and
// Handle together form the namespace that isolates per-user content.
type IndexEntry struct {
	EventType string
	Handle    string
	EventID   string
	Text      string
}

// SearchRequest queries the index within one namespace.
type SearchRequest struct {
	EventType      string
	Handle         string
	Query          string
	Limit          int
	ScoreThreshold float64
}

// SearchMatch is one nearest-neighbor result from the index.
type SearchMatch struct {
	EventID string  `json:"event_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// SearchResponse carries matched entries plus optional generated answer text.
type SearchResponse struct {
	Matches []SearchMatch `json:"matches"`
	Answer  string        `json:"answer,omitempty"`
}
