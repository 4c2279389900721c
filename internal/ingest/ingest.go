// Package ingest turns webhook batches into persisted bookmark records
// and queued enrichment jobs.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/metrics"
)

// UpstreamAuthor is the author object delivered by the upstream API.
// Unused upstream fields are dropped at decode time.
type UpstreamAuthor struct {
	ID             string `json:"id"`
	UserName       string `json:"userName"`
	ProfilePicture string `json:"profilePicture"`
	Description    string `json:"description"`
}

// UpstreamTweet is one raw tweet payload from the webhook batch.
type UpstreamTweet struct {
	ID                string         `json:"id"`
	URL               string         `json:"url"`
	TwitterURL        string         `json:"twitterUrl"`
	Text              string         `json:"text"`
	CreatedAt         string         `json:"createdAt"`
	Author            UpstreamAuthor `json:"author"`
	InReplyToID       string         `json:"inReplyToId"`
	InReplyToUserID   string         `json:"inReplyToUserId"`
	InReplyToUsername string         `json:"inReplyToUsername"`
}

// WebhookBatch is the request body posted by the upstream monitoring API.
type WebhookBatch struct {
	Tweets    []UpstreamTweet `json:"tweets"`
	RuleID    string          `json:"rule_id"`
	RuleTag   string          `json:"rule_tag"`
	RuleValue string          `json:"rule_value"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
}

// Result counts per-tweet outcomes for one batch.
type Result struct {
	Accepted     int
	Untagged     int
	Unauthorized int
	Duplicates   int
	Failures     int
}

// Config controls tweet admission and URL derivation.
type Config struct {
	TagPhrases   []string
	MirrorDomain string
}

// Orchestrator is the webhook entry point: it filters tagged tweets,
// runs the gate, persists accepted records, and schedules enrichment.
type Orchestrator struct {
	gate   *bookmark.Gate
	queue  bookmark.Queue
	idGen  bookmark.IDGenerator
	clock  bookmark.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(
	gate *bookmark.Gate,
	queue bookmark.Queue,
	idGen bookmark.IDGenerator,
	clock bookmark.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gate:   gate,
		queue:  queue,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Process handles one webhook batch. Tweets are processed concurrently
// and independently: one tweet's failure never blocks its siblings, and
// per-tweet rejections are counted, not returned as errors.
func (o *Orchestrator) Process(ctx context.Context, batch WebhookBatch) Result {
	var (
		mu  sync.Mutex
		res Result
		wg  sync.WaitGroup
	)
	for i := range batch.Tweets {
		tweet := batch.Tweets[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := o.processTweet(ctx, tweet)
			mu.Lock()
			switch outcome {
			case outcomeAccepted:
				res.Accepted++
			case outcomeUntagged:
				res.Untagged++
			case outcomeUnauthorized:
				res.Unauthorized++
			case outcomeDuplicate:
				res.Duplicates++
			case outcomeFailed:
				res.Failures++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return res
}

type outcome string

const (
	outcomeAccepted     outcome = "accepted"
	outcomeUntagged     outcome = "untagged"
	outcomeUnauthorized outcome = "unauthorized"
	outcomeDuplicate    outcome = "duplicate"
	outcomeFailed       outcome = "failed"
)

func (o *Orchestrator) processTweet(ctx context.Context, tweet UpstreamTweet) outcome {
	out := o.handleTweet(ctx, tweet)
	metrics.TweetIngested(string(out))
	return out
}

func (o *Orchestrator) handleTweet(ctx context.Context, tweet UpstreamTweet) outcome {
	if !bookmark.ContainsTagPhrase(tweet.Text, o.cfg.TagPhrases) {
		return outcomeUntagged
	}

	record, err := o.normalize(tweet)
	if err != nil {
		o.logger.Error("normalize tweet failed",
			zap.String("tweet_id", tweet.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}

	verdict, err := o.gate.Admit(ctx, record)
	if err != nil {
		o.logger.Error("gate admit failed",
			zap.String("tweet_id", tweet.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}
	switch verdict {
	case bookmark.RejectedUnauthorized:
		return outcomeUnauthorized
	case bookmark.RejectedDuplicate:
		return outcomeDuplicate
	}

	job := bookmark.EnrichmentJob{
		BookmarkID:   record.ID,
		TweetID:      record.Tweet.ExternalID,
		Handle:       record.Author.Handle,
		ScrapeURL:    record.MirrorURL,
		SourceURL:    record.Tweet.CanonicalURL,
		OriginalText: record.Tweet.Text,
		Attempt:      1,
		Submitted:    o.clock.Now().Unix(),
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		// The record stays pending; re-enrichment can pick it up later.
		o.logger.Error("enqueue enrichment job failed",
			zap.String("bookmark_id", record.ID),
			zap.Error(err),
		)
		return outcomeFailed
	}

	o.logger.Info("tweet accepted",
		zap.String("bookmark_id", record.ID),
		zap.String("tweet_id", record.Tweet.ExternalID),
		zap.String("handle", record.Author.Handle),
		zap.String("scrape_url", job.ScrapeURL),
	)
	return outcomeAccepted
}

// normalize maps the raw payload into the bookmark shape and derives the
// canonical and mirror URLs for the replied-to tweet. A tweet that is not
// a reply is captured from its own permalink.
func (o *Orchestrator) normalize(tweet UpstreamTweet) (bookmark.Bookmark, error) {
	id, err := o.idGen.NewID()
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("generate bookmark id: %w", err)
	}

	targetHandle := tweet.InReplyToUsername
	targetID := tweet.InReplyToID
	if targetHandle == "" || targetID == "" {
		targetHandle = tweet.Author.UserName
		targetID = tweet.ID
	}

	return bookmark.Bookmark{
		ID: id,
		Tweet: bookmark.TweetMeta{
			ExternalID:   tweet.ID,
			URL:          tweet.URL,
			CanonicalURL: bookmark.CanonicalTweetURL(targetHandle, targetID),
			Text:         tweet.Text,
			CreatedAt:    tweet.CreatedAt,
		},
		Author: bookmark.Author{
			ExternalID: tweet.Author.ID,
			Handle:     tweet.Author.UserName,
			Bio:        tweet.Author.Description,
			AvatarURL:  tweet.Author.ProfilePicture,
		},
		RepliedTo: bookmark.ReplyTarget{
			ExternalID: tweet.InReplyToUserID,
			Handle:     tweet.InReplyToUsername,
			TweetID:    tweet.InReplyToID,
		},
		MirrorURL: bookmark.MirrorTweetURL(o.cfg.MirrorDomain, targetHandle, targetID),
		Status:    bookmark.StatusPending,
		CreatedAt: o.clock.Now(),
	}, nil
}
