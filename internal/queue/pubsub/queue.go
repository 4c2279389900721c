// Package pubsub implements the enrichment job queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

// Config holds the Pub/Sub resources backing the queue.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// Buffer sizes the channel bridging Receive callbacks to Dequeue.
	Buffer int
}

// Queue publishes enrichment jobs to a topic and consumes them from a
// subscription. Delivery is at-least-once; the worker tolerates replays.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	jobs   chan bookmark.EnrichmentJob
	logger *zap.Logger

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

// NewQueue creates a Pub/Sub client and verifies the topic and subscription
// exist. It authenticates via Application Default Credentials.
func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check subscription %q: %w", cfg.SubscriptionID, err)
	}
	if !ok {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		jobs:   make(chan bookmark.EnrichmentJob, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Enqueue publishes the job and waits for the server acknowledgement so the
// webhook response only confirms durably queued work.
func (q *Queue) Enqueue(ctx context.Context, job bookmark.EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal enrichment job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"bookmark_id": job.BookmarkID,
			"tweet_id":    job.TweetID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish enrichment job: %w", err)
	}
	return nil
}

// Start begins receiving from the subscription, bridging messages into the
// Dequeue channel. Messages are acked once handed to a consumer; malformed
// payloads are acked and dropped so they do not poison the subscription.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		recvCtx, cancel := context.WithCancel(ctx)
		q.stop = cancel
		go func() {
			defer close(q.done)
			err := q.sub.Receive(recvCtx, func(msgCtx context.Context, msg *pubsub.Message) {
				var job bookmark.EnrichmentJob
				if err := json.Unmarshal(msg.Data, &job); err != nil {
					q.logger.Warn("Dropping malformed queue message",
						zap.String("messageId", msg.ID),
						zap.Error(err),
					)
					msg.Ack()
					return
				}
				select {
				case q.jobs <- job:
					msg.Ack()
				case <-msgCtx.Done():
					msg.Nack()
				}
			})
			if err != nil && recvCtx.Err() == nil {
				q.logger.Error("Pub/Sub receive loop ended", zap.Error(err))
			}
		}()
	})
}

// Dequeue returns the next received job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (bookmark.EnrichmentJob, error) {
	select {
	case <-ctx.Done():
		return bookmark.EnrichmentJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.jobs:
		return job, nil
	}
}

// Close stops publishing and receiving and closes the client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if q.stop != nil {
		q.stop()
		<-q.done
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("Failed to close pubsub client", zap.Error(err))
	}
}
