package bookmark

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Admission is the gate's verdict for one incoming tweet.
type Admission int

// Gate verdicts. Authorization is checked before duplication.
const (
	Accepted Admission = iota
	RejectedUnauthorized
	RejectedDuplicate
)

// String returns a log-friendly name for the verdict.
func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case RejectedUnauthorized:
		return "rejected_unauthorized"
	case RejectedDuplicate:
		return "rejected_duplicate"
	default:
		return "unknown"
	}
}

// Gate authorizes tagged authors and deduplicates tweet ids. The duplicate
// check is the record insert itself, so two concurrent deliveries of the
// same tweet id cannot both win.
type Gate struct {
	tags    TagStore
	records RecordStore
	logger  *zap.Logger
}

// NewGate constructs a Gate.
func NewGate(tags TagStore, records RecordStore, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{tags: tags, records: records, logger: logger}
}

// Admit checks that the tweet's author is monitored and, if so, inserts the
// record. RejectedUnauthorized and RejectedDuplicate are verdicts, not
// errors; a non-nil error means the gate itself could not decide.
func (g *Gate) Admit(ctx context.Context, b Bookmark) (Admission, error) {
	monitored, err := g.tags.IsMonitored(ctx, b.Author.Handle)
	if err != nil {
		return RejectedUnauthorized, fmt.Errorf("check monitored handle: %w", err)
	}
	if !monitored {
		g.logger.Info("tweet author not monitored, skipping",
			zap.String("handle", b.Author.Handle),
			zap.String("tweet_id", b.Tweet.ExternalID),
		)
		return RejectedUnauthorized, nil
	}

	if err := g.records.CreateBookmark(ctx, b); err != nil {
		if errors.Is(err, ErrDuplicateTweet) {
			g.logger.Info("tweet already ingested, skipping",
				zap.String("tweet_id", b.Tweet.ExternalID),
			)
			return RejectedDuplicate, nil
		}
		return Accepted, fmt.Errorf("create bookmark: %w", err)
	}
	return Accepted, nil
}
