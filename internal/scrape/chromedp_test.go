package scrape

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emee-dev/pandamark/internal/bookmark"
	"github.com/emee-dev/pandamark/internal/retry"
)

func newTestChromedp(t *testing.T) *Chromedp {
	t.Helper()
	c, err := NewChromedp(ChromedpConfig{
		MaxParallel: 1,
		Retry:       retry.Config{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestChromedpScrapeRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	c := newTestChromedp(t)
	var calls int
	c.capture = func(context.Context, string) (bookmark.ScrapeResult, error) {
		calls++
		if calls < 3 {
			return bookmark.ScrapeResult{}, fmt.Errorf("page load: net::ERR_CONNECTION_RESET")
		}
		return bookmark.ScrapeResult{ScreenshotData: []byte{0x89}, PageTitle: "tweet"}, nil
	}

	res, err := c.Scrape(context.Background(), "https://xcancel.com/alice/status/T1")
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, "tweet", res.PageTitle)
	require.NotEmpty(t, res.ScreenshotData)
}

func TestChromedpScrapeExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	c := newTestChromedp(t)
	var calls int
	c.capture = func(context.Context, string) (bookmark.ScrapeResult, error) {
		calls++
		return bookmark.ScrapeResult{}, fmt.Errorf("page load: net::ERR_TIMED_OUT")
	}

	_, err := c.Scrape(context.Background(), "https://xcancel.com/alice/status/T1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, calls)
}
