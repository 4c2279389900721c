// Package retry implements the bounded attempt loop shared by outbound calls.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config controls the attempt budget and backoff curve.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	return c
}

// Do runs fn until it succeeds or the attempt budget is exhausted. Each
// retry is logged with the attempt count and target. The context aborts
// the loop between attempts.
func Do(ctx context.Context, logger *zap.Logger, target string, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, logger, target, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](
	ctx context.Context,
	logger *zap.Logger,
	target string,
	cfg Config,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry canceled: %w", err)
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}
		logger.Warn("call failed, retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", target, cfg.MaxAttempts, lastErr)
}

func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BackoffBase << (attempt - 1)
	if d > cfg.BackoffMax {
		return cfg.BackoffMax
	}
	return d
}
