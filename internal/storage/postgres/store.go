// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the bookmark record, tag, and gist stores on Postgres.
//
// Expected schema:
//
//	CREATE TABLE bookmarked_tweets (
//		id UUID PRIMARY KEY,
//		tweet_id TEXT NOT NULL UNIQUE,
//		tweet_url TEXT NOT NULL,
//		canonical_url TEXT NOT NULL,
//		tweet_text TEXT NOT NULL,
//		tweet_created_at TEXT,
//		author_id TEXT,
//		author_handle TEXT NOT NULL,
//		author_bio TEXT,
//		author_avatar_url TEXT,
//		reply_to_id TEXT,
//		reply_to_handle TEXT,
//		reply_to_tweet_id TEXT,
//		mirror_url TEXT NOT NULL,
//		summary TEXT NOT NULL DEFAULT '',
//		screenshot_ref TEXT NOT NULL DEFAULT '',
//		status TEXT NOT NULL,
//		failure_reason TEXT NOT NULL DEFAULT '',
//		failed_at TIMESTAMPTZ,
//		created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE monitored_handles (handle TEXT PRIMARY KEY);
//	CREATE TABLE gists (
//		id UUID PRIMARY KEY,
//		handle TEXT NOT NULL,
//		label TEXT NOT NULL,
//		description TEXT NOT NULL DEFAULT '',
//		recipients TEXT[] NOT NULL DEFAULT '{}',
//		created_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool dbPool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const bookmarkColumns = `
	id,
	tweet_id,
	tweet_url,
	canonical_url,
	tweet_text,
	tweet_created_at,
	author_id,
	author_handle,
	author_bio,
	author_avatar_url,
	reply_to_id,
	reply_to_handle,
	reply_to_tweet_id,
	mirror_url,
	summary,
	screenshot_ref,
	status,
	failure_reason,
	failed_at,
	created_at`

// CreateBookmark inserts a record. The unique index on tweet_id makes the
// insert itself the duplicate check: a conflicting tweet id affects zero
// rows and surfaces as ErrDuplicateTweet.
func (s *Store) CreateBookmark(ctx context.Context, b bookmark.Bookmark) error {
	if b.ID == "" {
		return fmt.Errorf("bookmark id is required")
	}
	query := `
INSERT INTO bookmarked_tweets (` + bookmarkColumns + `
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (tweet_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		b.ID,
		b.Tweet.ExternalID,
		b.Tweet.URL,
		b.Tweet.CanonicalURL,
		b.Tweet.Text,
		b.Tweet.CreatedAt,
		b.Author.ExternalID,
		b.Author.Handle,
		b.Author.Bio,
		b.Author.AvatarURL,
		b.RepliedTo.ExternalID,
		b.RepliedTo.Handle,
		b.RepliedTo.TweetID,
		b.MirrorURL,
		b.Summary,
		b.ScreenshotRef,
		string(b.Status),
		b.FailureReason,
		b.FailedAt,
		b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookmark.ErrDuplicateTweet
	}
	return nil
}

// GetBookmark fetches a record by ID.
func (s *Store) GetBookmark(ctx context.Context, id string) (bookmark.Bookmark, error) {
	query := `SELECT ` + bookmarkColumns + ` FROM bookmarked_tweets WHERE id = $1`
	b, err := scanBookmark(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bookmark.Bookmark{}, bookmark.ErrNotFound
		}
		return bookmark.Bookmark{}, fmt.Errorf("select bookmark: %w", err)
	}
	return b, nil
}

// ListBookmarksByDay returns the handle's records created within the UTC day
// containing the given instant, oldest first.
func (s *Store) ListBookmarksByDay(ctx context.Context, handle string, day time.Time) ([]bookmark.Bookmark, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	query := `SELECT ` + bookmarkColumns + `
FROM bookmarked_tweets
WHERE author_handle = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, handle, start, end)
	if err != nil {
		return nil, fmt.Errorf("select bookmarks: %w", err)
	}
	defer rows.Close()

	var out []bookmark.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return out, nil
}

// PatchSummary fills the summary if it is still empty. Patching a record
// whose summary is already set is a no-op.
func (s *Store) PatchSummary(ctx context.Context, id, summary string) error {
	query := `UPDATE bookmarked_tweets SET summary = $2 WHERE id = $1 AND summary = ''`
	tag, err := s.pool.Exec(ctx, query, id, summary)
	if err != nil {
		return fmt.Errorf("patch summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkExists(ctx, id)
	}
	return nil
}

// PatchScreenshot fills the screenshot reference if it is still empty.
func (s *Store) PatchScreenshot(ctx context.Context, id, ref string) error {
	query := `UPDATE bookmarked_tweets SET screenshot_ref = $2 WHERE id = $1 AND screenshot_ref = ''`
	tag, err := s.pool.Exec(ctx, query, id, ref)
	if err != nil {
		return fmt.Errorf("patch screenshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkExists(ctx, id)
	}
	return nil
}

// SetStatus transitions the record's enrichment status. Failure fields are
// populated only for the failed status and cleared otherwise.
func (s *Store) SetStatus(ctx context.Context, id string, status bookmark.EnrichmentStatus, reason string, at time.Time) error {
	var failedAt *time.Time
	if status == bookmark.StatusFailed {
		ts := at.UTC()
		failedAt = &ts
	} else {
		reason = ""
	}
	query := `UPDATE bookmarked_tweets SET status = $2, failure_reason = $3, failed_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), reason, failedAt)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

// AddTag registers a handle for monitoring.
func (s *Store) AddTag(ctx context.Context, handle string) error {
	query := `INSERT INTO monitored_handles (handle) VALUES ($1) ON CONFLICT (handle) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, handle); err != nil {
		return fmt.Errorf("insert handle: %w", err)
	}
	return nil
}

// RemoveTag stops monitoring a handle.
func (s *Store) RemoveTag(ctx context.Context, handle string) error {
	query := `DELETE FROM monitored_handles WHERE handle = $1`
	if _, err := s.pool.Exec(ctx, query, handle); err != nil {
		return fmt.Errorf("delete handle: %w", err)
	}
	return nil
}

// IsMonitored reports whether the handle is registered. The comparison is
// case-sensitive, matching the exact handle the user registered with.
func (s *Store) IsMonitored(ctx context.Context, handle string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM monitored_handles WHERE handle = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, handle).Scan(&exists); err != nil {
		return false, fmt.Errorf("check handle: %w", err)
	}
	return exists, nil
}

// CreateGist stores a new gist.
func (s *Store) CreateGist(ctx context.Context, g bookmark.Gist) error {
	if g.ID == "" {
		return fmt.Errorf("gist id is required")
	}
	query := `
INSERT INTO gists (id, handle, label, description, recipients, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query, g.ID, g.Handle, g.Label, g.Description, g.Recipients, g.CreatedAt); err != nil {
		return fmt.Errorf("insert gist: %w", err)
	}
	return nil
}

// ListGistsByDay returns the handle's gists created within the UTC day
// containing the given instant, oldest first.
func (s *Store) ListGistsByDay(ctx context.Context, handle string, day time.Time) ([]bookmark.Gist, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	query := `
SELECT id, handle, label, description, recipients, created_at
FROM gists
WHERE handle = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, handle, start, end)
	if err != nil {
		return nil, fmt.Errorf("select gists: %w", err)
	}
	defer rows.Close()

	var out []bookmark.Gist
	for rows.Next() {
		var g bookmark.Gist
		if err := rows.Scan(&g.ID, &g.Handle, &g.Label, &g.Description, &g.Recipients, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gist: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gists: %w", err)
	}
	return out, nil
}

// DeleteGist removes a gist by ID.
func (s *Store) DeleteGist(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete gist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

func (s *Store) checkExists(ctx context.Context, id string) error {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bookmarked_tweets WHERE id = $1)`
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check bookmark: %w", err)
	}
	if !exists {
		return bookmark.ErrNotFound
	}
	return nil
}

func scanBookmark(row pgx.Row) (bookmark.Bookmark, error) {
	var b bookmark.Bookmark
	var status string
	err := row.Scan(
		&b.ID,
		&b.Tweet.ExternalID,
		&b.Tweet.URL,
		&b.Tweet.CanonicalURL,
		&b.Tweet.Text,
		&b.Tweet.CreatedAt,
		&b.Author.ExternalID,
		&b.Author.Handle,
		&b.Author.Bio,
		&b.Author.AvatarURL,
		&b.RepliedTo.ExternalID,
		&b.RepliedTo.Handle,
		&b.RepliedTo.TweetID,
		&b.MirrorURL,
		&b.Summary,
		&b.ScreenshotRef,
		&status,
		&b.FailureReason,
		&b.FailedAt,
		&b.CreatedAt,
	)
	if err != nil {
		return bookmark.Bookmark{}, err
	}
	b.Status = bookmark.EnrichmentStatus(status)
	return b, nil
}
