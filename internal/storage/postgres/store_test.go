package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/emee-dev/pandamark/internal/bookmark"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func sampleBookmark(now time.Time) bookmark.Bookmark {
	return bookmark.Bookmark{
		ID: "uuid-v7",
		Tweet: bookmark.TweetMeta{
			ExternalID:   "T1",
			URL:          "https://twitter.com/alice/status/T1",
			CanonicalURL: "https://x.com/bob/status/R1",
			Text:         "@usepanda_ bookmark this",
			CreatedAt:    "Mon Aug 24 12:00:00 +0000 2026",
		},
		Author:    bookmark.Author{ExternalID: "U1", Handle: "alice", Bio: "bio", AvatarURL: "https://img"},
		RepliedTo: bookmark.ReplyTarget{ExternalID: "U2", Handle: "bob", TweetID: "R1"},
		MirrorURL: "https://xcancel.com/bob/status/R1",
		Status:    bookmark.StatusPending,
		CreatedAt: now,
	}
}

func TestCreateBookmarkInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	b := sampleBookmark(now)

	mock.ExpectExec("INSERT INTO bookmarked_tweets").
		WithArgs(
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
			"pending",
			b.FailureReason,
			b.FailedAt,
			b.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateBookmark(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookmarkDuplicateTweet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	b := sampleBookmark(time.Now().UTC())

	mock.ExpectExec("INSERT INTO bookmarked_tweets").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.CreateBookmark(context.Background(), b)
	require.ErrorIs(t, err, bookmark.ErrDuplicateTweet)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookmarkNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM bookmarked_tweets WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetBookmark(context.Background(), "missing")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchSummaryOnlyFillsEmptyField(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE bookmarked_tweets SET summary").
		WithArgs("bm-1", "a summary").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.PatchSummary(context.Background(), "bm-1", "a summary"))

	// second patch matches no row (summary no longer empty); record exists, so no error
	mock.ExpectExec("UPDATE bookmarked_tweets SET summary").
		WithArgs("bm-1", "revised").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("bm-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	require.NoError(t, store.PatchSummary(context.Background(), "bm-1", "revised"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchSummaryUnknownRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE bookmarked_tweets SET summary").
		WithArgs("ghost", "x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.PatchSummary(context.Background(), "ghost", "x")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusFailedPopulatesFailureFields(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE bookmarked_tweets SET status").
		WithArgs("bm-1", "failed", "scrape exhausted", &at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetStatus(context.Background(), "bm-1", bookmark.StatusFailed, "scrape exhausted", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusEnrichedClearsFailureFields(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE bookmarked_tweets SET status").
		WithArgs("bm-1", "enriched", "", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetStatus(context.Background(), "bm-1", bookmark.StatusEnriched, "stale reason", time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsMonitored(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.IsMonitored(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTagIsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO monitored_handles").
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO monitored_handles").
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.AddTag(context.Background(), "alice"))
	require.NoError(t, store.AddTag(context.Background(), "alice"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveTag(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM monitored_handles").
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.RemoveTag(context.Background(), "alice"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBookmarksByDayUsesDayBoundaries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	day := time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC)
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "tweet_id", "tweet_url", "canonical_url", "tweet_text", "tweet_created_at",
		"author_id", "author_handle", "author_bio", "author_avatar_url",
		"reply_to_id", "reply_to_handle", "reply_to_tweet_id",
		"mirror_url", "summary", "screenshot_ref", "status", "failure_reason", "failed_at", "created_at",
	}).AddRow(
		"bm-1", "T1", "https://twitter.com/a/status/T1", "https://x.com/b/status/R1", "text", "",
		"U1", "alice", "", "",
		"U2", "bob", "R1",
		"https://xcancel.com/b/status/R1", "sum", "gs://b/p.png", "enriched", "", (*time.Time)(nil), start.Add(time.Hour),
	)

	mock.ExpectQuery("SELECT (.+) FROM bookmarked_tweets").
		WithArgs("alice", start, end).
		WillReturnRows(rows)

	got, err := store.ListBookmarksByDay(context.Background(), "alice", day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bm-1", got[0].ID)
	require.Equal(t, bookmark.StatusEnriched, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGistLifecycle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	g := bookmark.Gist{
		ID: "g-1", Handle: "alice", Label: "reading",
		Description: "links to read", Recipients: []string{"bob"}, CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO gists").
		WithArgs(g.ID, g.Handle, g.Label, g.Description, g.Recipients, g.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateGist(context.Background(), g))

	mock.ExpectExec("DELETE FROM gists").
		WithArgs("g-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.DeleteGist(context.Background(), "g-1"))

	mock.ExpectExec("DELETE FROM gists").
		WithArgs("g-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, store.DeleteGist(context.Background(), "g-1"), bookmark.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
