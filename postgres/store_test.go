package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"github.com/velmie/atomfeed"
)

func testStore() *Store {
	return &Store{
		cfg:          Config{}.withDefaults(),
		builder:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		failedTable:  "feeds.failed_events",
		markersTable: "feeds.markers",
	}
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(nil)
	require.ErrorIs(t, err, ErrPoolRequired)

	_, err = NewTxManager(nil)
	require.ErrorIs(t, err, ErrPoolRequired)
}

func TestSanitizeTableName(t *testing.T) {
	for _, name := range []string{"failed_events", "feeds.failed_events", "markers2"} {
		_, err := sanitizeTableName(name)
		require.NoError(t, err, name)
	}
	for _, name := range []string{"", "Markers", "1markers", "a.b.c", "markers;drop", "feeds."} {
		_, err := sanitizeTableName(name)
		require.Error(t, err, name)
	}
}

func TestUpsertFailedQuery(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 7200))
	failed := atomfeed.FailedEvent{
		FeedURI:      "/feed",
		Event:        atomfeed.Event{ID: "e1", Title: "t", Content: "c"},
		ErrorMessage: strings.Repeat("x", 4500),
		Retries:      2,
	}

	sql, args, err := testStore().upsertFailedQuery(failed, at)
	require.NoError(t, err)
	require.Equal(t,
		"INSERT INTO feeds.failed_events (feed_uri,event_id,event_title,event_content,error_message,failed_at,retries) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7) "+upsertFailedSuffix,
		sql,
	)
	require.Len(t, args, 7)
	require.Len(t, args[4], atomfeed.MaxErrorMessageLength)
	require.Equal(t, at.UTC(), args[5])
	require.Equal(t, 2, args[6])
}

func TestOldestFailedQuery(t *testing.T) {
	sql, args, err := testStore().oldestFailedQuery("/feed", 5)
	require.NoError(t, err)
	require.Equal(t,
		"SELECT feed_uri, event_id, event_title, event_content, error_message, failed_at, retries "+
			"FROM feeds.failed_events WHERE feed_uri = $1 ORDER BY failed_at ASC, id ASC LIMIT 5",
		sql,
	)
	require.Equal(t, []any{"/feed"}, args)
}

func TestRemoveFailedQuery(t *testing.T) {
	sql, args, err := testStore().removeFailedQuery(atomfeed.FailedEvent{FeedURI: "/feed", Event: atomfeed.Event{ID: "e1"}})
	require.NoError(t, err)
	require.Equal(t, "DELETE FROM feeds.failed_events WHERE event_id = $1 AND feed_uri = $2", sql)
	require.Equal(t, []any{"e1", "/feed"}, args)
}

func TestUpsertMarkerQuery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := atomfeed.EntryRef{ID: "e4", PageURI: "/feed/2", Position: 1}

	sql, args, err := testStore().upsertMarkerQuery("/feed", "billing", ref, now)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sql, "INSERT INTO feeds.markers (feed_uri,consumer_id,last_entry_id,last_page_uri,last_position,updated_at)"))
	require.True(t, strings.HasSuffix(sql, upsertMarkerSuffix))
	require.Equal(t, []any{"/feed", "billing", "e4", "/feed/2", 1, now}, args)
}

func TestOldestRejectsInvalidLimit(t *testing.T) {
	_, err := testStore().FailedEvents().Oldest(context.Background(), "/feed", 0)
	require.ErrorIs(t, err, atomfeed.ErrInvalidLimit)
}

func TestAdvanceRequiresTransaction(t *testing.T) {
	err := testStore().Markers().Advance(context.Background(), "/feed", "billing", atomfeed.EntryRef{ID: "e1"})
	require.ErrorIs(t, err, atomfeed.ErrNoTransaction)
}

func TestSchema(t *testing.T) {
	stmts, err := Schema(WithFailedEventsTable("feeds.failed_events"))
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS feeds.failed_events (")
	require.Contains(t, stmts[0], "CREATE INDEX IF NOT EXISTS failed_events_feed_failed_at_idx ON feeds.failed_events")
	require.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS markers (")

	_, err = Schema(WithMarkersTable("markers;"))
	require.True(t, errors.Is(err, ErrInvalidTableName))
}
