package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/sqltx"
)

const failedColumns = "feed_uri, event_id, event_title, event_content, error_message, failed_at, retries"

const (
	upsertFailedQuery = "INSERT INTO failed_events (" + failedColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?) " +
		"ON CONFLICT (feed_uri, event_id) DO UPDATE SET event_title = excluded.event_title, " +
		"event_content = excluded.event_content, error_message = excluded.error_message, " +
		"failed_at = excluded.failed_at, retries = excluded.retries"
	getFailedQuery    = "SELECT " + failedColumns + " FROM failed_events WHERE feed_uri = ? AND event_id = ?"
	oldestFailedQuery = "SELECT " + failedColumns + " FROM failed_events WHERE feed_uri = ? ORDER BY failed_at ASC, id ASC LIMIT ?"
	countFailedQuery  = "SELECT COUNT(*) FROM failed_events WHERE feed_uri = ?"
	removeFailedQuery = "DELETE FROM failed_events WHERE feed_uri = ? AND event_id = ?"
	getMarkerQuery    = "SELECT last_entry_id, last_page_uri, last_position, updated_at FROM markers WHERE feed_uri = ? AND consumer_id = ?"
	upsertMarkerQuery = "INSERT INTO markers (feed_uri, consumer_id, last_entry_id, last_page_uri, last_position, updated_at) " +
		"VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (feed_uri, consumer_id) DO UPDATE SET " +
		"last_entry_id = excluded.last_entry_id, last_page_uri = excluded.last_page_uri, " +
		"last_position = excluded.last_position, updated_at = excluded.updated_at"
)

// FailedEventStore implements atomfeed.FailedEventStore.
// Operations join the transaction carried by the context, if any.
type FailedEventStore struct {
	store *Store
}

var _ atomfeed.FailedEventStore = (*FailedEventStore)(nil)

// AddOrUpdate upserts the record keyed by feed URI and event id.
func (f *FailedEventStore) AddOrUpdate(ctx context.Context, failed atomfeed.FailedEvent) error {
	failedAt := failed.FailedAt
	if failedAt.IsZero() {
		failedAt = f.store.clock.Now()
	}

	_, err := sqltx.From(ctx, f.store.db).ExecContext(
		ctx,
		upsertFailedQuery,
		failed.FeedURI,
		failed.Event.ID,
		failed.Event.Title,
		failed.Event.Content,
		atomfeed.TruncateErrorMessage(failed.ErrorMessage),
		failedAt.UnixMicro(),
		failed.Retries,
	)
	if err != nil {
		return storageErr("upsert failed event", err)
	}

	return nil
}

// Get returns the record, or nil when it does not exist.
func (f *FailedEventStore) Get(ctx context.Context, feedURI, eventID string) (*atomfeed.FailedEvent, error) {
	failed, err := scanFailed(sqltx.From(ctx, f.store.db).QueryRowContext(ctx, getFailedQuery, feedURI, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get failed event", err)
	}

	return &failed, nil
}

// Oldest returns up to n records ordered by failure time and insertion order.
func (f *FailedEventStore) Oldest(ctx context.Context, feedURI string, n int) ([]atomfeed.FailedEvent, error) {
	if n <= 0 {
		return nil, atomfeed.ErrInvalidLimit
	}

	rows, err := sqltx.From(ctx, f.store.db).QueryContext(ctx, oldestFailedQuery, feedURI, n)
	if err != nil {
		return nil, storageErr("select failed events", err)
	}
	defer rows.Close()

	var events []atomfeed.FailedEvent
	for rows.Next() {
		failed, err := scanFailed(rows)
		if err != nil {
			return nil, storageErr("scan failed event", err)
		}
		events = append(events, failed)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows failed", err)
	}

	return events, nil
}

// Count returns the number of records stored for the feed.
func (f *FailedEventStore) Count(ctx context.Context, feedURI string) (int, error) {
	var count int
	if err := sqltx.From(ctx, f.store.db).QueryRowContext(ctx, countFailedQuery, feedURI).Scan(&count); err != nil {
		return 0, storageErr("count failed events", err)
	}

	return count, nil
}

// Remove deletes the record. A missing record is not an error.
func (f *FailedEventStore) Remove(ctx context.Context, failed atomfeed.FailedEvent) error {
	if _, err := sqltx.From(ctx, f.store.db).ExecContext(ctx, removeFailedQuery, failed.FeedURI, failed.Event.ID); err != nil {
		return storageErr("remove failed event", err)
	}

	return nil
}

// MarkerStore implements atomfeed.MarkerStore.
type MarkerStore struct {
	store *Store
}

var _ atomfeed.MarkerStore = (*MarkerStore)(nil)

// Get returns the marker, or nil when the consumer has none for the feed.
func (m *MarkerStore) Get(ctx context.Context, feedURI, consumerID string) (*atomfeed.Marker, error) {
	marker := atomfeed.Marker{FeedURI: feedURI, ConsumerID: consumerID}
	var updatedAt int64
	err := sqltx.From(ctx, m.store.db).QueryRowContext(ctx, getMarkerQuery, feedURI, consumerID).Scan(
		&marker.Last.ID,
		&marker.Last.PageURI,
		&marker.Last.Position,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get marker", err)
	}
	marker.UpdatedAt = time.UnixMicro(updatedAt).UTC()

	return &marker, nil
}

// Advance overwrites the marker within the transaction carried by ctx.
func (m *MarkerStore) Advance(ctx context.Context, feedURI, consumerID string, ref atomfeed.EntryRef) error {
	tx, ok := sqltx.Tx(ctx, m.store.db)
	if !ok {
		return atomfeed.ErrNoTransaction
	}

	_, err := tx.ExecContext(
		ctx,
		upsertMarkerQuery,
		feedURI,
		consumerID,
		ref.ID,
		ref.PageURI,
		ref.Position,
		m.store.clock.Now().UnixMicro(),
	)
	if err != nil {
		return storageErr("advance marker", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFailed(row scanner) (atomfeed.FailedEvent, error) {
	var (
		failed   atomfeed.FailedEvent
		failedAt int64
	)
	err := row.Scan(
		&failed.FeedURI,
		&failed.Event.ID,
		&failed.Event.Title,
		&failed.Event.Content,
		&failed.ErrorMessage,
		&failedAt,
		&failed.Retries,
	)
	failed.FailedAt = time.UnixMicro(failedAt).UTC()

	return failed, err
}
