package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/atomfeed"
)

const (
	feedURIColumn      = "feed_uri"
	eventIDColumn      = "event_id"
	eventTitleColumn   = "event_title"
	eventContentColumn = "event_content"
	errorMessageColumn = "error_message"
	failedAtColumn     = "failed_at"
	retriesColumn      = "retries"
	idColumn           = "id"

	consumerIDColumn   = "consumer_id"
	lastEntryIDColumn  = "last_entry_id"
	lastPageURIColumn  = "last_page_uri"
	lastPositionColumn = "last_position"
	updatedAtColumn    = "updated_at"
)

var failedColumns = []string{
	feedURIColumn,
	eventIDColumn,
	eventTitleColumn,
	eventContentColumn,
	errorMessageColumn,
	failedAtColumn,
	retriesColumn,
}

const (
	upsertFailedSuffix = "ON CONFLICT (feed_uri, event_id) DO UPDATE SET " +
		"event_title = EXCLUDED.event_title, event_content = EXCLUDED.event_content, " +
		"error_message = EXCLUDED.error_message, failed_at = EXCLUDED.failed_at, retries = EXCLUDED.retries"
	upsertMarkerSuffix = "ON CONFLICT (feed_uri, consumer_id) DO UPDATE SET " +
		"last_entry_id = EXCLUDED.last_entry_id, last_page_uri = EXCLUDED.last_page_uri, " +
		"last_position = EXCLUDED.last_position, updated_at = EXCLUDED.updated_at"
)

// Store implements PostgreSQL-backed marker and failed event persistence.
type Store struct {
	pool         *pgxpool.Pool
	cfg          Config
	builder      squirrel.StatementBuilderType
	failedTable  string
	markersTable string
	tx           *TxManager
}

// NewStore constructs a PostgreSQL store with validated configuration.
func NewStore(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	failed, err := sanitizeTableName(cfg.FailedEventsTable)
	if err != nil {
		return nil, err
	}
	markers, err := sanitizeTableName(cfg.MarkersTable)
	if err != nil {
		return nil, err
	}
	tx, err := NewTxManager(pool)
	if err != nil {
		return nil, err
	}

	return &Store{
		pool:         pool,
		cfg:          cfg,
		builder:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		failedTable:  failed,
		markersTable: markers,
		tx:           tx,
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := Schema(WithFailedEventsTable(s.failedTable), WithMarkersTable(s.markersTable))
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}

	return nil
}

// TxManager returns the transaction manager the stores join.
func (s *Store) TxManager() *TxManager {
	return s.tx
}

// FailedEvents returns the failed event store.
func (s *Store) FailedEvents() *FailedEventStore {
	return &FailedEventStore{store: s}
}

// Markers returns the marker store.
func (s *Store) Markers() *MarkerStore {
	return &MarkerStore{store: s}
}

// Storage bundles the stores and the transaction manager for atomfeed.NewConsumer.
func (s *Store) Storage() atomfeed.Storage {
	return atomfeed.Storage{
		Markers:      s.Markers(),
		FailedEvents: s.FailedEvents(),
		Tx:           s.tx,
	}
}

func (s *Store) upsertFailedQuery(failed atomfeed.FailedEvent, failedAt time.Time) (string, []any, error) {
	return s.builder.
		Insert(s.failedTable).
		Columns(failedColumns...).
		Values(
			failed.FeedURI,
			failed.Event.ID,
			failed.Event.Title,
			failed.Event.Content,
			atomfeed.TruncateErrorMessage(failed.ErrorMessage),
			failedAt.UTC(),
			failed.Retries,
		).
		Suffix(upsertFailedSuffix).
		ToSql()
}

func (s *Store) getFailedQuery(feedURI, eventID string) (string, []any, error) {
	return s.builder.
		Select(failedColumns...).
		From(s.failedTable).
		Where(squirrel.Eq{feedURIColumn: feedURI, eventIDColumn: eventID}).
		ToSql()
}

func (s *Store) oldestFailedQuery(feedURI string, n int) (string, []any, error) {
	return s.builder.
		Select(failedColumns...).
		From(s.failedTable).
		Where(squirrel.Eq{feedURIColumn: feedURI}).
		OrderBy(failedAtColumn+" ASC", idColumn+" ASC").
		Limit(uint64(n)).
		ToSql()
}

func (s *Store) countFailedQuery(feedURI string) (string, []any, error) {
	return s.builder.
		Select("COUNT(*)").
		From(s.failedTable).
		Where(squirrel.Eq{feedURIColumn: feedURI}).
		ToSql()
}

func (s *Store) removeFailedQuery(failed atomfeed.FailedEvent) (string, []any, error) {
	return s.builder.
		Delete(s.failedTable).
		Where(squirrel.Eq{feedURIColumn: failed.FeedURI, eventIDColumn: failed.Event.ID}).
		ToSql()
}

func (s *Store) getMarkerQuery(feedURI, consumerID string) (string, []any, error) {
	return s.builder.
		Select(lastEntryIDColumn, lastPageURIColumn, lastPositionColumn, updatedAtColumn).
		From(s.markersTable).
		Where(squirrel.Eq{feedURIColumn: feedURI, consumerIDColumn: consumerID}).
		ToSql()
}

func (s *Store) upsertMarkerQuery(feedURI, consumerID string, ref atomfeed.EntryRef, now time.Time) (string, []any, error) {
	return s.builder.
		Insert(s.markersTable).
		Columns(feedURIColumn, consumerIDColumn, lastEntryIDColumn, lastPageURIColumn, lastPositionColumn, updatedAtColumn).
		Values(feedURI, consumerID, ref.ID, ref.PageURI, ref.Position, now.UTC()).
		Suffix(upsertMarkerSuffix).
		ToSql()
}

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
		failedAt = f.store.cfg.Clock.Now()
	}

	sql, args, err := f.store.upsertFailedQuery(failed, failedAt)
	if err != nil {
		return storageErr("build upsert failed event", err)
	}
	if _, err := From(ctx, f.store.pool).Exec(ctx, sql, args...); err != nil {
		return storageErr("upsert failed event", err)
	}

	return nil
}

// Get returns the record, or nil when it does not exist.
func (f *FailedEventStore) Get(ctx context.Context, feedURI, eventID string) (*atomfeed.FailedEvent, error) {
	sql, args, err := f.store.getFailedQuery(feedURI, eventID)
	if err != nil {
		return nil, storageErr("build get failed event", err)
	}

	failed, err := scanFailed(From(ctx, f.store.pool).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
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

	sql, args, err := f.store.oldestFailedQuery(feedURI, n)
	if err != nil {
		return nil, storageErr("build select failed events", err)
	}
	rows, err := From(ctx, f.store.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("select failed events", err)
	}
	defer rows.Close()

	events := make([]atomfeed.FailedEvent, 0, n)
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
	sql, args, err := f.store.countFailedQuery(feedURI)
	if err != nil {
		return 0, storageErr("build count failed events", err)
	}

	var count int
	if err := From(ctx, f.store.pool).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, storageErr("count failed events", err)
	}

	return count, nil
}

// Remove deletes the record. A missing record is not an error.
func (f *FailedEventStore) Remove(ctx context.Context, failed atomfeed.FailedEvent) error {
	sql, args, err := f.store.removeFailedQuery(failed)
	if err != nil {
		return storageErr("build remove failed event", err)
	}
	if _, err := From(ctx, f.store.pool).Exec(ctx, sql, args...); err != nil {
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
	sql, args, err := m.store.getMarkerQuery(feedURI, consumerID)
	if err != nil {
		return nil, storageErr("build get marker", err)
	}

	marker := atomfeed.Marker{FeedURI: feedURI, ConsumerID: consumerID}
	err = From(ctx, m.store.pool).QueryRow(ctx, sql, args...).Scan(
		&marker.Last.ID,
		&marker.Last.PageURI,
		&marker.Last.Position,
		&marker.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get marker", err)
	}
	marker.UpdatedAt = marker.UpdatedAt.UTC()

	return &marker, nil
}

// Advance overwrites the marker within the transaction carried by ctx.
func (m *MarkerStore) Advance(ctx context.Context, feedURI, consumerID string, ref atomfeed.EntryRef) error {
	tx, ok := Tx(ctx, m.store.pool)
	if !ok {
		return atomfeed.ErrNoTransaction
	}

	sql, args, err := m.store.upsertMarkerQuery(feedURI, consumerID, ref, m.store.cfg.Clock.Now())
	if err != nil {
		return storageErr("build advance marker", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return storageErr("advance marker", err)
	}

	return nil
}

func scanFailed(row pgx.Row) (atomfeed.FailedEvent, error) {
	var failed atomfeed.FailedEvent
	err := row.Scan(
		&failed.FeedURI,
		&failed.Event.ID,
		&failed.Event.Title,
		&failed.Event.Content,
		&failed.ErrorMessage,
		&failed.FailedAt,
		&failed.Retries,
	)
	failed.FailedAt = failed.FailedAt.UTC()

	return failed, err
}
