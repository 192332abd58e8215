package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/sqltx"
)

// Store implements MySQL-backed marker and failed event persistence.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	tx      *sqltx.Manager
}

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
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
	tx, err := sqltx.NewManager(db, sqltx.WithIsolation(sql.LevelReadCommitted))
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(failed, markers),
		tx:      tx,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := Schema(WithFailedEventsTable(s.cfg.FailedEventsTable), WithMarkersTable(s.cfg.MarkersTable))
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}

	return nil
}

// TxManager returns the transaction manager the stores join.
func (s *Store) TxManager() *sqltx.Manager {
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

	_, err := sqltx.From(ctx, f.store.db).ExecContext(
		ctx,
		f.store.queries.upsertFailed,
		failed.FeedURI,
		failed.Event.ID,
		failed.Event.Title,
		failed.Event.Content,
		atomfeed.TruncateErrorMessage(failed.ErrorMessage),
		dbTime(failedAt),
		failed.Retries,
	)
	if err != nil {
		return storageErr("upsert failed event", err)
	}

	return nil
}

// Get returns the record, or nil when it does not exist.
func (f *FailedEventStore) Get(ctx context.Context, feedURI, eventID string) (*atomfeed.FailedEvent, error) {
	row := sqltx.From(ctx, f.store.db).QueryRowContext(ctx, f.store.queries.getFailed, feedURI, eventID)
	failed, err := scanFailed(row)
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

	rows, err := sqltx.From(ctx, f.store.db).QueryContext(ctx, f.store.queries.oldestFailed, feedURI, n)
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
	var count int
	if err := sqltx.From(ctx, f.store.db).QueryRowContext(ctx, f.store.queries.countFailed, feedURI).Scan(&count); err != nil {
		return 0, storageErr("count failed events", err)
	}

	return count, nil
}

// Remove deletes the record. A missing record is not an error.
func (f *FailedEventStore) Remove(ctx context.Context, failed atomfeed.FailedEvent) error {
	if _, err := sqltx.From(ctx, f.store.db).ExecContext(ctx, f.store.queries.removeFailed, failed.FeedURI, failed.Event.ID); err != nil {
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
	err := sqltx.From(ctx, m.store.db).QueryRowContext(ctx, m.store.queries.getMarker, feedURI, consumerID).Scan(
		&marker.Last.ID,
		&marker.Last.PageURI,
		&marker.Last.Position,
		&marker.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get marker", err)
	}

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
		m.store.queries.upsertMarker,
		feedURI,
		consumerID,
		ref.ID,
		ref.PageURI,
		ref.Position,
		dbTime(m.store.cfg.Clock.Now()),
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

// dbTime matches the TIMESTAMP(6) column precision.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: mysql %s: %w", atomfeed.ErrStorage, op, err)
}
