package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/sqltx"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - failed_events and markers
const currentSchemaVersion = 1

// ErrDBRequired is returned when a nil *sql.DB is provided.
var ErrDBRequired = errors.New("atomfeed sqlite: db is required")

// Option configures the store.
type Option func(*Store)

// WithClock sets the time source used for default failure and marker timestamps.
func WithClock(clock atomfeed.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Store implements SQLite-backed marker and failed event persistence.
type Store struct {
	db    *sql.DB
	clock atomfeed.Clock
	tx    *sqltx.Manager
	owned bool
}

// Open creates or opens the database at path, applies pragmas and migrates it.
//
// The pool is limited to one connection:
//   - WAL mode for concurrent readers from other processes
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("atomfeed sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("atomfeed sqlite: connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	store, err := New(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	store.owned = true
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

// New wraps an already configured database handle. Call Migrate before use.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	tx, err := sqltx.NewManager(db)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = atomfeed.SystemClock{}
	}

	return s, nil
}

// Close closes the database if it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables and records the schema version. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("atomfeed sqlite: get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("atomfeed sqlite: apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("atomfeed sqlite: set user_version: %w", err)
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

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("atomfeed sqlite: execute %q: %w", pragma, err)
		}
	}

	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %w", atomfeed.ErrStorage, op, err)
}
