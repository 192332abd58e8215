package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velmie/atomfeed"
)

// ErrDBRequired is returned when a nil *sql.DB is provided.
var ErrDBRequired = errors.New("atomfeed sqltx: db is required")

// Executor is the statement surface shared by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Executor = (*sql.DB)(nil)
	_ Executor = (*sql.Tx)(nil)
)

// txKey scopes the context value to one database handle.
type txKey struct {
	db *sql.DB
}

// Tx returns the transaction on db carried by ctx.
func Tx(ctx context.Context, db *sql.DB) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{db: db}).(*sql.Tx)

	return tx, ok && tx != nil
}

// From returns the transaction on db carried by ctx, or db itself.
func From(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := Tx(ctx, db); ok {
		return tx
	}

	return db
}

// WithTx returns a context carrying tx as the active transaction on db.
func WithTx(ctx context.Context, db *sql.DB, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{db: db}, tx)
}

// Option configures a Manager.
type Option func(*sql.TxOptions)

// WithIsolation sets the isolation level of transactions begun by the Manager.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(o *sql.TxOptions) {
		o.Isolation = level
	}
}

// Manager runs units of work in database/sql transactions.
type Manager struct {
	db   *sql.DB
	opts sql.TxOptions
}

var _ atomfeed.TxManager = (*Manager)(nil)

// NewManager constructs a Manager for db.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	m := &Manager{db: db}
	for _, opt := range opts {
		opt(&m.opts)
	}

	return m, nil
}

// DB returns the database handle transactions are opened on.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// RunInTransaction implements atomfeed.TxManager.
//
// With PropagationRequired and a transaction already in ctx, work runs in that
// transaction and its outcome is left to the owner of the transaction.
func (m *Manager) RunInTransaction(ctx context.Context, propagation atomfeed.Propagation, work func(ctx context.Context) error) error {
	if propagation == atomfeed.PropagationRequired {
		if _, ok := Tx(ctx, m.db); ok {
			return work(ctx)
		}
	}

	tx, err := m.db.BeginTx(ctx, &m.opts)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", atomfeed.ErrStorage, err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()

	if err := work(WithTx(ctx, m.db, tx)); err != nil {
		return rollbackWith(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", atomfeed.ErrStorage, err)
	}

	return nil
}

func rollbackWith(tx *sql.Tx, err error) error {
	rollbackErr := tx.Rollback()
	if rollbackErr == nil || errors.Is(rollbackErr, sql.ErrTxDone) {
		return err
	}

	return errors.Join(err, fmt.Errorf("%w: rollback: %w", atomfeed.ErrStorage, rollbackErr))
}
