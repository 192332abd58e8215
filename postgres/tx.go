package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/atomfeed"
)

// Executor is the statement surface shared by *pgxpool.Pool and pgx.Tx.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ Executor = (*pgxpool.Pool)(nil)
	_ Executor = (pgx.Tx)(nil)
)

type txKey struct {
	pool *pgxpool.Pool
}

// Tx returns the transaction on pool carried by ctx.
func Tx(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{pool: pool}).(pgx.Tx)

	return tx, ok && tx != nil
}

// From returns the transaction on pool carried by ctx, or pool itself.
func From(ctx context.Context, pool *pgxpool.Pool) Executor {
	if tx, ok := Tx(ctx, pool); ok {
		return tx
	}

	return pool
}

// WithTx returns a context carrying tx as the active transaction on pool.
func WithTx(ctx context.Context, pool *pgxpool.Pool, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{pool: pool}, tx)
}

// TxManager runs units of work in pgx transactions at READ COMMITTED.
type TxManager struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

var _ atomfeed.TxManager = (*TxManager)(nil)

// NewTxManager constructs a TxManager for pool.
func NewTxManager(pool *pgxpool.Pool) (*TxManager, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	return &TxManager{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}, nil
}

// RunInTransaction implements atomfeed.TxManager.
func (m *TxManager) RunInTransaction(ctx context.Context, propagation atomfeed.Propagation, work func(ctx context.Context) error) error {
	if propagation == atomfeed.PropagationRequired {
		if _, ok := Tx(ctx, m.pool); ok {
			return work(ctx)
		}
	}

	tx, err := m.pool.BeginTx(ctx, m.opts)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(rec)
		}
	}()

	if err := work(WithTx(ctx, m.pool, tx)); err != nil {
		rollbackErr := tx.Rollback(context.WithoutCancel(ctx))
		if rollbackErr == nil || errors.Is(rollbackErr, pgx.ErrTxClosed) {
			return err
		}

		return errors.Join(err, storageErr("rollback", rollbackErr))
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}

	return nil
}
