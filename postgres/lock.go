package postgres

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/atomfeed"
)

// Locker implements atomfeed.Locker with session-level advisory locks keyed
// by a hash of the lock name. Each held lock pins one pooled connection.
type Locker struct {
	pool   *pgxpool.Pool
	logger atomfeed.Logger
}

var _ atomfeed.Locker = (*Locker)(nil)

// NewLocker constructs a Locker. A nil logger discards release warnings.
func NewLocker(pool *pgxpool.Pool, logger atomfeed.Logger) (*Locker, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if logger == nil {
		logger = atomfeed.NopLogger{}
	}

	return &Locker{pool: pool, logger: logger}, nil
}

// TryLock acquires the named lock without waiting.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, storageErr("lock conn", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtextextended($1, 0))", name).Scan(&got); err != nil {
		conn.Release()

		return nil, false, storageErr("acquire lock", err)
	}
	if !got {
		conn.Release()

		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			defer conn.Release()

			var released bool
			if err := conn.QueryRow(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtextextended($1, 0))", name).Scan(&released); err != nil {
				l.logger.Warn("atomfeed postgres release lock failed", "lock", name, "err", err)
			}
		})
	}

	return release, true, nil
}
