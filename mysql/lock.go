package mysql

import (
	"context"
	"database/sql"
	"sync"

	"github.com/velmie/atomfeed"
)

// Locker implements atomfeed.Locker with MySQL named locks.
// Each held lock pins one pooled connection until released.
type Locker struct {
	db     *sql.DB
	logger atomfeed.Logger
}

var _ atomfeed.Locker = (*Locker)(nil)

// NewLocker constructs a Locker. A nil logger discards release warnings.
func NewLocker(db *sql.DB, logger atomfeed.Logger) (*Locker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if logger == nil {
		logger = atomfeed.NopLogger{}
	}

	return &Locker{db: db, logger: logger}, nil
}

// TryLock acquires the named lock without waiting.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, storageErr("lock conn", err)
	}

	key := lockKey(name)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&got); err != nil {
		_ = conn.Close()

		return nil, false, storageErr("acquire lock", err)
	}
	if !got.Valid || got.Int64 == 0 {
		_ = conn.Close()

		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			defer conn.Close()

			var released sql.NullInt64
			if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", key).Scan(&released); err != nil {
				l.logger.Warn("atomfeed mysql release lock failed", "lock", name, "err", err)
			}
		})
	}

	return release, true, nil
}
