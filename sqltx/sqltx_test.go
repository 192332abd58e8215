package sqltx_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/sqltx"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tx.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("CREATE TABLE effects (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	return db
}

func countEffects(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM effects").Scan(&n))

	return n
}

func insert(ctx context.Context, db *sql.DB, id string) error {
	_, err := sqltx.From(ctx, db).ExecContext(ctx, "INSERT INTO effects (id) VALUES (?)", id)

	return err
}

func TestManagerCommits(t *testing.T) {
	db := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	err = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
		_, ok := sqltx.Tx(ctx, db)
		require.True(t, ok)

		return insert(ctx, db, "a")
	})
	require.NoError(t, err)
	require.Equal(t, 1, countEffects(t, db))
}

func TestManagerRollsBackOnError(t *testing.T) {
	db := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
		require.NoError(t, insert(ctx, db, "a"))

		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, atomfeed.ErrStorage)
	require.Equal(t, 0, countEffects(t, db))
}

func TestManagerRollsBackOnPanic(t *testing.T) {
	db := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	require.PanicsWithValue(t, "kaboom", func() {
		_ = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
			require.NoError(t, insert(ctx, db, "a"))
			panic("kaboom")
		})
	})
	require.Equal(t, 0, countEffects(t, db))
}

func TestManagerRequiredJoinsOuterTransaction(t *testing.T) {
	db := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	outerErr := errors.New("outer failed")
	err = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
		outer, _ := sqltx.Tx(ctx, db)
		innerErr := mgr.RunInTransaction(ctx, atomfeed.PropagationRequired, func(ctx context.Context) error {
			inner, _ := sqltx.Tx(ctx, db)
			require.Same(t, outer, inner)

			return insert(ctx, db, "joined")
		})
		require.NoError(t, innerErr)

		return outerErr
	})
	require.ErrorIs(t, err, outerErr)
	require.Equal(t, 0, countEffects(t, db), "joined work must roll back with the outer transaction")
}

func TestManagerRequiresNewIsIndependent(t *testing.T) {
	db := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	outerErr := errors.New("outer failed")
	err = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
		outer, _ := sqltx.Tx(ctx, db)
		innerErr := mgr.RunInTransaction(ctx, atomfeed.PropagationRequiresNew, func(ctx context.Context) error {
			inner, _ := sqltx.Tx(ctx, db)
			require.NotSame(t, outer, inner)

			return insert(ctx, db, "independent")
		})
		require.NoError(t, innerErr)

		return outerErr
	})
	require.ErrorIs(t, err, outerErr)
	require.Equal(t, 1, countEffects(t, db))
}

func TestFromWithoutTransactionUsesDB(t *testing.T) {
	db := openDB(t)

	require.Same(t, db, sqltx.From(context.Background(), db))
	_, ok := sqltx.Tx(context.Background(), db)
	require.False(t, ok)
}

func TestTransactionIsScopedToDB(t *testing.T) {
	db := openDB(t)
	other := openDB(t)
	mgr, err := sqltx.NewManager(db)
	require.NoError(t, err)

	err = mgr.RunInTransaction(context.Background(), atomfeed.PropagationRequired, func(ctx context.Context) error {
		_, ok := sqltx.Tx(ctx, other)
		require.False(t, ok)

		return nil
	})
	require.NoError(t, err)
}

func TestNewManagerRequiresDB(t *testing.T) {
	_, err := sqltx.NewManager(nil)
	require.ErrorIs(t, err, sqltx.ErrDBRequired)
}
