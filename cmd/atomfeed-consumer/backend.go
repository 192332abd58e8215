package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/mysql"
	"github.com/velmie/atomfeed/postgres"
	"github.com/velmie/atomfeed/sqlite"
)

const (
	driverMySQL    = "mysql"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// backend bundles the storage selected by ATOMFEED_DB_DRIVER.
type backend struct {
	storage atomfeed.Storage
	// locker is nil for SQLite, which is single-process.
	locker  atomfeed.Locker
	migrate func(ctx context.Context) error
	close   func()
}

func openBackend(ctx context.Context, cfg dbConfig, logger atomfeed.Logger) (*backend, error) {
	switch cfg.Driver {
	case driverMySQL:
		return openMySQL(cfg, logger)
	case driverPostgres:
		return openPostgres(ctx, cfg, logger)
	case driverSQLite:
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q: must be one of mysql, postgres, sqlite", cfg.Driver)
	}
}

func openMySQL(cfg dbConfig, logger atomfeed.Logger) (*backend, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	store, err := mysql.NewStore(db,
		mysql.WithFailedEventsTable(cfg.FailedEventsTable),
		mysql.WithMarkersTable(cfg.MarkersTable),
	)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("new store: %w", err)
	}
	locker, err := mysql.NewLocker(db, logger)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("new locker: %w", err)
	}

	return &backend{
		storage: store.Storage(),
		locker:  locker,
		migrate: store.Migrate,
		close:   func() { _ = db.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg dbConfig, logger atomfeed.Logger) (*backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	store, err := postgres.NewStore(pool,
		postgres.WithFailedEventsTable(cfg.FailedEventsTable),
		postgres.WithMarkersTable(cfg.MarkersTable),
	)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("new store: %w", err)
	}
	locker, err := postgres.NewLocker(pool, logger)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("new locker: %w", err)
	}

	return &backend{
		storage: store.Storage(),
		locker:  locker,
		migrate: store.Migrate,
		close:   pool.Close,
	}, nil
}

func openSQLite(cfg dbConfig) (*backend, error) {
	store, err := sqlite.Open(cfg.DSN)
	if err != nil {
		return nil, err
	}

	return &backend{
		storage: store.Storage(),
		migrate: store.Migrate,
		close:   func() { _ = store.Close() },
	}, nil
}

// consumerOptions translates the environment into Consumer options.
func consumerOptions(cfg consumerConfig, logger atomfeed.Logger, locker atomfeed.Locker) []atomfeed.ConsumerOption {
	opts := []atomfeed.ConsumerOption{
		atomfeed.WithBatchSize(cfg.BatchSize),
		atomfeed.WithRetryBatchSize(cfg.RetryBatchSize),
		atomfeed.WithPollInterval(cfg.PollInterval),
		atomfeed.WithRetryInterval(cfg.RetryInterval),
		atomfeed.WithWorkerTimeout(cfg.WorkerTimeout),
		atomfeed.WithLogger(logger),
	}
	if locker != nil {
		opts = append(opts, atomfeed.WithLocker(locker))
	}

	return opts
}
