// Package postgres stores consumer markers and failed events in PostgreSQL
// through a pgx connection pool.
//
// TxManager carries the active pgx.Tx in the context; the stores, and any
// worker that writes to the same database, reach it through From.
// Locker maps lock names onto session-level advisory locks.
package postgres
