// Package mysql stores consumer markers and failed events in MySQL 8.0.19+.
//
// The store uses:
//   - READ COMMITTED isolation for the transactions it begins (to avoid gap locks)
//   - INSERT ... AS new ON DUPLICATE KEY UPDATE for upserts, keeping the surrogate id
//   - ORDER BY failed_at, id for oldest-first retrieval of failed events
//
// Open the database with parseTime=true so TIMESTAMP columns scan into time.Time.
//
// See Schema for the table definitions and Locker for a GET_LOCK based
// atomfeed.Locker that keeps a consumer single-writer across processes.
package mysql
