// Package sqlite stores consumer markers and failed events in a SQLite file.
//
// It suits single-process deployments: Open limits the pool to one
// connection, so a worker that runs statements inside the processing
// transaction must use sqltx.From with the context it was given, and a
// RequiresNew unit of work must not be started from inside another one.
package sqlite
