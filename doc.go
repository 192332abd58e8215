// Package atomfeed consumes events published on Atom feeds with at-least-once delivery.
//
// Typical flow:
//  1. Build a Fetcher from a Transport (see httptransport) and a Parser (see atom).
//  2. Pick a storage backend (mysql, postgres or sqlite) providing a MarkerStore,
//     a FailedEventStore and a TxManager.
//  3. Create a Consumer per (feed, consumer id) pair and call ProcessEvents on a
//     schedule, or let Run poll for you. Call ProcessFailedEvents to retry failures.
//
// For every entry the Consumer runs the EventWorker and advances the marker in one
// transaction. A crash between the business effect and the commit replays the entry,
// so workers must be idempotent.
//
// Failure model: when the worker fails, its transaction is rolled back, the event is
// written to the failed-event store and the marker moves past the entry anyway, so a
// poison entry never blocks the feed. Failed events are only retried through
// ProcessFailedEvents; an integrator that never runs retries never re-processes them.
package atomfeed
