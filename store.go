package atomfeed

import "context"

// Propagation selects how a unit of work relates to a transaction already in progress.
type Propagation int

const (
	// PropagationRequired joins the transaction carried by the context, or begins one.
	PropagationRequired Propagation = iota
	// PropagationRequiresNew always begins an independent transaction.
	PropagationRequiresNew
)

func (p Propagation) String() string {
	switch p {
	case PropagationRequired:
		return "required"
	case PropagationRequiresNew:
		return "requires_new"
	default:
		return "unknown"
	}
}

// TxManager runs units of work atomically.
//
// The active transaction travels in the context passed to work; stores and
// workers must use that context so their statements join it. Work returning
// an error, or panicking, rolls the transaction back.
type TxManager interface {
	// RunInTransaction executes work within a transaction chosen by propagation.
	RunInTransaction(ctx context.Context, propagation Propagation, work func(ctx context.Context) error) error
}

// MarkerStore persists the read position of each (feed, consumer) pair.
type MarkerStore interface {
	// Get returns the marker, or nil when the consumer has not read the feed yet.
	Get(ctx context.Context, feedURI, consumerID string) (*Marker, error)
	// Advance overwrites the marker. It must run inside a transaction.
	Advance(ctx context.Context, feedURI, consumerID string, ref EntryRef) error
}

// FailedEventStore persists events whose processing failed.
type FailedEventStore interface {
	// AddOrUpdate inserts the record or replaces the one with the same feed and event id.
	AddOrUpdate(ctx context.Context, failed FailedEvent) error
	// Get returns the record, or nil when none exists.
	Get(ctx context.Context, feedURI, eventID string) (*FailedEvent, error)
	// Oldest returns up to n records of the feed ordered by failure time, oldest first.
	Oldest(ctx context.Context, feedURI string, n int) ([]FailedEvent, error)
	// Count returns the number of records stored for the feed.
	Count(ctx context.Context, feedURI string) (int, error)
	// Remove deletes the record. Removing a missing record is not an error.
	Remove(ctx context.Context, failed FailedEvent) error
}

// Locker grants a consumer exclusive use of its marker across processes.
type Locker interface {
	// TryLock acquires the named lock without waiting. The returned release
	// function must be called once processing is done.
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}
