package atomfeed

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates that a feed document could not be fetched.
	ErrTransport = errors.New("atomfeed transport failed")
	// ErrParse indicates that a fetched feed document could not be parsed.
	ErrParse = errors.New("atomfeed feed document is malformed")
	// ErrStorage indicates that a marker or failed-event persistence operation failed.
	ErrStorage = errors.New("atomfeed storage failed")
	// ErrNoTransaction is returned when a store operation requires an active transaction.
	ErrNoTransaction = errors.New("atomfeed operation requires an active transaction")
	// ErrInvalidLimit indicates that a requested result limit is not positive.
	ErrInvalidLimit = errors.New("atomfeed limit must be positive")
	// ErrPageCycle is returned when archive links lead back to an already visited page.
	ErrPageCycle = errors.New("atomfeed archive links form a cycle")
	// ErrMarkerNotFound is returned when the marker entry is on neither its page nor any earlier archive.
	ErrMarkerNotFound = errors.New("atomfeed marker entry not found in feed")
	// ErrWorkerPanic indicates that an event worker panicked.
	ErrWorkerPanic = errors.New("atomfeed worker panic")
)

// TransportError wraps a failure to retrieve a feed document.
type TransportError struct {
	URI string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("atomfeed: fetch %s: %v", e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport as a match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseError wraps a failure to parse a feed document.
// Body holds the raw document as received, before any trimming.
type ParseError struct {
	URI  string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("atomfeed: parse %s: %v", e.URI, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports ErrParse as a match.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ProcessingError describes a worker failure for a single event.
type ProcessingError struct {
	FeedURI string
	EventID string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("atomfeed: process event %s from %s: %v", e.EventID, e.FeedURI, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
