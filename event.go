package atomfeed

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxErrorMessageLength is the number of characters kept from a failure message.
const MaxErrorMessageLength = 4000

// Event is an immutable unit of work published on a feed.
type Event struct {
	// ID is unique within a feed.
	ID string
	// Title is a short label, typically the event type.
	Title string
	// Content is the opaque payload.
	Content string
}

// EntryRef locates an entry within a feed page.
type EntryRef struct {
	// ID is the entry (event) id.
	ID string
	// PageURI is the canonical URI of the page listing the entry.
	PageURI string
	// Position is the 0-based index of the entry in the page's listed order.
	Position int
}

// IsZero reports whether the reference is empty.
func (r EntryRef) IsZero() bool {
	return r.ID == "" && r.PageURI == ""
}

// Entry is a parsed feed entry.
type Entry struct {
	Event
	Published time.Time
	Ref       EntryRef
}

// Marker records the last entry a consumer processed on a feed.
type Marker struct {
	FeedURI    string
	ConsumerID string
	Last       EntryRef
	UpdatedAt  time.Time
}

// FailedEvent is a deferred event whose processing failed.
type FailedEvent struct {
	FeedURI      string
	Event        Event
	ErrorMessage string
	// FailedAt defaults to the store clock when zero.
	FailedAt time.Time
	// Retries counts failed attempts made through the retry path.
	Retries int
}

// EventID returns the id of the failed event.
func (f FailedEvent) EventID() string {
	return f.Event.ID
}

// TruncateErrorMessage cuts msg down to MaxErrorMessageLength characters.
// Invalid UTF-8 sequences are replaced with U+FFFD first.
func TruncateErrorMessage(msg string) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if utf8.RuneCountInString(msg) <= MaxErrorMessageLength {
		return msg
	}

	return string([]rune(msg)[:MaxErrorMessageLength])
}
