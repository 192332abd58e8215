package atomfeed

import (
	"context"
	"fmt"
)

// PageFetcher loads a single feed page.
type PageFetcher interface {
	// Fetch retrieves and parses the page at uri.
	Fetch(ctx context.Context, uri string) (*Page, error)
}

var _ PageFetcher = (*Fetcher)(nil)

// Traversal walks the entries of a feed from oldest to newest, starting after
// the entry recorded by a marker.
//
// Pages are entered through next-archive links. Without a marker, the walk
// starts at the oldest archive reachable over prev-archive links from the
// feed URI. A Traversal is not safe for concurrent use.
type Traversal struct {
	fetcher PageFetcher
	feedURI string
	marker  *Marker

	started   bool
	exhausted bool
	page      *Page
	pos       int
	skip      map[string]struct{}
	visited   map[string]struct{}
}

// NewTraversal creates a traversal of feedURI resuming after marker, which may be nil.
func NewTraversal(fetcher PageFetcher, feedURI string, marker *Marker) *Traversal {
	if fetcher == nil {
		panic("atomfeed: nil PageFetcher")
	}

	var m *Marker
	if marker != nil && !marker.Last.IsZero() {
		copied := *marker
		m = &copied
	}

	return &Traversal{
		fetcher: fetcher,
		feedURI: feedURI,
		marker:  m,
		visited: make(map[string]struct{}),
	}
}

// Next returns the next unread entry. It returns ok=false once the newest
// page has been consumed; later calls keep reporting exhaustion.
func (t *Traversal) Next(ctx context.Context) (Entry, bool, error) {
	if t.exhausted {
		return Entry{}, false, nil
	}
	if !t.started {
		if err := t.start(ctx); err != nil {
			return Entry{}, false, err
		}
		t.started = true
	}

	for {
		for t.pos < len(t.page.Entries) {
			entry := t.page.Entries[t.pos]
			t.pos++
			if _, dup := t.skip[entry.ID]; dup {
				continue
			}
			t.skip = nil

			return entry, true, nil
		}

		next, ok := t.page.Link(RelNextArchive)
		if !ok {
			t.exhausted = true

			return Entry{}, false, nil
		}
		if err := t.enter(ctx, next); err != nil {
			return Entry{}, false, err
		}
	}
}

func (t *Traversal) start(ctx context.Context) error {
	if t.marker != nil {
		return t.resume(ctx)
	}

	backward := make(map[string]struct{})
	page, err := t.load(ctx, t.feedURI, backward)
	if err != nil {
		return err
	}
	for {
		prev, ok := page.Link(RelPrevArchive)
		if !ok {
			break
		}
		if page, err = t.load(ctx, prev, backward); err != nil {
			return err
		}
	}
	t.page = page
	t.pos = 0
	t.visited[page.URI] = struct{}{}

	return nil
}

// resume positions the walk right after the marker entry. When the marker's
// page no longer lists the entry, as happens once a working document is
// rotated into an archive, prev-archive links are followed until it is found.
func (t *Traversal) resume(ctx context.Context) error {
	last := t.marker.Last
	backward := make(map[string]struct{})
	uri := last.PageURI
	for {
		page, err := t.load(ctx, uri, backward)
		if err != nil {
			return err
		}
		if pos, ok := resumePosition(page, last); ok {
			t.page = page
			t.pos = pos
			t.visited[uri] = struct{}{}
			if page.URI != "" {
				t.visited[page.URI] = struct{}{}
			}

			return nil
		}

		prev, ok := page.Link(RelPrevArchive)
		if !ok {
			return fmt.Errorf("%w: %s from %s", ErrMarkerNotFound, last.ID, last.PageURI)
		}
		uri = prev
	}
}

// enter moves to the page at uri, skipping entries the previous page already listed.
func (t *Traversal) enter(ctx context.Context, uri string) error {
	page, err := t.load(ctx, uri, t.visited)
	if err != nil {
		return err
	}

	t.skip = make(map[string]struct{}, len(t.page.Entries))
	for _, entry := range t.page.Entries {
		t.skip[entry.ID] = struct{}{}
	}
	t.page = page
	t.pos = 0

	return nil
}

func (t *Traversal) load(ctx context.Context, uri string, visited map[string]struct{}) (*Page, error) {
	if _, seen := visited[uri]; seen {
		return nil, fmt.Errorf("%w: %s", ErrPageCycle, uri)
	}
	visited[uri] = struct{}{}

	page, err := t.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	if page.URI != "" && page.URI != uri {
		if _, seen := visited[page.URI]; seen {
			return nil, fmt.Errorf("%w: %s", ErrPageCycle, page.URI)
		}
		visited[page.URI] = struct{}{}
	}

	return page, nil
}

// resumePosition finds where reading continues on page. The recorded
// position wins when the id still matches; otherwise the entry is looked up by id.
func resumePosition(page *Page, last EntryRef) (int, bool) {
	if last.Position >= 0 && last.Position < len(page.Entries) && page.Entries[last.Position].ID == last.ID {
		return last.Position + 1, true
	}
	for i, entry := range page.Entries {
		if entry.ID == last.ID {
			return i + 1, true
		}
	}

	return 0, false
}
