// Package atom parses Atom 1.0 documents into atomfeed pages.
package atom

import (
	"bytes"
	"fmt"
	"strings"

	gofeedatom "github.com/mmcdole/gofeed/atom"

	"github.com/velmie/atomfeed"
)

// Parser implements atomfeed.Parser on top of gofeed's Atom parser.
//
// Entry content is taken from <content>, or from <summary> when the entry has
// no content. The published time falls back to the updated time.
type Parser struct{}

var _ atomfeed.Parser = Parser{}

// NewParser returns an Atom parser.
func NewParser() Parser {
	return Parser{}
}

// Parse decodes body. Links keep their href as written; the fetcher resolves
// relative references.
func (Parser) Parse(body []byte) (*atomfeed.Page, error) {
	feed, err := (&gofeedatom.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("atom: %w", err)
	}

	page := &atomfeed.Page{
		Links:   make([]atomfeed.Link, 0, len(feed.Links)),
		Entries: make([]atomfeed.Entry, 0, len(feed.Entries)),
	}
	for _, link := range feed.Links {
		if link == nil || link.Href == "" {
			continue
		}
		page.Links = append(page.Links, atomfeed.Link{Rel: relation(link.Rel), Href: strings.TrimSpace(link.Href)})
	}

	for _, entry := range feed.Entries {
		if entry == nil {
			continue
		}
		if entry.ID == "" {
			return nil, fmt.Errorf("atom: entry %q has no id", entry.Title)
		}

		parsed := atomfeed.Entry{
			Event: atomfeed.Event{
				ID:      strings.TrimSpace(entry.ID),
				Title:   entry.Title,
				Content: entry.Summary,
			},
		}
		if entry.Content != nil && entry.Content.Value != "" {
			parsed.Content = entry.Content.Value
		}
		switch {
		case entry.PublishedParsed != nil:
			parsed.Published = entry.PublishedParsed.UTC()
		case entry.UpdatedParsed != nil:
			parsed.Published = entry.UpdatedParsed.UTC()
		}
		page.Entries = append(page.Entries, parsed)
	}

	return page, nil
}

// relation applies the Atom default for links without a rel attribute.
func relation(rel string) string {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "alternate"
	}

	return rel
}
