package atomfeed

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Link relations used to navigate archived feeds (RFC 5005).
const (
	RelSelf        = "self"
	RelVia         = "via"
	RelPrevArchive = "prev-archive"
	RelNextArchive = "next-archive"
)

// Transport retrieves raw feed documents.
type Transport interface {
	// Fetch returns the full document body stored at uri.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Parser turns a feed document into a Page.
type Parser interface {
	// Parse decodes body. Entry refs and page URI are filled in by the Fetcher.
	Parse(body []byte) (*Page, error)
}

// Link is a typed navigation link of a feed page.
type Link struct {
	Rel  string
	Href string
}

// Page is one parsed feed document.
type Page struct {
	// URI is the canonical location of the page.
	URI     string
	Links   []Link
	Entries []Entry
}

// Link returns the href of the first link with the relation rel.
func (p *Page) Link(rel string) (string, bool) {
	for _, link := range p.Links {
		if link.Rel == rel && link.Href != "" {
			return link.Href, true
		}
	}

	return "", false
}

// Fetcher retrieves and parses feed pages.
type Fetcher struct {
	transport Transport
	parser    Parser
	logger    Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherLogger sets the logger that receives raw response bodies at debug level.
func WithFetcherLogger(logger Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher constructs a Fetcher.
func NewFetcher(transport Transport, parser Parser, opts ...FetcherOption) *Fetcher {
	if transport == nil {
		panic("atomfeed: nil Transport")
	}
	if parser == nil {
		panic("atomfeed: nil Parser")
	}

	f := &Fetcher{transport: transport, parser: parser}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = NopLogger{}
	}

	return f
}

// Fetch retrieves the page at uri.
//
// Links are resolved against uri, the page URI is taken from its via or self
// link, and each entry carries a ref pointing at its position on the page.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (*Page, error) {
	raw, err := f.transport.Fetch(ctx, uri)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}

		return nil, &TransportError{URI: uri, Err: err}
	}
	f.logger.Debug("atomfeed fetched feed document", "uri", uri, "body", string(raw))

	page, err := f.parser.Parse([]byte(trimFeedNoise(string(raw))))
	if err != nil {
		return nil, &ParseError{URI: uri, Body: string(raw), Err: err}
	}
	if page == nil {
		return nil, &ParseError{URI: uri, Body: string(raw), Err: errors.New("parser returned no page")}
	}

	base, err := url.Parse(uri)
	if err != nil {
		return nil, &ParseError{URI: uri, Body: string(raw), Err: err}
	}
	for i := range page.Links {
		page.Links[i].Href = resolveHref(base, page.Links[i].Href)
	}

	page.URI = uri
	if via, ok := page.Link(RelVia); ok {
		page.URI = via
	} else if self, ok := page.Link(RelSelf); ok {
		page.URI = self
	}

	for i := range page.Entries {
		page.Entries[i].Ref = EntryRef{ID: page.Entries[i].ID, PageURI: page.URI, Position: i}
	}

	return page, nil
}

var leadingNoise = regexp.MustCompile(`^\W+<`)

// trimFeedNoise strips whitespace and a run of non-word characters in front
// of the first tag, which some upstream proxies prepend to documents.
func trimFeedNoise(body string) string {
	return leadingNoise.ReplaceAllLiteralString(strings.TrimSpace(body), "<")
}

func resolveHref(base *url.URL, href string) string {
	if href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}
