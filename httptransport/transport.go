// Package httptransport fetches feed documents over HTTP.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/velmie/atomfeed"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 32 << 20
	defaultAccept      = "application/atom+xml, application/xml;q=0.9, */*;q=0.1"
	defaultUserAgent   = "atomfeed-consumer"
)

// ErrBodyTooLarge is returned when a response exceeds the configured size limit.
var ErrBodyTooLarge = errors.New("atomfeed http: response body too large")

// StatusError reports a non-2xx response.
type StatusError struct {
	URI        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("atomfeed http: GET %s: %s", e.URI, e.Status)
}

// Option configures the Transport.
type Option func(*Transport)

// WithClient sets the HTTP client. The default client has a 30 second timeout.
func WithClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.header.Add(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.header.Set("User-Agent", ua)
	}
}

// WithMaxBodySize bounds the number of bytes read from a response.
func WithMaxBodySize(n int64) Option {
	return func(t *Transport) {
		t.maxBodySize = n
	}
}

// Transport implements atomfeed.Transport with HTTP GET requests.
type Transport struct {
	client      *http.Client
	header      http.Header
	maxBodySize int64
}

var _ atomfeed.Transport = (*Transport)(nil)

// New constructs a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		header: http.Header{
			"Accept":     []string{defaultAccept},
			"User-Agent": []string{defaultUserAgent},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: defaultTimeout}
	}
	if t.maxBodySize <= 0 {
		t.maxBodySize = defaultMaxBodySize
	}

	return t
}

// Fetch performs a GET request and returns the response body.
func (t *Transport) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("atomfeed http: build request: %w", err)
	}
	req.Header = t.header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, t.maxBodySize))

		return nil, &StatusError{URI: uri, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("atomfeed http: read body: %w", err)
	}
	if int64(len(body)) > t.maxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, t.maxBodySize, uri)
	}

	return body, nil
}
