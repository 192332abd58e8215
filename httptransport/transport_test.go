package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	var (
		got    http.Header
		method string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		method = r.Method
		_, _ = w.Write([]byte("<feed/>"))
	}))
	defer srv.Close()

	transport := New(WithHeader("Authorization", "Bearer token"), WithUserAgent("billing/1.0"))
	body, err := transport.Fetch(context.Background(), srv.URL+"/feed/recent")
	require.NoError(t, err)
	require.Equal(t, "<feed/>", string(body))

	require.Equal(t, http.MethodGet, method)
	require.Equal(t, "Bearer token", got.Get("Authorization"))
	require.Equal(t, "billing/1.0", got.Get("User-Agent"))
	require.Contains(t, got.Get("Accept"), "application/atom+xml")
}

func TestFetchReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, http.StatusNotFound, serr.StatusCode)
}

func TestFetchBoundsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := New(WithMaxBodySize(16)).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrBodyTooLarge)

	body, err := New(WithMaxBodySize(64)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, body, 64)
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<feed/>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(WithClient(srv.Client())).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}
