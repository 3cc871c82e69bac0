package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls++
	return l.err
}

func TestClientGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "crlink-test", r.Header.Get("User-Agent"))
		require.Equal(t, "yes", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	c := New(Config{UserAgent: "crlink-test"}, limiter)
	body, err := c.Get(context.Background(), "page", srv.URL, http.Header{"X-Trace": {"yes"}})
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.Equal(t, 1, limiter.calls)
}

func TestClientNon2xxIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	_, err := c.Get(context.Background(), "detail", srv.URL, nil)
	require.ErrorIs(t, err, unfurl.ErrUpstreamUnavailable)
	require.Contains(t, err.Error(), "status 403")
}

func TestClientTransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(Config{}, nil)
	_, err := c.Get(context.Background(), "detail", addr, nil)
	require.ErrorIs(t, err, unfurl.ErrUpstreamUnavailable)
}

func TestClientLimiterErrorShortCircuits(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: errors.New("canceled")}
	c := New(Config{}, limiter)
	_, err := c.Get(context.Background(), "detail", "http://127.0.0.1:1/never", nil)
	require.ErrorIs(t, err, unfurl.ErrUpstreamUnavailable)
}

func TestClientPostJSONSetsContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `["id:7",250,"modified_time:desc"]`, string(data))
		_, _ = w.Write([]byte(")]}'\n[]"))
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	body, err := c.PostJSON(context.Background(), "list", srv.URL, nil, []any{"id:7", 250, "modified_time:desc"})
	require.NoError(t, err)

	var out []any
	require.NoError(t, DecodeXSSI("list", body, &out))
	require.Empty(t, out)
}
