package monorail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want Issue
		ok   bool
	}{
		{"detail", "https://bugs.chromium.org/p/chromium/issues/detail?id=1195924", Issue{"chromium", 1195924}, true},
		{"other project", "https://bugs.chromium.org/p/v8/issues/detail?id=42&q=x", Issue{"v8", 42}, true},
		{"short link", "https://crbug.com/12345", Issue{"chromium", 12345}, true},
		{"short link trailing text", "https://crbug.com/12345abc", Issue{}, false},
		{"short link empty", "https://crbug.com/", Issue{}, false},
		{"missing id", "https://bugs.chromium.org/p/chromium/issues/detail", Issue{}, false},
		{"bad id", "https://bugs.chromium.org/p/chromium/issues/detail?id=abc", Issue{}, false},
		{"list page", "https://bugs.chromium.org/p/chromium/issues/list?id=1", Issue{}, false},
		{"other host", "https://issues.chromium.org/issues/1", Issue{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Parse(tt.url)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

type stubPages struct {
	mu    sync.Mutex
	calls int
	pages []string
	err   error
}

func (s *stubPages) FetchPage(context.Context, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pages) == 0 {
		return []byte("<html>no token</html>"), nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return []byte(page), nil
}

const tokenPage = `<script>window.CS_env = {'token': 'abc_DEF-123', 'loggedInUserEmail': null};</script>`

func TestTokenRetriesThenFails(t *testing.T) {
	t.Parallel()

	pages := &stubPages{err: errors.New("connection reset")}
	src := newTokenSource(pages, "https://bugs.chromium.org/p/chromium", 3, time.Millisecond)
	_, err := src.Token(context.Background())
	require.ErrorIs(t, err, unfurl.ErrFatal)
	require.Equal(t, 3, pages.calls)
}

func TestTokenMissingIsRetried(t *testing.T) {
	t.Parallel()

	pages := &stubPages{pages: []string{"<html></html>", tokenPage}}
	src := newTokenSource(pages, "https://bugs.chromium.org/p/chromium", 3, time.Millisecond)
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc_DEF-123", token)
	require.Equal(t, 2, pages.calls)
}

func TestTokenDefaults(t *testing.T) {
	t.Parallel()

	src := newTokenSource(&stubPages{}, "u", 0, 0)
	require.Equal(t, 3, src.attempts)
	require.Equal(t, 250*time.Millisecond, src.backoff)
}

const issueFixture = `)]}'
{"issue":{"statusRef":{"status":"Assigned","meansOpen":true},
"reporterRef":{"userId":"1234","displayName":"dev@chromium.org"},
"projectName":"chromium","localId":1195924,"summary":"Crash in <b>Foo</b>",
"openedTimestamp":1617000000,
"componentRefs":[{"path":"Blink>Layout"}],
"labelRefs":[{"label":"Pri-1"},{"label":"Type-Bug"}]}}`

const commentsFixture = `)]}'
{"comments":[{"content":"Steps: open foo.mm & crash"},{"content":"ack"}]}`

func newTracker(t *testing.T, issue, comments string) (*httptest.Server, *[]http.Header) {
	t.Helper()
	var (
		mu      sync.Mutex
		headers []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req issueRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "chromium", req.IssueRef.ProjectName)

		mu.Lock()
		headers = append(headers, r.Header.Clone())
		mu.Unlock()

		switch r.URL.Path {
		case "/prpc/monorail.Issues/GetIssue":
			_, _ = w.Write([]byte(issue))
		case "/prpc/monorail.Issues/ListComments":
			if comments == "" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(comments))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &headers
}

func TestAdapterBuildsCard(t *testing.T) {
	t.Parallel()

	srv, headers := newTracker(t, issueFixture, commentsFixture)
	a := NewAdapter(upstream.New(upstream.Config{}, nil), &stubPages{pages: []string{tokenPage}},
		Config{BaseURL: srv.URL, TokenBackoff: time.Millisecond})

	res, err := a.TryUnfurl(context.Background(), "https://crbug.com/1195924")
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Len(t, *headers, 2)
	for _, h := range *headers {
		require.Equal(t, "abc_DEF-123", h.Get("X-Xsrf-Token"))
		require.Equal(t, "application/json", h.Get("Accept"))
	}

	card := res.Card
	require.Equal(t, "#36B37E", card.Color)
	require.Equal(t, "#1195924 Crash in *Foo*", card.Title)
	require.Equal(t, "[chromium] #1195924 Crash in *Foo*", card.Fallback)
	require.Equal(t, "https://bugs.chromium.org/u/1234/", card.AuthorLink)
	require.Equal(t, "Steps: open foo&period;mm &amp; crash", card.Text)
	require.Equal(t, "<https://bugs.chromium.org/p/chromium|crbug/chromium>", card.Footer)
	require.Equal(t, int64(1617000000000), card.Timestamp)
	require.Equal(t, []unfurl.Field{
		{
			Title: "Components",
			Value: "• <https://bugs.chromium.org/p/chromium/issues/list?q=component%3ABlink%3ELayout|`Blink→Layout`>",
			Short: true,
		},
		{
			Title: "Labels",
			Value: "• <https://bugs.chromium.org/p/chromium/issues/list?q=label%3APri-1|`Pri-1`>\n" +
				"• <https://bugs.chromium.org/p/chromium/issues/list?q=label%3AType-Bug|`Type-Bug`>",
			Short: true,
		},
		{Title: "Comments", Value: "2", Short: true},
	}, card.Fields)
}

func TestAdapterClosedIssueWithoutRefs(t *testing.T) {
	t.Parallel()

	issue := `)]}'{"issue":{"statusRef":{"meansOpen":false},"projectName":"chromium","localId":7,"summary":"s"}}`
	srv, _ := newTracker(t, issue, `)]}'{}`)
	a := NewAdapter(upstream.New(upstream.Config{}, nil), &stubPages{pages: []string{tokenPage}},
		Config{BaseURL: srv.URL})

	res, err := a.TryUnfurl(context.Background(), "https://crbug.com/7")
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, "#FF5630", res.Card.Color)
	require.Equal(t, []unfurl.Field{{Title: "Comments", Value: "0", Short: true}}, res.Card.Fields)
}

func TestAdapterCommentsFailureIsNotApplicable(t *testing.T) {
	t.Parallel()

	srv, _ := newTracker(t, issueFixture, "")
	a := NewAdapter(upstream.New(upstream.Config{}, nil), &stubPages{pages: []string{tokenPage}},
		Config{BaseURL: srv.URL})

	res, err := a.TryUnfurl(context.Background(), "https://crbug.com/1195924")
	require.NoError(t, err)
	require.False(t, res.Matched)
}

func TestAdapterTokenExhaustionIsFatal(t *testing.T) {
	t.Parallel()

	pages := &stubPages{}
	a := NewAdapter(upstream.New(upstream.Config{}, nil), pages,
		Config{BaseURL: "http://127.0.0.1:1", TokenAttempts: 3, TokenBackoff: time.Millisecond})

	res, err := a.TryUnfurl(context.Background(), "https://crbug.com/1")
	require.ErrorIs(t, err, unfurl.ErrFatal)
	require.False(t, res.Matched)
	require.Equal(t, 3, pages.calls)
}

type recordingCapture struct {
	mu   sync.Mutex
	body []string
}

func (r *recordingCapture) Record(_ context.Context, _ string, body []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = append(r.body, string(body))
	return "memory://capture", nil
}

func (r *recordingCapture) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.body...)
}

func TestAdapterIssueWithoutIdentityIsNotApplicable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		issue string
	}{
		{"empty object", `)]}'{}`},
		{"missing local id", `)]}'{"issue":{"projectName":"chromium","summary":"s"}}`},
		{"missing project", `)]}'{"issue":{"localId":7,"summary":"s"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTracker(t, tt.issue, commentsFixture)
			rec := &recordingCapture{}
			a := NewAdapter(upstream.New(upstream.Config{}, nil), &stubPages{pages: []string{tokenPage}},
				Config{BaseURL: srv.URL}, unfurl.WithRecorder(rec))

			res, err := a.TryUnfurl(context.Background(), "https://crbug.com/7")
			require.NoError(t, err)
			require.False(t, res.Matched)
			require.Equal(t, []string{tt.issue}, rec.bodies())
		})
	}
}
