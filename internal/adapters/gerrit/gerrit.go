// Package gerrit unfurls Chromium code review (Gerrit) change links.
package gerrit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crlink-unfurler/internal/escape"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const (
	// Name identifies the adapter in logs and metrics.
	Name = "gerrit"
	// Host is the only host this adapter recognizes.
	Host = "chromium-review.googlesource.com"
	// DefaultBaseURL is the public Gerrit instance.
	DefaultBaseURL = "https://" + Host

	detailOptions = "916314"
	authorLayout  = "2006-01-02 15:04:05.000000000"
	cardColor     = "#4D394B"
	noAvatar      = ":void"
)

var changePath = regexp.MustCompile(`^/c/([a-z0-9]+)/([a-z0-9]+)/\+/([0-9]+)`)

// Doer issues upstream GET requests.
type Doer interface {
	Get(ctx context.Context, source, rawURL string, header http.Header) ([]byte, error)
}

// Change identifies one change list.
type Change struct {
	Repo    string
	Subrepo string
	Number  int
}

// Project returns "<repo>/<subrepo>".
func (c Change) Project() string {
	return c.Repo + "/" + c.Subrepo
}

// Parse recognizes https://chromium-review.googlesource.com/c/<repo>/<subrepo>/+/<cl>.
func Parse(rawURL string) (Change, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != Host {
		return Change{}, false
	}
	m := changePath.FindStringSubmatch(u.Path)
	if m == nil {
		return Change{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return Change{}, false
	}
	return Change{Repo: m[1], Subrepo: m[2], Number: n}, true
}

type changeDetail struct {
	Project         string              `json:"project"`
	Subject         string              `json:"subject"`
	Owner           account             `json:"owner"`
	CurrentRevision string              `json:"current_revision"`
	Revisions       map[string]revision `json:"revisions"`
}

type account struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Avatars []struct {
		URL string `json:"url"`
	} `json:"avatars"`
}

type revision struct {
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

type fetcher struct {
	client  Doer
	baseURL string
}

// NewAdapter builds the code review adapter. An empty baseURL selects DefaultBaseURL.
func NewAdapter(client Doer, baseURL string, opts ...unfurl.Option) unfurl.Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	f := &fetcher{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
	return unfurl.New(Name, Parse, f.fetch, opts...)
}

func (f *fetcher) fetch(ctx context.Context, rawURL string, change Change) (unfurl.Card, error) {
	detailURL := fmt.Sprintf("%s/changes/%s%%2F%s~%d/detail?O=%s",
		f.baseURL, change.Repo, change.Subrepo, change.Number, detailOptions)
	body, err := f.client.Get(ctx, "detail", detailURL, nil)
	if err != nil {
		return unfurl.Card{}, err
	}

	var detail changeDetail
	if err := upstream.DecodeXSSI("detail", body, &detail); err != nil {
		return unfurl.Card{}, err
	}
	rev, ok := detail.Revisions[detail.CurrentRevision]
	if !ok {
		return unfurl.Card{}, unfurl.Malformed("detail", body, fmt.Errorf("current revision %q missing", detail.CurrentRevision))
	}
	authored, err := time.Parse(authorLayout, rev.Commit.Author.Date)
	if err != nil {
		return unfurl.Card{}, unfurl.Malformed("detail", body, fmt.Errorf("author date: %w", err))
	}

	project := change.Project()
	return unfurl.Card{
		Color:      cardColor,
		AuthorName: escape.Slack(detail.Owner.Name),
		AuthorIcon: avatar(detail.Owner),
		AuthorLink: DefaultBaseURL + "/q/author:" + url.QueryEscape(detail.Owner.Email),
		Fallback:   escape.Slack(fmt.Sprintf("[%s] #%d %s", project, change.Number, detail.Subject)),
		Title:      escape.Slack(fmt.Sprintf("#%d %s", change.Number, detail.Subject)),
		TitleLink:  rawURL,
		FooterIcon: DefaultBaseURL + "/favicon.ico",
		Text:       escape.Slack(withoutSubject(rev.Commit.Message, detail.Subject)),
		Footer:     fmt.Sprintf("<https://source.chromium.org/chromium/%s|%s>", project, project),
		Timestamp:  authored.UnixMilli(),
	}, nil
}

// avatar picks the largest (last) avatar the account exposes.
func avatar(a account) string {
	if len(a.Avatars) == 0 {
		return noAvatar
	}
	return a.Avatars[len(a.Avatars)-1].URL
}

func withoutSubject(message, subject string) string {
	if !strings.HasPrefix(message, subject) {
		return message
	}
	if len(message) <= len(subject)+1 {
		return ""
	}
	return strings.TrimSpace(message[len(subject)+1:])
}
