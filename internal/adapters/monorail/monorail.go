// Package monorail unfurls links to the legacy Chromium bug tracker.
package monorail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crlink-unfurler/internal/escape"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const (
	// Name identifies the adapter in logs and metrics.
	Name = "monorail"
	// Host is the tracker host.
	Host = "bugs.chromium.org"
	// ShortHost is the redirector host; its links always point at the chromium project.
	ShortHost = "crbug.com"
	// DefaultBaseURL is the public tracker.
	DefaultBaseURL = "https://" + Host

	defaultProject = "chromium"
	openColor      = "#36B37E"
	closedColor    = "#FF5630"
)

var detailPath = regexp.MustCompile(`^/p/([a-z0-9]+)/issues/detail`)

// Doer issues upstream POST requests.
type Doer interface {
	PostJSON(ctx context.Context, source, rawURL string, header http.Header, payload any) ([]byte, error)
}

// Issue identifies one bug.
type Issue struct {
	Project string
	Number  int
}

// Parse recognizes https://bugs.chromium.org/p/<project>/issues/detail?id=<n>
// and https://crbug.com/<n>.
func Parse(rawURL string) (Issue, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Issue{}, false
	}
	switch u.Host {
	case Host:
		m := detailPath.FindStringSubmatch(u.Path)
		if m == nil {
			return Issue{}, false
		}
		n, ok := positive(u.Query().Get("id"))
		if !ok {
			return Issue{}, false
		}
		return Issue{Project: m[1], Number: n}, true
	case ShortHost:
		n, ok := positive(strings.TrimPrefix(u.Path, "/"))
		if !ok {
			return Issue{}, false
		}
		return Issue{Project: defaultProject, Number: n}, true
	default:
		return Issue{}, false
	}
}

func positive(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Config tunes the XSRF token fetch.
type Config struct {
	BaseURL       string
	TokenAttempts int
	TokenBackoff  time.Duration
}

type issueRequest struct {
	IssueRef issueRef `json:"issueRef"`
}

type issueRef struct {
	LocalID     int    `json:"localId"`
	ProjectName string `json:"projectName"`
}

type getIssueResponse struct {
	Issue struct {
		StatusRef struct {
			MeansOpen bool `json:"meansOpen"`
		} `json:"statusRef"`
		ReporterRef struct {
			DisplayName string      `json:"displayName"`
			UserID      json.Number `json:"userId"`
		} `json:"reporterRef"`
		ProjectName     string `json:"projectName"`
		LocalID         int    `json:"localId"`
		Summary         string `json:"summary"`
		OpenedTimestamp int64  `json:"openedTimestamp"`
		ComponentRefs   []struct {
			Path string `json:"path"`
		} `json:"componentRefs"`
		LabelRefs []struct {
			Label string `json:"label"`
		} `json:"labelRefs"`
	} `json:"issue"`
}

func (r *getIssueResponse) validate(body []byte) error {
	switch {
	case r.Issue.LocalID <= 0:
		return unfurl.Malformed("GetIssue", body, errors.New("issue.localId missing"))
	case r.Issue.ProjectName == "":
		return unfurl.Malformed("GetIssue", body, errors.New("issue.projectName missing"))
	}
	return nil
}

type listCommentsResponse struct {
	Comments []struct {
		Content string `json:"content"`
	} `json:"comments"`
}

type fetcher struct {
	client Doer
	tokens *tokenSource
	base   string
}

// NewAdapter builds the legacy tracker adapter. pages fetches the project
// landing page the XSRF token is scraped from.
func NewAdapter(client Doer, pages PageFetcher, cfg Config, opts ...unfurl.Option) unfurl.Adapter {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	f := &fetcher{
		client: client,
		tokens: newTokenSource(pages, base+"/p/"+defaultProject, cfg.TokenAttempts, cfg.TokenBackoff),
		base:   base,
	}
	return unfurl.New(Name, Parse, f.fetch, opts...)
}

func (f *fetcher) fetch(ctx context.Context, rawURL string, issue Issue) (unfurl.Card, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return unfurl.Card{}, err
	}
	header := http.Header{
		"Accept":       {"application/json"},
		"Content-Type": {"application/json"},
		"X-Xsrf-Token": {token},
	}
	req := issueRequest{IssueRef: issueRef{LocalID: issue.Number, ProjectName: issue.Project}}

	var (
		got      getIssueResponse
		comments listCommentsResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := f.client.PostJSON(gctx, "GetIssue", f.base+"/prpc/monorail.Issues/GetIssue", header, req)
		if err != nil {
			return err
		}
		if err := upstream.DecodeXSSI("GetIssue", body, &got); err != nil {
			return err
		}
		return got.validate(body)
	})
	g.Go(func() error {
		body, err := f.client.PostJSON(gctx, "ListComments", f.base+"/prpc/monorail.Issues/ListComments", header, req)
		if err != nil {
			return err
		}
		return upstream.DecodeXSSI("ListComments", body, &comments)
	})
	if err := g.Wait(); err != nil {
		return unfurl.Card{}, err
	}

	return buildCard(rawURL, &got, &comments), nil
}

func buildCard(rawURL string, resp *getIssueResponse, comments *listCommentsResponse) unfurl.Card {
	is := resp.Issue
	color := closedColor
	if is.StatusRef.MeansOpen {
		color = openColor
	}
	var text string
	if len(comments.Comments) > 0 {
		text = escape.Slack(comments.Comments[0].Content)
	}
	project := is.ProjectName
	listURL := DefaultBaseURL + "/p/" + project + "/issues/list?q="

	var fields []unfurl.Field
	if len(is.ComponentRefs) > 0 {
		lines := make([]string, 0, len(is.ComponentRefs))
		for _, ref := range is.ComponentRefs {
			lines = append(lines, fmt.Sprintf("• <%scomponent%%3A%s|`%s`>",
				listURL, url.QueryEscape(ref.Path), strings.ReplaceAll(ref.Path, ">", "→")))
		}
		fields = append(fields, unfurl.Field{Title: "Components", Value: strings.Join(lines, "\n"), Short: true})
	}
	if len(is.LabelRefs) > 0 {
		lines := make([]string, 0, len(is.LabelRefs))
		for _, ref := range is.LabelRefs {
			lines = append(lines, fmt.Sprintf("• <%slabel%%3A%s|`%s`>", listURL, url.QueryEscape(ref.Label), ref.Label))
		}
		fields = append(fields, unfurl.Field{Title: "Labels", Value: strings.Join(lines, "\n"), Short: true})
	}
	fields = append(fields, unfurl.Field{Title: "Comments", Value: strconv.Itoa(len(comments.Comments)), Short: true})

	return unfurl.Card{
		Color:      color,
		AuthorName: escape.Slack(is.ReporterRef.DisplayName),
		AuthorLink: fmt.Sprintf("%s/u/%s/", DefaultBaseURL, is.ReporterRef.UserID),
		Fallback:   escape.Slack(fmt.Sprintf("[%s] #%d %s", project, is.LocalID, is.Summary)),
		Title:      escape.Slack(fmt.Sprintf("#%d %s", is.LocalID, is.Summary)),
		TitleLink:  rawURL,
		FooterIcon: DefaultBaseURL + "/static/images/monorail.ico",
		Text:       text,
		Footer:     fmt.Sprintf("<%s/p/%s|crbug/%s>", DefaultBaseURL, project, project),
		Timestamp:  is.OpenedTimestamp * 1000,
		Fields:     fields,
	}
}
