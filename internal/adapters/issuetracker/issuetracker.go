// Package issuetracker unfurls links to the current Chromium issue tracker.
// The tracker only offers an undocumented positional JSON API, so decoding is
// confined to decode.go.
package issuetracker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/escape"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

const (
	// Name identifies the adapter in logs and metrics.
	Name = "issuetracker"
	// Host is the tracker host.
	Host = "issues.chromium.org"
	// DefaultBaseURL is the public tracker.
	DefaultBaseURL = "https://" + Host

	trackerName     = "Chromium"
	openColor       = "#36B37E"
	closedColor     = "#FF5630"
	unknownComment  = "Unknown"
	unspecifiedName = "Unspecified"
	searchPageSize  = 250
)

// Doer issues upstream POST requests.
type Doer interface {
	PostJSON(ctx context.Context, source, rawURL string, header http.Header, payload any) ([]byte, error)
}

var statusNames = map[int64]string{
	0:  "Unspecified",
	1:  "New",
	2:  "Assigned",
	3:  "Accepted",
	4:  "Fixed",
	5:  "Verified",
	6:  "Not Reproducible",
	7:  "Intended Behavior",
	8:  "Obsolete",
	9:  "Infeasible",
	10: "Duplicate",
}

// terminalStatuses render red.
var terminalStatuses = map[int64]bool{
	4:  true, // fixed
	6:  true, // not reproducible
	7:  true, // intended behavior
	8:  true, // obsolete
	9:  true, // infeasible
	10: true, // duplicate
}

// typeNames is indexed by type-1.
var typeNames = []string{
	"Bug",
	"Feature Request",
	"Customer Issue",
	"Internal Cleanup",
	"Process",
	"Vulnerability",
	"Privacy Issue",
	"Project",
	"Feature",
	"Milestone",
	"Epic",
	"Story",
	"Task",
	"Unspecified",
}

type fetcher struct {
	client Doer
	base   string
	logger *zap.Logger
}

// NewAdapter builds the issue tracker adapter. An empty baseURL selects DefaultBaseURL.
func NewAdapter(client Doer, baseURL string, logger *zap.Logger, opts ...unfurl.Option) unfurl.Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &fetcher{client: client, base: strings.TrimSuffix(baseURL, "/"), logger: logger}
	return unfurl.New(Name, Parse, f.fetch, append([]unfurl.Option{unfurl.WithLogger(logger)}, opts...)...)
}

var jsonHeader = http.Header{"Content-Type": {"application/json"}}

func (f *fetcher) fetch(ctx context.Context, _ string, number int64) (unfurl.Card, error) {
	query := []any{fmt.Sprintf("id:%d", number), searchPageSize, "modified_time:desc"}
	body, err := f.client.PostJSON(ctx, "issues/list", f.base+"/action/issues/list", jsonHeader, query)
	if err != nil {
		return unfurl.Card{}, err
	}
	rec, err := decodeIssue(body)
	if err != nil {
		return unfurl.Card{}, err
	}
	return buildCard(rec, f.firstComment(ctx, rec)), nil
}

// firstComment falls back to a placeholder when the comment cannot be
// retrieved; the issue itself is still worth a card.
func (f *fetcher) firstComment(ctx context.Context, rec issueRecord) string {
	if rec.CommentToken == "" {
		return unknownComment
	}
	body, err := f.client.PostJSON(ctx, "comments/batch", f.base+"/action/comments/batch", jsonHeader, commentsRequest(rec))
	if err != nil {
		f.logger.Info("first comment unavailable", zap.Int64("issue", rec.Number), zap.Error(err))
		return unknownComment
	}
	text, ok, err := decodeFirstComment(body)
	if err != nil {
		f.logger.Warn("first comment did not decode", zap.Int64("issue", rec.Number), zap.Error(err))
		return unknownComment
	}
	if !ok {
		return unknownComment
	}
	return escape.Slack(text)
}

func buildCard(rec issueRecord, text string) unfurl.Card {
	color := openColor
	if terminalStatuses[rec.Status] {
		color = closedColor
	}
	status, ok := statusNames[rec.Status]
	if !ok {
		status = unspecifiedName
	}

	fields := []unfurl.Field{
		{Title: "Type", Value: typeName(rec.Type), Short: true},
		{Title: "Status", Value: status, Short: true},
		{Title: "Priority", Value: "P" + strconv.FormatInt(rec.Priority-1, 10), Short: true},
		{Title: "Severity", Value: "S" + strconv.FormatInt(rec.Severity-1, 10), Short: true},
	}
	for _, cf := range rec.CustomFields {
		fields = append(fields, unfurl.Field{Title: escape.Slack(cf.Name), Value: escape.Slack(cf.Value), Short: true})
	}

	return unfurl.Card{
		Color:      color,
		AuthorName: escape.Slack(rec.Opener),
		Fallback:   escape.Slack(fmt.Sprintf("[%s] #%d %s", trackerName, rec.Number, rec.Title)),
		Title:      escape.Slack(fmt.Sprintf("#%d %s", rec.Number, rec.Title)),
		TitleLink:  fmt.Sprintf("%s/issues/%d", DefaultBaseURL, rec.Number),
		FooterIcon: "https://www.gstatic.com/chrome-tracker/img/chromium.svg",
		Text:       text,
		Footer:     fmt.Sprintf("<%s|%s Issue Tracker>", DefaultBaseURL, trackerName),
		Timestamp:  rec.CreatedMicro / 1000,
		Fields:     fields,
	}
}

func typeName(t int64) string {
	if t < 1 || t > int64(len(typeNames)) {
		return unspecifiedName
	}
	return typeNames[t-1]
}
