// Package codesearch unfurls source browser links into a code snippet card.
package codesearch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/crlink-unfurler/internal/escape"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const (
	// Name identifies the adapter in logs and metrics.
	Name = "codesearch"
	// Host is the source browser host.
	Host = "source.chromium.org"
	// DefaultBaseURL is the public source browser.
	DefaultBaseURL = "https://" + Host

	cardColor  = "#00B8D9"
	footerIcon = "https://www.gstatic.com/devopsconsole/images/oss/favicons/oss-96x96.png"
)

// Doer issues upstream POST requests.
type Doer interface {
	PostJSON(ctx context.Context, source, rawURL string, header http.Header, payload any) ([]byte, error)
}

// PageFetcher downloads an HTML page.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) ([]byte, error)
}

type fetcher struct {
	client Doer
	pages  PageFetcher
	base   string
}

// NewAdapter builds the source browser adapter. pages fetches the landing
// page that carries the file service configuration.
func NewAdapter(client Doer, pages PageFetcher, baseURL string, opts ...unfurl.Option) unfurl.Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	f := &fetcher{client: client, pages: pages, base: strings.TrimSuffix(baseURL, "/")}
	return unfurl.New(Name, Parse, f.fetch, opts...)
}

func (f *fetcher) fetch(ctx context.Context, rawURL string, loc Location) (unfurl.Card, error) {
	page, err := f.pages.FetchPage(ctx, f.base+"/")
	if err != nil {
		return unfurl.Card{}, err
	}
	cfg, err := decodeGrimoireConfig(page)
	if err != nil {
		return unfurl.Card{}, err
	}

	header := http.Header{
		"Origin":       {DefaultBaseURL},
		"Content-Type": {"application/x-www-form-urlencoded;charset=UTF-8"},
	}
	body, err := f.client.PostJSON(ctx, "GetContentsStreaming", cfg.fileContentsURL(), header, fileContentsRequest(loc))
	if err != nil {
		return unfurl.Card{}, err
	}
	var payload any
	if err := upstream.DecodeJSON("GetContentsStreaming", body, &payload); err != nil {
		return unfurl.Card{}, err
	}
	contents, ok := findFileContents(payload)
	if !ok {
		return unfurl.Card{}, unfurl.Malformed("GetContentsStreaming", body, fmt.Errorf("no file contents in response"))
	}

	if loc.Start > 0 {
		contents = removeOverIndent(sliceLines(contents, loc.Start, loc.End))
	}
	return buildCard(rawURL, loc, contents), nil
}

func buildCard(rawURL string, loc Location, contents string) unfurl.Card {
	return unfurl.Card{
		Color:      cardColor,
		Fallback:   escape.Slack(fmt.Sprintf("[%s] %s", loc.Repo(), loc.FileName)),
		Title:      escape.Slack(loc.FileName),
		TitleLink:  rawURL,
		FooterIcon: footerIcon,
		Text:       "```\n" + escape.Entities(truncate(contents)) + "\n```",
		Footer: fmt.Sprintf("<%s/%s/%s/+/%s|%s>",
			DefaultBaseURL, loc.Parent, loc.Repo(), loc.Branch, loc.Repo()),
		MarkdownIn: []string{"text"},
	}
}
