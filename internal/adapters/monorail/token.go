package monorail

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

const (
	defaultTokenAttempts = 3
	defaultTokenBackoff  = 250 * time.Millisecond
)

var tokenPattern = regexp.MustCompile(`'token': '([\w-]*)',`)

var errNoToken = errors.New("xsrf token not found")

// PageFetcher downloads an HTML page.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) ([]byte, error)
}

// tokenSource scrapes the XSRF token the pRPC endpoints require. The token is
// fetched on every unfurl; retries use a constant backoff without jitter.
type tokenSource struct {
	pages    PageFetcher
	pageURL  string
	attempts int
	backoff  time.Duration
}

func newTokenSource(pages PageFetcher, pageURL string, attempts int, backoff time.Duration) *tokenSource {
	if attempts <= 0 {
		attempts = defaultTokenAttempts
	}
	if backoff <= 0 {
		backoff = defaultTokenBackoff
	}
	return &tokenSource{pages: pages, pageURL: pageURL, attempts: attempts, backoff: backoff}
}

// Token returns a fresh token. Exhausting every attempt is fatal.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	var token string
	b := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewConstant(s.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		page, err := s.pages.FetchPage(ctx, s.pageURL)
		if err != nil {
			metrics.ObserveTokenFetch(Name, "error")
			return retry.RetryableError(err)
		}
		m := tokenPattern.FindSubmatch(page)
		if m == nil {
			metrics.ObserveTokenFetch(Name, "missing")
			return retry.RetryableError(fmt.Errorf("%w in %s", errNoToken, s.pageURL))
		}
		metrics.ObserveTokenFetch(Name, "ok")
		token = string(m[1])
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return "", unfurl.Unavailable("xsrf token", err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: xsrf token after %d attempts: %w", unfurl.ErrFatal, s.attempts, err)
	}
	return token, nil
}
