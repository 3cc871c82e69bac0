// Package collyfetcher fetches HTML landing pages with gocolly. Adapters scrape
// tokens and configuration literals out of these pages.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

// Limiter throttles requests per destination host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior. Limiter is optional and is shared with
// the upstream API client so landing pages count against the same host budget.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   Limiter
}

// Fetcher retrieves whole pages using a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil transport selects the default pooled transport.
func New(cfg Config, transport http.RoundTripper) *Fetcher {
	// Landing pages are fetched on every unfurl, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if transport != nil {
		c.WithTransport(transport)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchPage returns the body of a 2xx response for rawURL.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return nil, unfurl.Unavailable("page", err)
		}
	}

	var (
		body     []byte
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	f.configureHooks(collector, rawURL, time.Now(), &body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, unfurl.Unavailable("page", fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if fetchErr != nil {
			return nil, unfurl.Unavailable("page", fetchErr)
		}
		if err != nil {
			return nil, unfurl.Unavailable("page", fmt.Errorf("colly visit failed: %w", err))
		}
		return body, nil
	}
}

func (f *Fetcher) configureHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	body *[]byte,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		metrics.ObserveUpstream(rawURL, r.StatusCode, time.Since(start))
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		metrics.ObserveUpstream(rawURL, status, time.Since(start))
		*fetchErr = fmt.Errorf("status %d: %w", status, err)
	})
}
