// Package upstream issues the outbound HTTP calls made by link adapters and
// decodes the JSON conventions shared by Google's internal endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

const maxBodyBytes = 16 << 20

// Limiter throttles requests per destination host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls client behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client wraps an http.Client with rate limiting, metrics and status checks.
type Client struct {
	httpClient *http.Client
	limiter    Limiter
	userAgent  string
}

// New builds a Client with a pooled transport.
func New(cfg Config, limiter Limiter) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return NewWithHTTPClient(&http.Client{
		Timeout:   timeout,
		Transport: NewTransport(),
	}, cfg.UserAgent, limiter)
}

// NewWithHTTPClient wraps an existing http.Client.
func NewWithHTTPClient(hc *http.Client, userAgent string, limiter Limiter) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{httpClient: hc, limiter: limiter, userAgent: userAgent}
}

// HTTPClient exposes the underlying client for libraries that need one.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Get fetches rawURL and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, source, rawURL string, header http.Header) ([]byte, error) {
	return c.do(ctx, source, http.MethodGet, rawURL, header, nil)
}

// Post sends body to rawURL and returns the body of a 2xx response.
func (c *Client) Post(ctx context.Context, source, rawURL string, header http.Header, body []byte) ([]byte, error) {
	return c.do(ctx, source, http.MethodPost, rawURL, header, body)
}

// PostJSON marshals payload and posts it with a JSON content type unless the
// caller supplied one.
func (c *Client) PostJSON(ctx context.Context, source, rawURL string, header http.Header, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", source, err)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return c.Post(ctx, source, rawURL, h, data)
}

func (c *Client) do(ctx context.Context, source, method, rawURL string, header http.Header, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, unfurl.Unavailable(source, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", source, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(rawURL, 0, time.Since(start))
		return nil, unfurl.Unavailable(source, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveUpstream(rawURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, unfurl.Unavailable(source, fmt.Errorf("status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, unfurl.Unavailable(source, fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

// NewTransport returns a pooled transport suitable for upstream calls.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
