// Package metrics exposes Prometheus collectors for the unfurl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	adapterResultsTotal            *prometheus.CounterVec
	linkResolutionsTotal           *prometheus.CounterVec
	repliesTotal                   *prometheus.CounterVec
	upstreamRequestsTotal          *prometheus.CounterVec
	upstreamRequestDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	upstreamRateLimitDelaysSeconds *prometheus.HistogramVec
	tokenFetchAttemptsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		adapterResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_adapter_results_total",
				Help: "Adapter invocations that passed URL parsing, labeled by adapter and outcome.",
			},
			[]string{"adapter", "outcome"},
		)

		linkResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_link_resolutions_total",
				Help: "Per-URL dispatch resolutions, labeled by outcome (card, none, conflict, error).",
			},
			[]string{"outcome"},
		)

		repliesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_replies_total",
				Help: "Batched chat.unfurl replies, labeled by status.",
			},
			[]string{"status"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_upstream_requests_total",
				Help: "Outbound upstream requests, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		upstreamRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfurl_upstream_request_duration_seconds",
				Help:    "Histogram of outbound upstream request latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		upstreamRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfurl_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		tokenFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_token_fetch_attempts_total",
				Help: "Anti-forgery token scrape attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAdapterResult counts one adapter outcome.
func ObserveAdapterResult(adapter, outcome string) {
	Init()
	adapterResultsTotal.WithLabelValues(adapter, outcome).Inc()
}

// ObserveResolution counts one per-URL dispatch resolution.
func ObserveResolution(outcome string) {
	Init()
	linkResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReply counts one batched reply.
func ObserveReply(status string) {
	Init()
	repliesTotal.WithLabelValues(status).Inc()
}

// ObserveUpstream records an outbound request. A zero code means the request
// never produced a response.
func ObserveUpstream(rawURL string, code int, duration time.Duration) {
	Init()
	host := SanitizeSite(rawURL)
	upstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	upstreamRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveTokenFetch counts one token scrape attempt.
func ObserveTokenFetch(source, result string) {
	Init()
	tokenFetchAttemptsTotal.WithLabelValues(source, result).Inc()
}
