// Package api hosts the HTTP server, middleware, and Slack handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /slack/events for Events API deliveries, guarded by the request
//     signature.
package api
