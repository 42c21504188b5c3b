// Package api hosts the HTTP server for search clients and operators.
// Routes:
//   - POST / and POST /v1/search run a keyword or phrase query.
//   - GET /healthz and /readyz for probes; readyz reports 503 while the index builds.
//   - GET /v1/status returns the crawl readiness snapshot.
//   - GET /metrics for Prometheus scraping.
package api
