// Package api hosts the status server for a running crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/failures for the failure ledger, optionally filtered by ?reason=.
//   - GET /v1/frontier for the queued and in-flight request counts and the forums crawled
//     without a readable robots.txt.
package api
