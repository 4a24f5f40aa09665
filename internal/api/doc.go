// Package api hosts the HTTP server, middleware, and REST handlers of the
// summarizer. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /scrape and POST /scrape/sync to summarize a site.
//   - GET/DELETE /jobs/{id} and GET /jobs/{id}/result for job tracking.
package api
