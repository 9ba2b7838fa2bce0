// Package api hosts the HTTP server, middleware and REST handlers. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/daily for day listings with date navigation.
//   - /api/cache/... for cache inspection and maintenance.
//   - /api/papers/... and /api/evals/... for paper records and evaluations.
package api
