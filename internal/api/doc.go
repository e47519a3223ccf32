// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - /v1/records for the reconciled grid, record upserts, batched status
//     changes and synchronous batch scrapes.
//   - /v1/runs for batch run history via the RunRepository interface.
package api
