// Package api hosts the HTTP server, middleware, and REST handlers for
// operators and reviewers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/targets for the fleet with last status and circuit state.
//   - GET /v1/review and POST /v1/targets/{target_id}/override for the manual
//     review workflow.
//   - GET /v1/cycles/last for the most recent cycle summary and the review items it produced.
package api
