// Package api hosts the operator HTTP surface of the scrape engine:
//   - GET /healthz for liveness probes.
//   - GET /readyz, which runs the registered readiness checks.
//   - GET /metrics for Prometheus scraping.
//
// Job submission and status reads are served by an external API layer.
package api
