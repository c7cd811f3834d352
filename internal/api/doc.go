// Package api hosts the read-only HTTP surface over the roster store.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/accounts/{id} for a single record.
//   - GET /v1/accounts?name= for a name search; a query ending in '#'
//     matches names starting with the rest of the query.
package api
