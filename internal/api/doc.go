// Package api hosts the optional HTTP surface of the harvester:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches to scrape one keyword and place on demand.
//   - GET /v1/events for the most recent progress events.
package api
