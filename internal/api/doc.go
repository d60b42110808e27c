// Package api hosts the HTTP command surface of the search engine.
// Routes:
//   - GET /api/startIndexing and /api/stopIndexing control the crawl session.
//   - POST /api/indexPage re-indexes one URL.
//   - GET /api/statistics reports per-site totals.
//   - GET /api/search answers queries.
//   - GET /healthz for probes and GET /metrics for Prometheus scraping.
package api
