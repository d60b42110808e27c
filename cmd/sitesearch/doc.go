// Package main hosts the sitesearch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes indexing control, single page re-indexing, statistics and search under
//     /api, plus /healthz and /metrics. Handlers validate input and map domain errors to HTTP status codes.
//   - Dispatcher & sessions: GET /api/startIndexing opens a crawl session; the dispatcher resets every configured site
//     and hands each to the site crawler. A monitor loop reports queue depth until every site finishes.
//   - Fetch pipeline: each site runs on its own ants pool. Tasks pause for the politeness delay, wait on the per-host
//     rate limiter, fetch through the Colly-based fetcher, store the page and push its lemma counts to the queue.
//   - Aggregation: the aggregator drains the queue in batches and writes lemmas and index entries in one transaction
//     per batch through indexer.Maintainer.
//   - Persistence: storage.provider selects the in-memory store or PostgreSQL (pgx). The schema is created on start.
//   - Configuration & plumbing: Viper populates config from file and SITESEARCH_* env vars; zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Sites left CRAWLING by a previous process are marked FAILED at startup.
//   - SIGINT/SIGTERM stops the HTTP server, stops any running session, lets the aggregator flush queued pages and
//     closes the store.
//
// Quick checklist:
//   - Run locally: go run ./cmd/sitesearch -config config.yaml
//   - Env overrides: SITESEARCH_SERVER_PORT, SITESEARCH_STORAGE_PROVIDER, SITESEARCH_STORAGE_POSTGRES_DSN,
//     SITESEARCH_CRAWLER_DELAY_MS, SITESEARCH_LOGGING_LEVEL.
package main
