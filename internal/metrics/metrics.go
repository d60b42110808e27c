// Package metrics exposes Prometheus collectors for the search service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchErrorsTotal       *prometheus.CounterVec
	crawlerSessionsTotal          *prometheus.CounterVec
	crawlerActiveSites            prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	collectorQueueDepth           prometheus.Gauge
	aggregatorBatchSize           prometheus.Histogram
	aggregatorBatchFailuresTotal  prometheus.Counter
	searchRequestsTotal           *prometheus.CounterVec
	searchDurationSeconds         prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_errors_total",
				Help: "Total number of failed fetches, labeled by site and failure class.",
			},
			[]string{"site", "class"},
		)

		crawlerSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_site_crawls_total",
				Help: "Total number of finished site crawls, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerActiveSites = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_sites",
				Help: "Number of sites currently being crawled.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		collectorQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_queue_depth",
				Help: "Number of page/lemma units waiting to be indexed.",
			},
		)

		aggregatorBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aggregator_batch_size",
				Help:    "Histogram of units written per index batch.",
				Buckets: []float64{1, 10, 50, 100, 200, 500},
			},
		)

		aggregatorBatchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aggregator_batch_failures_total",
				Help: "Total number of index batches dropped after a write failure.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Total number of search queries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		searchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "Histogram of search latencies.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass maps an HTTP status code to "2xx", "3xx" and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counters for one fetched page.
func ObservePage(site string, code int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, StatusClass(code)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchError counts a failed fetch by class (timeout, network, ...).
func ObserveFetchError(site, class string) {
	Init()
	crawlerFetchErrorsTotal.WithLabelValues(SanitizeSite(site), class).Inc()
}

// ObserveSiteCrawl counts a finished site crawl by final status.
func ObserveSiteCrawl(status string) {
	Init()
	crawlerSessionsTotal.WithLabelValues(status).Inc()
}

// IncActiveSites increments the active sites gauge.
func IncActiveSites() {
	Init()
	crawlerActiveSites.Inc()
}

// DecActiveSites decrements the active sites gauge.
func DecActiveSites() {
	Init()
	crawlerActiveSites.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetQueueDepth publishes the collector backlog.
func SetQueueDepth(depth int) {
	Init()
	collectorQueueDepth.Set(float64(depth))
}

// ObserveBatch records a written index batch.
func ObserveBatch(size int) {
	Init()
	aggregatorBatchSize.Observe(float64(size))
}

// ObserveBatchFailure counts a dropped index batch.
func ObserveBatchFailure() {
	Init()
	aggregatorBatchFailuresTotal.Inc()
}

// ObserveSearch records one search query and its outcome ("ok", "empty", "error").
func ObserveSearch(outcome string, duration time.Duration) {
	Init()
	searchRequestsTotal.WithLabelValues(outcome).Inc()
	searchDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
