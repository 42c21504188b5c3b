// Package metrics exposes Prometheus collectors for the crawler and search service.
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
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerFetchRetriesTotal      prometheus.Counter
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerDispatchedTotal        prometheus.Counter
	crawlerCompensationQuota      prometheus.Gauge
	crawlerIndexedPages           prometheus.Gauge
	searchIndexReady              prometheus.Gauge
	searchRequestsTotal           *prometheus.CounterVec
	searchPhraseVerifications     *prometheus.CounterVec
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
				Help: "Total number of pages crawled, labeled by site and outcome.",
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

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by renderer.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"renderer"},
		)

		crawlerFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Total number of fetch attempts that were retried.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of crawl workers currently running.",
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

		crawlerDispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_dispatched_positions_total",
				Help: "Total number of frontier positions handed to workers.",
			},
		)

		crawlerCompensationQuota = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_compensation_quota",
				Help: "Extra positions budgeted to make up for failed or empty crawls.",
			},
		)

		crawlerIndexedPages = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_indexed_pages",
				Help: "Pages with a persisted description at the last coordinator check.",
			},
		)

		searchIndexReady = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_index_ready",
				Help: "1 once the index-ready gate has opened, 0 while building.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Total search requests, labeled by mode, kind and outcome.",
			},
			[]string{"mode", "kind", "outcome"},
		)

		searchPhraseVerifications = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_phrase_verifications_total",
				Help: "Phrase verification tasks, labeled by outcome.",
			},
			[]string{"outcome"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl records one crawl outcome for the page's site.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records the latency of a successful fetch.
func ObserveFetch(headless bool, duration time.Duration) {
	Init()
	renderer := "http"
	if headless {
		renderer = "headless"
	}
	crawlerFetchDurationSeconds.WithLabelValues(renderer).Observe(duration.Seconds())
}

// IncFetchRetries counts one retried fetch attempt.
func IncFetchRetries() {
	Init()
	crawlerFetchRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncDispatched counts one position handed to a worker.
func IncDispatched() {
	Init()
	crawlerDispatchedTotal.Inc()
}

// SetCompensationQuota publishes the coordinator's current quota.
func SetCompensationQuota(quota int64) {
	Init()
	crawlerCompensationQuota.Set(float64(quota))
}

// SetIndexedPages publishes the last observed indexed-page count.
func SetIndexedPages(count int64) {
	Init()
	crawlerIndexedPages.Set(float64(count))
}

// SetIndexReady flips the readiness gauge.
func SetIndexReady(ready bool) {
	Init()
	if ready {
		searchIndexReady.Set(1)
		return
	}
	searchIndexReady.Set(0)
}

// ObserveSearch counts one search request.
func ObserveSearch(mode, kind, outcome string) {
	Init()
	searchRequestsTotal.WithLabelValues(mode, kind, outcome).Inc()
}

// ObservePhraseVerification counts one verification task outcome ("hit", "miss" or "error").
func ObservePhraseVerification(outcome string) {
	Init()
	searchPhraseVerifications.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
