// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerRequestsTotal          *prometheus.CounterVec
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerFailuresTotal          *prometheus.CounterVec
	crawlerArtifactsTotal         *prometheus.CounterVec
	crawlerStorageErrorsTotal     prometheus.Counter
	crawlerResumeSkipsTotal       prometheus.Counter
	crawlerPaginationDropsTotal   *prometheus.CounterVec
	crawlerRobotsFallbacksTotal   *prometheus.CounterVec
	crawlerFrontierDepth          prometheus.Gauge
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_requests_total",
				Help: "Requests added to the frontier, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Completed fetches, labeled by site and status.",
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
				Help:    "Histogram of fetch latencies, labeled by request kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		crawlerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_failures_total",
				Help: "Failures recorded in the ledger, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_artifacts_total",
				Help: "Artifacts persisted, labeled by page type.",
			},
			[]string{"page"},
		)

		crawlerStorageErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_storage_errors_total",
				Help: "Artifact writes that failed.",
			},
		)

		crawlerResumeSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_resume_skips_total",
				Help: "Topic requests suppressed because the artifact already exists.",
			},
		)

		crawlerPaginationDropsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pagination_drops_total",
				Help: "Pagination requests dropped by the loop guard, labeled by cause.",
			},
			[]string{"cause"},
		)

		crawlerRobotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallbacks_total",
				Help: "Sites crawled as allow-all because robots.txt kept timing out.",
			},
			[]string{"site"},
		)

		crawlerFrontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_depth",
				Help: "Requests waiting in the frontier.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently fetching.",
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
	return promhttp.Handler()
}

// ObserveRequest counts a request added to the frontier.
func ObserveRequest(kind string) {
	Init()
	crawlerRequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records a completed fetch.
func ObserveFetch(site, kind, status string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	crawlerFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveFailure counts a ledger entry.
func ObserveFailure(reason string) {
	Init()
	crawlerFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveArtifact counts a persisted artifact.
func ObserveArtifact(page string) {
	Init()
	crawlerArtifactsTotal.WithLabelValues(page).Inc()
}

// ObserveStorageError counts a failed artifact write.
func ObserveStorageError() {
	Init()
	crawlerStorageErrorsTotal.Inc()
}

// ObserveResumeSkip counts a topic skipped by the resume guard.
func ObserveResumeSkip() {
	Init()
	crawlerResumeSkipsTotal.Inc()
}

// ObservePaginationDrop counts a pagination request dropped by the loop guard.
func ObservePaginationDrop(cause string) {
	Init()
	crawlerPaginationDropsTotal.WithLabelValues(cause).Inc()
}

// ObserveRobotsFallback counts a site whose robots.txt could not be read.
func ObserveRobotsFallback(site string) {
	Init()
	crawlerRobotsFallbacksTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// SetFrontierDepth publishes the number of queued requests.
func SetFrontierDepth(n int) {
	Init()
	crawlerFrontierDepth.Set(float64(n))
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
