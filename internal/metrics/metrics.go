// Package metrics exposes Prometheus collectors for the daily-papers service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamFetchesTotal          *prometheus.CounterVec
	upstreamFetchDurationSeconds  prometheus.Histogram
	cacheLookupsTotal             *prometheus.CounterVec
	dateResolutionsTotal          *prometheus.CounterVec
	evaluationsTotal              *prometheus.CounterVec
	activeEvaluations             prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	upstreamRateLimitDelaySeconds *prometheus.HistogramVec
	robotsFallbacksTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_upstream_fetches_total",
				Help: "Total number of listing page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		upstreamFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papers_upstream_fetch_duration_seconds",
				Help:    "Histogram of listing page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_cache_lookups_total",
				Help: "Total number of day cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		dateResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_date_resolutions_total",
				Help: "Total number of date resolution scans, labeled by direction and result.",
			},
			[]string{"direction", "result"},
		)

		evaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_evaluations_total",
				Help: "Total number of finished evaluations, labeled by status.",
			},
			[]string{"status"},
		)

		activeEvaluations = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "papers_active_evaluations",
				Help: "Number of evaluations currently running.",
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

		upstreamRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "papers_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_robots_fallbacks_total",
				Help: "Hosts whose robots.txt timed out and was treated as allow-all.",
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one upstream fetch outcome.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	upstreamFetchesTotal.WithLabelValues(outcome).Inc()
	upstreamFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit, stale hit or miss.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveResolution records the result of a backward or forward date scan.
func ObserveResolution(direction, result string) {
	Init()
	dateResolutionsTotal.WithLabelValues(direction, result).Inc()
}

// ObserveEvaluation increments the evaluation counter for the given status.
func ObserveEvaluation(status string) {
	Init()
	evaluationsTotal.WithLabelValues(status).Inc()
}

// IncActiveEvaluations increments the running evaluations gauge.
func IncActiveEvaluations() {
	Init()
	activeEvaluations.Inc()
}

// DecActiveEvaluations decrements the running evaluations gauge.
func DecActiveEvaluations() {
	Init()
	activeEvaluations.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	upstreamRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback records a robots.txt lookup that fell back to allow-all.
func ObserveRobotsFallback(host string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(host).Inc()
}
