// Package metrics exposes Prometheus collectors for the summarizer service.
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
	jobsTotal                  *prometheus.CounterVec
	jobsRunning                prometheus.Gauge
	stageDurationSeconds       *prometheus.HistogramVec
	stageRetriesTotal          *prometheus.CounterVec
	pagesFetchedTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbackTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_jobs_total",
				Help: "Total number of jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		jobsRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "summarizer_jobs_running",
				Help: "Number of jobs currently executing a pipeline run.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage and outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage", "outcome"},
		)

		stageRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_stage_retries_total",
				Help: "Total number of stage re-entries after a fault, labeled by stage.",
			},
			[]string{"stage"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_pages_fetched_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_robots_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all, labeled by site.",
			},
			[]string{"site"},
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

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncRunningJobs increments the running jobs gauge.
func IncRunningJobs() {
	Init()
	jobsRunning.Inc()
}

// DecRunningJobs decrements the running jobs gauge.
func DecRunningJobs() {
	Init()
	jobsRunning.Dec()
}

// ObserveStage records one execution of a pipeline stage.
func ObserveStage(stage, outcome string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// ObserveStageRetry counts a re-entry of the given stage.
func ObserveStageRetry(stage string) {
	Init()
	stageRetriesTotal.WithLabelValues(stage).Inc()
}

// ObservePageFetch counts a fetched (or failed) page for its site.
func ObservePageFetch(pageURL, status string) {
	Init()
	pagesFetchedTotal.WithLabelValues(SanitizeSite(pageURL), status).Inc()
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
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(site string) {
	Init()
	robotsFallbackTotal.WithLabelValues(SanitizeSite(site)).Inc()
}
