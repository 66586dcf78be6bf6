// Package metrics exposes Prometheus collectors for the capture service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal          *prometheus.CounterVec
	resourcesTotal         *prometheus.CounterVec
	pagesCrawledTotal      *prometheus.CounterVec
	captureDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds *prometheus.HistogramVec
	activeCaptureJobs      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagekeep_captures_total",
				Help: "Total number of capture jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		resourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagekeep_resources_total",
				Help: "Total number of resource downloads, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagekeep_pages_crawled_total",
				Help: "Total number of pages visited, labeled by site and mode.",
			},
			[]string{"site", "mode"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagekeep_capture_duration_seconds",
				Help:    "Histogram of end-to-end capture latencies, labeled by mode.",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagekeep_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeCaptureJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagekeep_active_capture_jobs",
				Help: "Number of capture jobs currently processing.",
			},
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

// ObserveCapture records a finished capture job.
func ObserveCapture(status string, mode string, duration time.Duration) {
	if capturesTotal == nil {
		return
	}
	capturesTotal.WithLabelValues(status).Inc()
	captureDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveResource records one resource download attempt.
func ObserveResource(kind string, outcome string) {
	if resourcesTotal == nil {
		return
	}
	resourcesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObservePage records one visited page.
func ObservePage(site string, mode string) {
	if pagesCrawledTotal == nil {
		return
	}
	pagesCrawledTotal.WithLabelValues(SanitizeSite(site), mode).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	if activeCaptureJobs != nil {
		activeCaptureJobs.Inc()
	}
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	if activeCaptureJobs != nil {
		activeCaptureJobs.Dec()
	}
}
