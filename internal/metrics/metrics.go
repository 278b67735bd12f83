// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal       *prometheus.CounterVec
	apiRetriesTotal        *prometheus.CounterVec
	apiBackoffSeconds      prometheus.Histogram
	domainsProcessedTotal  prometheus.Counter
	storesSavedTotal       prometheus.Counter
	crawlErrorsTotal       *prometheus.CounterVec
	breakerTripsTotal      prometheus.Counter
	runsTotal              *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_api_requests_total",
				Help: "Total partner API requests, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_api_retries_total",
				Help: "Total retried partner API attempts, labeled by reason.",
			},
			[]string{"reason"},
		)

		apiBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_api_backoff_seconds",
				Help:    "Histogram of pacing and backoff sleeps before API attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		domainsProcessedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_domains_processed_total",
				Help: "Total domains for which an enumeration cycle completed.",
			},
		)

		storesSavedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_stores_saved_total",
				Help: "Total store records persisted.",
			},
		)

		crawlErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_crawl_errors_total",
				Help: "Total crawl errors, labeled by stage.",
			},
			[]string{"stage"},
		)

		breakerTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_breaker_trips_total",
				Help: "Times the consecutive-error circuit breaker halted a run.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_runs_total",
				Help: "Total crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of control API request latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest increments the partner API request counter.
func ObserveAPIRequest(operation, outcome string) {
	if apiRequestsTotal == nil {
		return
	}
	apiRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRetry increments the retry counter.
func ObserveRetry(reason string) {
	if apiRetriesTotal == nil {
		return
	}
	apiRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveBackoff records one pacing or backoff sleep.
func ObserveBackoff(d time.Duration) {
	if apiBackoffSeconds == nil {
		return
	}
	apiBackoffSeconds.Observe(d.Seconds())
}

// ObserveDomainProcessed increments the processed-domain counter.
func ObserveDomainProcessed() {
	if domainsProcessedTotal == nil {
		return
	}
	domainsProcessedTotal.Inc()
}

// ObserveStoreSaved increments the saved-store counter.
func ObserveStoreSaved() {
	if storesSavedTotal == nil {
		return
	}
	storesSavedTotal.Inc()
}

// ObserveCrawlError increments the crawl error counter for a stage.
func ObserveCrawlError(stage string) {
	if crawlErrorsTotal == nil {
		return
	}
	crawlErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveBreakerTrip increments the circuit breaker trip counter.
func ObserveBreakerTrip() {
	if breakerTripsTotal == nil {
		return
	}
	breakerTripsTotal.Inc()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the control API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, codeLabel(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}

func codeLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
