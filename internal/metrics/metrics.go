// Package metrics exposes Prometheus collectors for the roster crawler.
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
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	fetchRetriesTotal          *prometheus.CounterVec
	dispatchDelaySeconds       prometheus.Histogram
	activeWorkers              prometheus.Gauge
	storeRecordsWrittenTotal   *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_fetch_outcomes_total",
				Help: "Profile lookups, labeled by outcome kind.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roster_fetch_duration_seconds",
				Help:    "Latency of profile lookups including retries, excluding the polite delay.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
			},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_fetch_retries_total",
				Help: "Retried lookup attempts, labeled by HTTP status (0 for network errors).",
			},
			[]string{"code"},
		)

		dispatchDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roster_dispatch_delay_seconds",
				Help:    "Time the dispatcher waited on the stagger limiter before enqueueing an ID.",
				Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 5},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_active_workers",
				Help: "Number of workers currently handling an ID.",
			},
		)

		storeRecordsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_store_records_written_total",
				Help: "Records persisted to the roster file, labeled by write kind.",
			},
			[]string{"kind"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_runs_total",
				Help: "Completed runs, labeled by mode and result.",
			},
			[]string{"mode", "result"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one classified lookup.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetry counts a retried attempt.
func ObserveRetry(code int) {
	Init()
	fetchRetriesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveDispatchDelay records a stagger wait.
func ObserveDispatchDelay(d time.Duration) {
	Init()
	dispatchDelaySeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRecordsWritten adds n records persisted by a write of the given kind
// ("append" or "rewrite").
func ObserveRecordsWritten(kind string, n int) {
	Init()
	if n > 0 {
		storeRecordsWrittenTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveRun counts a finished run.
func ObserveRun(mode, result string) {
	Init()
	runsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
