// Package metrics exposes Prometheus collectors for the scanner.
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
	scansTotal           *prometheus.CounterVec
	scanDurationSeconds  *prometheus.HistogramVec
	activeScans          prometheus.Gauge
	retriesTotal         *prometheus.CounterVec
	cacheEventsTotal     *prometheus.CounterVec
	dnsBatchSeconds      prometheus.Histogram
	blacklistedTotal     prometheus.Counter
	batchesTotal         *prometheus.CounterVec
	clusterErrorsCounter prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_scans_total",
				Help: "Total number of URL scans, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scout_scan_duration_seconds",
				Help:    "Histogram of scan latencies, labeled by mode.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_active_scans",
				Help: "Number of scans currently in flight.",
			},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_retries_total",
				Help: "Total retry attempts, labeled by error category.",
			},
			[]string{"category"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_cache_events_total",
				Help: "Content cache hits, misses and evictions.",
			},
			[]string{"event"},
		)

		dnsBatchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scout_dns_batch_seconds",
				Help:    "Histogram of DNS validation chunk durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		)

		blacklistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scout_blacklisted_total",
				Help: "URLs permanently excluded after repeated crashes.",
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_batches_total",
				Help: "Batches processed, labeled by result.",
			},
			[]string{"result"},
		)

		clusterErrorsCounter = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scout_cluster_errors_total",
				Help: "Failure events observed by the cluster health monitor.",
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

// ObserveScan records one finished scan.
func ObserveScan(outcome string, mode string, duration time.Duration) {
	scansTotal.WithLabelValues(outcome).Inc()
	scanDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRetry counts a retry attempt for the given error category.
func ObserveRetry(category string) {
	retriesTotal.WithLabelValues(category).Inc()
}

// ObserveCacheEvent counts a cache hit, miss or eviction.
func ObserveCacheEvent(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// ObserveDNSBatch records the duration of one DNS validation chunk.
func ObserveDNSBatch(duration time.Duration) {
	dnsBatchSeconds.Observe(duration.Seconds())
}

// ObserveBlacklisted counts a permanent exclusion.
func ObserveBlacklisted() {
	blacklistedTotal.Inc()
}

// ObserveBatch counts a completed or failed batch.
func ObserveBatch(result string) {
	batchesTotal.WithLabelValues(result).Inc()
}

// ObserveClusterError counts a failure event seen by the health monitor.
func ObserveClusterError() {
	clusterErrorsCounter.Inc()
}

// IncActiveScans increments the in-flight scan gauge.
func IncActiveScans() {
	activeScans.Inc()
}

// DecActiveScans decrements the in-flight scan gauge.
func DecActiveScans() {
	activeScans.Dec()
}
