// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	FetchRequests  *prometheus.CounterVec
	FetchBytes     prometheus.Counter
	RateLimitHits  prometheus.Counter
	RecordsFetched prometheus.Counter

	// Seed metrics
	RecordsSeeded   *prometheus.CounterVec
	RecordsSkipped  *prometheus.CounterVec
	EntitiesCreated *prometheus.CounterVec

	// Sync metrics
	SyncRuns     *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Backfill metrics
	BackfillDays *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSync prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mandi_price_sync"
	}

	return &Metrics{
		// Fetch metrics
		FetchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of upstream HTTP requests by status",
		}, []string{"status"}),
		FetchBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Total number of upstream response bytes read",
		}),
		RateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of 429 responses from the upstream",
		}),
		RecordsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "records_total",
			Help:      "Total number of raw records fetched from the upstream",
		}),

		// Seed metrics
		RecordsSeeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seed",
			Name:      "records_total",
			Help:      "Total number of price records written by result",
		}, []string{"result"}),
		RecordsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seed",
			Name:      "records_skipped_total",
			Help:      "Total number of raw records skipped by reason",
		}, []string{"reason"}),
		EntitiesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seed",
			Name:      "entities_created_total",
			Help:      "Total number of commodities and mandis created",
		}, []string{"kind"}),

		// Sync metrics
		SyncRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by status",
		}, []string{"status"}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Backfill metrics
		BackfillDays: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "days_total",
			Help:      "Total number of backfill days by result",
		}, []string{"result"}),

		// Health metrics
		LastSuccessfulSync: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last successful sync run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetchRequest counts one upstream HTTP request by status code,
// "error" standing in for transport failures.
func RecordFetchRequest(status string) {
	DefaultMetrics.FetchRequests.WithLabelValues(status).Inc()
}

// RecordFetchBytes adds to the upstream bytes-read counter.
func RecordFetchBytes(n int) {
	DefaultMetrics.FetchBytes.Add(float64(n))
}

// RecordRateLimitHit counts one 429 response.
func RecordRateLimitHit() {
	DefaultMetrics.RateLimitHits.Inc()
}

// RecordRecordsFetched adds to the raw records fetched counter.
func RecordRecordsFetched(n int) {
	DefaultMetrics.RecordsFetched.Add(float64(n))
}

// RecordSeeded counts written price records by result (created, updated,
// unchanged, upserted).
func RecordSeeded(result string, n int) {
	DefaultMetrics.RecordsSeeded.WithLabelValues(result).Add(float64(n))
}

// RecordSkipped counts skipped raw records by reason.
func RecordSkipped(reason string, n int) {
	DefaultMetrics.RecordsSkipped.WithLabelValues(reason).Add(float64(n))
}

// RecordEntityCreated counts one created entity ("commodity" or "mandi").
func RecordEntityCreated(kind string) {
	DefaultMetrics.EntitiesCreated.WithLabelValues(kind).Inc()
}

// RecordSyncRun records the outcome and duration of one sync run.
func RecordSyncRun(status string, seconds float64, finishedAtUnix int64) {
	DefaultMetrics.SyncRuns.WithLabelValues(status).Inc()
	DefaultMetrics.SyncDuration.Observe(seconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulSync.Set(float64(finishedAtUnix))
	}
}

// RecordSyncBusy counts a sync request rejected because one was in flight.
func RecordSyncBusy() {
	DefaultMetrics.SyncRuns.WithLabelValues("busy").Inc()
}

// RecordBackfillDay counts one backfill day by result (processed, skipped,
// failed).
func RecordBackfillDay(result string) {
	DefaultMetrics.BackfillDays.WithLabelValues(result).Inc()
}
