package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pool
	PoolAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpool_acquire_total",
			Help: "Total number of token acquisitions by outcome",
		},
		[]string{"result"},
	)

	PoolAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenpool_acquire_wait_seconds",
			Help:    "Time callers spent waiting in Acquire",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	PoolReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpool_release_total",
			Help: "Total number of token releases by outcome",
		},
		[]string{"result"},
	)

	PoolClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpool_claim_conflicts_total",
			Help: "Candidates dropped because they could not be claimed",
		},
	)

	PoolRefreshTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpool_refresh_total",
			Help: "Number of times the free set was rebuilt from the store",
		},
	)

	PoolAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokenpool_available",
			Help: "Usernames currently cached as free",
		},
	)

	DirtyRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpool_dirty_records_total",
			Help: "Records skipped during refresh because they carry no token",
		},
	)

	// storage backends
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpool_storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenpool_storage_operation_duration_seconds",
			Help:    "Storage backend operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	// sessions
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpool_sessions_total",
			Help: "Simulated sessions by outcome",
		},
		[]string{"result"},
	)
)

// RecordStorageOperation records one backend call.
func RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StorageOperations.WithLabelValues(backend, operation, status).Inc()
	StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
