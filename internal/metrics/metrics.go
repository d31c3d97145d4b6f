// Package metrics provides Prometheus metrics for the storage layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are limited to backend, operation and outcome. Collection names
// and document ids never become labels.

var (
	// OperationsTotal counts driver operations by backend, operation and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redb_storage_operations_total",
		Help: "Total number of storage operations, by backend, operation and outcome (ok/error).",
	}, []string{"backend", "operation", "outcome"})

	// OperationDuration tracks driver operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redb_storage_operation_duration_seconds",
		Help:    "Latency of storage operations, by backend and operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	// ReplicationsTotal counts secondary writes by backend and outcome.
	ReplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redb_storage_replications_total",
		Help: "Total number of asynchronous secondary writes, by backend and outcome (ok/error/rejected).",
	}, []string{"backend", "outcome"})

	// ReplicationFailuresTotal counts failed secondary writes by backend and operation.
	ReplicationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redb_storage_replication_failures_total",
		Help: "Total number of failed secondary writes, by backend and operation.",
	}, []string{"backend", "operation"})

	// DegradedReadsTotal counts reads served by the secondary store.
	DegradedReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redb_storage_degraded_reads_total",
		Help: "Total number of reads served from the secondary store after a primary failure, by operation.",
	}, []string{"operation"})

	// HybridState is 1 for the most recently observed coordinator state.
	HybridState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redb_storage_hybrid_state",
		Help: "Most recently observed hybrid coordinator state (1 = current).",
	}, []string{"state"})

	// DecryptFailuresTotal counts ciphertexts that failed to decrypt.
	DecryptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redb_storage_decrypt_failures_total",
		Help: "Total number of field values that could not be decrypted.",
	})

	// ActiveSubscriptions tracks open subscriptions by backend.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redb_storage_active_subscriptions",
		Help: "Current number of open change subscriptions, by backend.",
	}, []string{"backend"})

	// NotificationsTotal counts delivered change notifications by backend and type.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redb_storage_notifications_total",
		Help: "Total number of change notifications delivered to subscribers, by backend and type.",
	}, []string{"backend", "type"})
)

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOperation records the count and latency of one driver operation.
func ObserveOperation(backend, operation string, start time.Time, err error) {
	OperationsTotal.WithLabelValues(backend, operation, Outcome(err)).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// SetHybridState marks state as current and clears the others.
func SetHybridState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		HybridState.WithLabelValues(s).Set(v)
	}
}
