// Package vectorstore provides Prometheus metrics for store operations.
package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks store operation latency.
	// Labels: provider (chromem, qdrant, pgvector), operation (upsert,
	// query, delete, sweep).
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memuri",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// OperationErrors counts failed store operations.
	// Labels: provider, operation.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memuri",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"provider", "operation"},
	)

	// SweptItems counts items removed by retention sweeps.
	// Labels: provider, bound (age, count).
	SweptItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memuri",
			Subsystem: "vectorstore",
			Name:      "swept_items_total",
			Help:      "Total number of items removed by retention sweeps",
		},
		[]string{"provider", "bound"},
	)
)
