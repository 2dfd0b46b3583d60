package reranker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rerankDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "memuri",
	Subsystem: "reranker",
	Name:      "duration_seconds",
	Help:      "Time spent reranking one candidate set.",
	Buckets:   prometheus.DefBuckets,
})
