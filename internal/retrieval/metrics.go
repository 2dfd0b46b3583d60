package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retrieveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memuri",
		Subsystem: "retrieval",
		Name:      "duration_seconds",
		Help:      "End-to-end retrieval latency including reranking.",
		Buckets:   prometheus.DefBuckets,
	})

	partialResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "retrieval",
		Name:      "partial_results_total",
		Help:      "Retrievals that returned degraded (partial) results.",
	})

	tierCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "retrieval",
		Name:      "tier_candidates_total",
		Help:      "Candidates contributed by each tier before merging.",
	}, []string{"tier"})
)

func observeRetrieval(elapsed time.Duration, r *Result) {
	retrieveDuration.Observe(elapsed.Seconds())
	if r.Partial {
		partialResults.Inc()
	}
	tierCandidates.WithLabelValues("cache").Add(float64(r.CacheCandidates))
	tierCandidates.WithLabelValues("store").Add(float64(r.StoreCandidates))
}
