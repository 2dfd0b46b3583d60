package gating

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "gating",
		Name:      "decisions_total",
		Help:      "Gating decisions by outcome and reason.",
	}, []string{"outcome", "reason"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memuri",
		Subsystem: "gating",
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent evaluating one candidate.",
		Buckets:   prometheus.DefBuckets,
	})
)

func observeDecision(d *memory.GatingDecision, elapsed time.Duration) {
	outcome := "reject"
	if d.Accepted {
		outcome = "accept"
	}
	decisionsTotal.WithLabelValues(outcome, d.Reason).Inc()
	evaluationDuration.Observe(elapsed.Seconds())
}
