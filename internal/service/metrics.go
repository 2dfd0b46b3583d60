package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeLongTerm  = "long-term"
	outcomeShortTerm = "short-term"
	outcomeRejected  = "rejected"
)

var (
	addsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "service",
		Name:      "adds_total",
		Help:      "Add outcomes by placement.",
	}, []string{"outcome"})

	sweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "service",
		Name:      "sweep_removed_total",
		Help:      "Long-term items removed by retention sweeps.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memuri",
		Subsystem: "service",
		Name:      "sweep_duration_seconds",
		Help:      "Retention sweep latency.",
		Buckets:   prometheus.DefBuckets,
	})
)

func observeAdd(outcome string) {
	addsTotal.WithLabelValues(outcome).Inc()
}

func observeSweep(removed int, elapsed time.Duration) {
	sweepRemovedTotal.Add(float64(removed))
	sweepDuration.Observe(elapsed.Seconds())
}
