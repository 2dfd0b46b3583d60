package retrain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "retrain",
		Name:      "cycles_total",
		Help:      "Retrain cycles by result.",
	}, []string{"result"})

	ruleCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memuri",
		Subsystem: "retrain",
		Name:      "rule_cycles_total",
		Help:      "Rule adaptation cycles by result.",
	}, []string{"result"})

	modelVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "memuri",
		Subsystem: "retrain",
		Name:      "model_version",
		Help:      "Version of the currently published classifier model.",
	})

	ruleTableVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "memuri",
		Subsystem: "retrain",
		Name:      "rule_table_version",
		Help:      "Version of the currently published rule table.",
	})
)
