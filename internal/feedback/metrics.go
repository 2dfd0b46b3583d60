package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "memuri",
	Subsystem: "feedback",
	Name:      "records_total",
	Help:      "Feedback records appended by kind. Duplicates are not counted.",
}, []string{"kind"})

func observeRecord(kind Kind) {
	recordsTotal.WithLabelValues(string(kind)).Inc()
}
