package edoc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	uniqueViolations prometheus.Counter
	scanned          *prometheus.CounterVec
}

// newMetrics registers the collectors on reg. A nil reg yields working
// collectors that nobody scrapes.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edoc_operations_total",
				Help: "Total number of collection operations",
			},
			[]string{"op", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edoc_operation_duration_seconds",
				Help:    "Collection operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		uniqueViolations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "edoc_unique_violations_total",
				Help: "Total number of writes rejected by a unique index",
			},
		),
		scanned: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edoc_scanned_documents_total",
				Help: "Documents read from the store by cursors, by source",
			},
			[]string{"source"},
		),
	}
}

func (m *metrics) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = KindOf(err).String()
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
