package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "coordinator",
		Name:      "reconcile_total",
		Help:      "Reconciled (definition, record) pairs by result.",
	}, []string{"definition", "result"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "coordinator",
		Name:      "retries_total",
		Help:      "Retried attempts by operation kind.",
	}, []string{"kind"})

	reconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "txt",
		Subsystem: "coordinator",
		Name:      "reconcile_duration_seconds",
		Help:      "Time to reconcile one (definition, record) pair.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"definition"})

	rowsChangedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "coordinator",
		Name:      "rows_changed_total",
		Help:      "Index rows added or removed.",
	}, []string{"definition", "op"})
)

// Collectors returns the package metrics for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{reconcileTotal, retriesTotal, reconcileDuration, rowsChangedTotal}
}
