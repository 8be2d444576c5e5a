// Package metrics holds the prometheus collectors for index synchronization.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "incremental",
	Name:      "change_events",
}, []string{"type"})

// IndexOperations counts search index writes by operation and result
var IndexOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "index",
	Name:      "operations",
}, []string{"operation", "result"})

var ReindexPages = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "reindex",
	Name:      "pages",
})

var ReindexDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "reindex",
	Name:      "documents",
}, []string{"result"})

var ReindexRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "reindex",
	Name:      "runs",
}, []string{"status"})

// ReindexDuration is the wall time of a whole run in seconds
var ReindexDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "indexsync",
	Subsystem: "reindex",
	Name:      "duration_seconds",
	Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
})

var WorkerTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indexsync",
	Subsystem: "worker",
	Name:      "tasks",
}, []string{"type", "result"})

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ChangeEvents,
		IndexOperations,
		ReindexPages,
		ReindexDocuments,
		ReindexRuns,
		ReindexDuration,
		WorkerTasks,
	}
}

var registerOnce sync.Once

// Register adds the collectors to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(Collectors()...)
	})
}

// ObserveIndexOperation counts one index write.
func ObserveIndexOperation(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	IndexOperations.WithLabelValues(operation, result).Inc()
}
