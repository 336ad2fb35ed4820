// Package metrics exposes the on-demand repair core's Prometheus metrics.
// Grounded on pkg/service/scheduler/metrics.go's Namespace/Subsystem/Name
// GaugeVec/CounterVec layout and package-level init() registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	jobActiveCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "repairsched",
		Subsystem: "ondemand",
		Name:      "active_count",
		Help:      "Total number of on-demand repair jobs currently in flight on this host.",
	}, []string{"keyspace", "table"})

	jobRunTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repairsched",
		Subsystem: "ondemand",
		Name:      "run_total",
		Help:      "Total number of on-demand repair jobs that reached a terminal state.",
	}, []string{"keyspace", "table", "status"})

	rangeRepairedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repairsched",
		Subsystem: "ondemand",
		Name:      "range_repaired_total",
		Help:      "Total number of token ranges successfully repaired.",
	}, []string{"keyspace", "table"})

	lockContentionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repairsched",
		Subsystem: "ondemand",
		Name:      "lock_contention_total",
		Help:      "Total number of range lock acquisition attempts that found the lock already held.",
	}, []string{"keyspace", "table"})

	sweepDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repairsched",
		Subsystem: "ondemand",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one periodic ongoing-job sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		jobActiveCount,
		jobRunTotal,
		rangeRepairedTotal,
		lockContentionTotal,
		sweepDurationSeconds,
	)
}

// Hooks is the typed collaborator the scheduler and its jobs report
// progress through, keeping pkg/repair/ondemand and pkg/repair/scheduler
// free of direct Prometheus imports.
type Hooks interface {
	JobStarted(keyspace, table string)
	JobFinished(keyspace, table, status string)
	RangeRepaired(keyspace, table string)
	LockContended(keyspace, table string)
	SweepFinished(seconds float64)
}

// Prometheus is the production Hooks implementation, backed by the package
// metrics registered above.
type Prometheus struct{}

// NewPrometheus returns a Hooks backed by the process's default registry.
func NewPrometheus() Prometheus { return Prometheus{} }

// JobStarted implements Hooks.
func (Prometheus) JobStarted(keyspace, table string) {
	jobActiveCount.With(prometheus.Labels{"keyspace": keyspace, "table": table}).Inc()
}

// JobFinished implements Hooks.
func (Prometheus) JobFinished(keyspace, table, status string) {
	jobActiveCount.With(prometheus.Labels{"keyspace": keyspace, "table": table}).Dec()
	jobRunTotal.With(prometheus.Labels{"keyspace": keyspace, "table": table, "status": status}).Inc()
}

// RangeRepaired implements Hooks.
func (Prometheus) RangeRepaired(keyspace, table string) {
	rangeRepairedTotal.With(prometheus.Labels{"keyspace": keyspace, "table": table}).Inc()
}

// LockContended implements Hooks.
func (Prometheus) LockContended(keyspace, table string) {
	lockContentionTotal.With(prometheus.Labels{"keyspace": keyspace, "table": table}).Inc()
}

// SweepFinished implements Hooks.
func (Prometheus) SweepFinished(seconds float64) {
	sweepDurationSeconds.Observe(seconds)
}

// Nop is a Hooks implementation that discards everything, used by tests and
// callers that don't want Prometheus registered.
type Nop struct{}

// JobStarted implements Hooks.
func (Nop) JobStarted(string, string) {}

// JobFinished implements Hooks.
func (Nop) JobFinished(string, string, string) {}

// RangeRepaired implements Hooks.
func (Nop) RangeRepaired(string, string) {}

// LockContended implements Hooks.
func (Nop) LockContended(string, string) {}

// SweepFinished implements Hooks.
func (Nop) SweepFinished(float64) {}
