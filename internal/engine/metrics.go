package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric definitions and registration mirror the teacher's
// pkg/metrics/metrics.go Namespace/Subsystem/CounterVec style, generalized
// from HTTP/function/automation subsystems to one subprocess subsystem
// (spec.md §4.6 expansion).
var (
	subprocessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glubean",
			Subsystem: "executor",
			Name:      "subprocess_total",
			Help:      "Total harness subprocess invocations grouped by outcome.",
		},
		[]string{"outcome"},
	)

	subprocessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "glubean",
			Subsystem: "executor",
			Name:      "subprocess_duration_seconds",
			Help:      "Wall-clock duration of one harness subprocess invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(subprocessTotal, subprocessDuration)
}
