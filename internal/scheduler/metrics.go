package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the scheduler.
type Metrics struct {
	EntriesFired     prometheus.Counter
	EntriesSucceeded prometheus.Counter
	EntriesFailed    prometheus.Counter
	LeasesReverted   prometheus.Counter
	TickDuration     prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		EntriesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "entries_fired_total",
			Help:      "Total schedule entries claimed and fired.",
		}),
		EntriesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "entries_succeeded_total",
			Help:      "Total schedule entry executions that succeeded.",
		}),
		EntriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "entries_failed_total",
			Help:      "Total schedule entry executions that failed.",
		}),
		LeasesReverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "leases_reverted_total",
			Help:      "Total firing entries returned to pending after lease expiry.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each scheduler tick (poll + fire cycle).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.EntriesFired,
		m.EntriesSucceeded,
		m.EntriesFailed,
		m.LeasesReverted,
		m.TickDuration,
	)

	return m
}
