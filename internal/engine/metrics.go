package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for turn execution.
type Metrics struct {
	TurnsTotal   *prometheus.CounterVec
	ActionsTotal *prometheus.CounterVec
	TurnDuration prometheus.Histogram
}

// NewMetrics creates and registers engine metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total dialog turns executed, by outcome.",
		}, []string{"status"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Total actions executed, by kind and outcome.",
		}, []string{"kind", "status"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msaidizi",
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end duration of one dialog turn.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(m.TurnsTotal, m.ActionsTotal, m.TurnDuration)
	return m
}
