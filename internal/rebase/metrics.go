package rebase

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the rebaser's collectors. They are created unregistered so
// tests and embedders choose their own registry.
type Metrics struct {
	requests    prometheus.Counter
	conflicts   prometheus.Counter
	headRetries prometheus.Counter
	openLoops   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsgraph_rebase_requests_total",
			Help: "Rebase requests submitted.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsgraph_rebase_conflicts_total",
			Help: "Rebase requests that returned conflicts.",
		}),
		headRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsgraph_rebase_head_retries_total",
			Help: "Apply attempts repeated because the head moved.",
		}),
		openLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wsgraph_rebase_open_loops",
			Help: "Apply loops currently running.",
		}),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.conflicts, m.headRetries, m.openLoops} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
