package swarm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet holds the coordinator's exported collectors on a private
// registry so multiple coordinators can coexist in one process.
type metricsSet struct {
	registry      *prometheus.Registry
	agents        prometheus.Gauge
	proposals     *prometheus.CounterVec
	messages      *prometheus.CounterVec
	behaviorExecs *prometheus.CounterVec
	health        prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metricsSet{
		registry: registry,
		agents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmflow",
			Name:      "agents",
			Help:      "Current roster size.",
		}),
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmflow",
			Name:      "consensus_proposals_total",
			Help:      "Consensus proposals by outcome.",
		}, []string{"outcome"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmflow",
			Name:      "messages_total",
			Help:      "Messages published by topic.",
		}, []string{"topic"}),
		behaviorExecs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmflow",
			Name:      "behavior_executions_total",
			Help:      "Behavior executions by name and result.",
		}, []string{"behavior", "result"}),
		health: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmflow",
			Name:      "health",
			Help:      "Derived swarm health scalar in [0,1].",
		}),
	}
}

// MetricsRegistry exposes the coordinator's private prometheus registry for
// scraping.
func (c *Coordinator) MetricsRegistry() *prometheus.Registry {
	return c.metrics.registry
}
