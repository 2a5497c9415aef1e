package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the orchestrator records. Pass to
// NewOrchestrator so a CLI invocation and a long-running server can share
// one registry.
type Metrics struct {
	AgentRunsTotal   *prometheus.CounterVec
	DelegationsTotal *prometheus.CounterVec
	ToolCallsTotal   *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	AgentsBuilt      prometheus.Gauge
}

// NewMetrics creates and registers every orchestrator metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AgentRunsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "agent_runs_total",
				Help:      "Total agent runs, by agent name and outcome",
			},
			[]string{"agent", "outcome"},
		),
		DelegationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "delegations_total",
				Help:      "Total agent-to-agent delegations, by parent and child agent",
			},
			[]string{"parent", "child"},
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "tool_calls_total",
				Help:      "Total tool calls dispatched, by agent and tool name",
			},
			[]string{"agent", "tool"},
		),
		RunDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aegis",
				Name:      "agent_run_duration_seconds",
				Help:      "Wall-clock duration of one agent run",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		AgentsBuilt: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aegis",
				Name:      "agents_built",
				Help:      "Number of agents currently built and cached by the orchestrator",
			},
		),
	}
}
