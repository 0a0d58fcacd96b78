// Package telemetry exposes prometheus counters for both services.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters a service increments. Register once per
// process via New and inject.
type Metrics struct {
	RunsStarted        prometheus.Counter
	RunsCompleted      prometheus.Counter
	RunsFailed         prometheus.Counter
	StagesCompleted    *prometheus.CounterVec
	LLMCalls           prometheus.Counter
	SearchCalls        prometheus.Counter
	ToolCalls          prometheus.Counter
	ToolErrors         prometheus.Counter
	DroppedSubscribers prometheus.Counter
}

// New builds the metric set and registers it with reg. Pass
// prometheus.DefaultRegisterer in main; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_runs_started_total",
			Help: "Research runs accepted via webhook.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_runs_completed_total",
			Help: "Research runs that reached the done state.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_runs_failed_total",
			Help: "Research runs that terminated in the failed state.",
		}),
		StagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicedesk_pipeline_stages_completed_total",
			Help: "Completed pipeline stages by name.",
		}, []string{"stage"}),
		LLMCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_llm_calls_total",
			Help: "Chat-completion requests sent to the inference service.",
		}),
		SearchCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_search_calls_total",
			Help: "Queries sent to the search collaborator.",
		}),
		ToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_tool_calls_total",
			Help: "Tool invocations executed against the workspace session.",
		}),
		ToolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_tool_errors_total",
			Help: "Tool invocations that were rejected or failed.",
		}),
		DroppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicedesk_dropped_subscribers_total",
			Help: "Dashboard subscribers pruned after a failed write.",
		}),
	}
	reg.MustRegister(
		m.RunsStarted, m.RunsCompleted, m.RunsFailed, m.StagesCompleted,
		m.LLMCalls, m.SearchCalls, m.ToolCalls, m.ToolErrors,
		m.DroppedSubscribers,
	)
	return m
}

// NewNop returns an unregistered metric set for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
