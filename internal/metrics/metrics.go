// Package metrics exposes runtime counters for the web facade's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the runtime's Prometheus collectors.
type Registry struct {
	Registry *prometheus.Registry

	TicksTotal      prometheus.Counter
	CyclesTotal     *prometheus.CounterVec
	TasksCompleted  prometheus.Counter
	TasksBlocked    prometheus.Counter
	TasksPaused     prometheus.Counter
	CuriosityTotal  *prometheus.CounterVec
	LLMCallFailures prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		Registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tooey_ticks_total",
			Help: "Agent ticks executed.",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tooey_cycles_total",
			Help: "Reasoning cycles committed, by decision.",
		}, []string{"decision"}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tooey_tasks_completed_total",
			Help: "Tasks completed.",
		}),
		TasksBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tooey_tasks_blocked_total",
			Help: "Tasks blocked.",
		}),
		TasksPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tooey_tasks_paused_total",
			Help: "Tasks paused (budget, stuck, or user question).",
		}),
		CuriosityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tooey_curiosity_proposals_total",
			Help: "Curiosity proposals processed, by verdict.",
		}, []string{"verdict"}),
		LLMCallFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tooey_llm_failures_total",
			Help: "Model calls that failed after retries.",
		}),
	}
	reg.MustRegister(
		m.TicksTotal, m.CyclesTotal,
		m.TasksCompleted, m.TasksBlocked, m.TasksPaused,
		m.CuriosityTotal, m.LLMCallFailures,
	)
	return m
}
