package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Loop metrics
	LoopRunsTotal      *prometheus.CounterVec
	LoopIterations     prometheus.Histogram
	LoopDuration       prometheus.Histogram
	LoopTokensConsumed prometheus.Counter

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ToolRetriesTotal      *prometheus.CounterVec
	CanvasVersion         prometheus.Gauge

	// Budget metrics
	MessagesEvictedTotal    prometheus.Counter
	CompressionsTotal       prometheus.Counter
	BudgetOverflowsTotal    prometheus.Counter

	// Plan metrics
	PlansBuiltTotal     prometheus.Counter
	PlanTasksTotal      *prometheus.CounterVec
	SubagentRunsActive  prometheus.Gauge

	// Provider metrics
	ProviderRequestsTotal  *prometheus.CounterVec
	ProviderFailoversTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry so
// tests can instantiate isolated instances.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		LoopRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loop_runs_total",
				Help: "Total iteration loop runs by terminal state",
			},
			[]string{"state"},
		),
		LoopIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loop_iterations",
				Help:    "Iterations per loop run",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 25},
			},
		),
		LoopDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loop_duration_seconds",
				Help:    "Wall clock duration of loop runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		LoopTokensConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "loop_tokens_consumed_total",
				Help: "Total tokens consumed across loop runs",
			},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_retries_total",
				Help: "Total retried tool attempts by tool",
			},
			[]string{"tool_name"},
		),
		CanvasVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvas_version",
				Help: "Current canvas resource version",
			},
		),

		MessagesEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "budget_messages_evicted_total",
				Help: "Total messages evicted by the context budget manager",
			},
		),
		CompressionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "budget_compressions_total",
				Help: "Total history compressions",
			},
		),
		BudgetOverflowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "budget_overflows_total",
				Help: "Messages admitted over budget as a single-message edge case",
			},
		),

		PlansBuiltTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plans_built_total",
				Help: "Total execution plans built",
			},
		),
		PlanTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plan_tasks_total",
				Help: "Total plan tasks by outcome",
			},
			[]string{"outcome"},
		),
		SubagentRunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subagent_runs_active",
				Help: "Number of currently active sub-agent runs",
			},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Total reasoning service requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		ProviderFailoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_failovers_total",
				Help: "Total failovers to a lower-priority provider profile",
			},
		),
	}

	m.registerMetrics()
	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.LoopRunsTotal)
	m.registry.MustRegister(m.LoopIterations)
	m.registry.MustRegister(m.LoopDuration)
	m.registry.MustRegister(m.LoopTokensConsumed)

	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionDuration)
	m.registry.MustRegister(m.ToolRetriesTotal)
	m.registry.MustRegister(m.CanvasVersion)

	m.registry.MustRegister(m.MessagesEvictedTotal)
	m.registry.MustRegister(m.CompressionsTotal)
	m.registry.MustRegister(m.BudgetOverflowsTotal)

	m.registry.MustRegister(m.PlansBuiltTotal)
	m.registry.MustRegister(m.PlanTasksTotal)
	m.registry.MustRegister(m.SubagentRunsActive)

	m.registry.MustRegister(m.ProviderRequestsTotal)
	m.registry.MustRegister(m.ProviderFailoversTotal)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
