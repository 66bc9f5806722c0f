package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects gateway metrics:
//   - turn throughput and outcome
//   - per-stage latency
//   - provider latency, failures, and failovers
//   - cache and decision-cache hit ratios
//   - token usage and computed cost
type Metrics struct {
	// TurnCounter counts turns by outcome.
	// Labels: outcome (stop|tool_calls|length|error|canceled|busy)
	TurnCounter *prometheus.CounterVec

	// StageDuration measures per-stage latency in seconds.
	// Labels: stage, status (ok|warn|error)
	StageDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderFailovers counts failover transitions.
	// Labels: from, to
	ProviderFailovers *prometheus.CounterVec

	// CacheOps counts cache operations.
	// Labels: surface (context|memory|decision|model_response), result (hit|miss|error)
	CacheOps *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// TurnCost tracks computed USD cost per turn.
	// Labels: provider, model
	TurnCost *prometheus.CounterVec

	// ToolExecutions counts MCP tool invocations.
	// Labels: server, status (success|error|denied)
	ToolExecutions *prometheus.CounterVec
}

// NewMetrics creates gateway metrics registered on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		TurnCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_turns_total",
			Help: "Turns processed by outcome",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_stage_duration_seconds",
			Help:    "Pipeline stage latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"stage", "status"}),
		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_provider_request_duration_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		ProviderRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_provider_requests_total",
			Help: "Provider calls by status",
		}, []string{"provider", "model", "status"}),
		ProviderFailovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_provider_failovers_total",
			Help: "Failover transitions between providers",
		}, []string{"from", "to"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_cache_ops_total",
			Help: "Cache operations by surface and result",
		}, []string{"surface", "result"}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tokens_total",
			Help: "Token consumption",
		}, []string{"provider", "model", "type"}),
		TurnCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_turn_cost_usd_total",
			Help: "Computed turn cost in USD",
		}, []string{"provider", "model"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tool_executions_total",
			Help: "MCP tool executions by status",
		}, []string{"server", "status"}),
	}

	factory(m.TurnCounter)
	factory(m.StageDuration)
	factory(m.ProviderRequestDuration)
	factory(m.ProviderRequestCounter)
	factory(m.ProviderFailovers)
	factory(m.CacheOps)
	factory(m.TokensUsed)
	factory(m.TurnCost)
	factory(m.ToolExecutions)

	return m
}
