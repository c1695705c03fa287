// Package metrics provides Prometheus metrics for the policy agent.
//
// All Record methods are safe on a nil *Metrics so components can be built
// without a collector in tests and CLI runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	TokensTotal        *prometheus.CounterVec
	ToolCallsTotal     *prometheus.CounterVec
	FactChecksTotal    *prometheus.CounterVec
	ResolverDecisions  *prometheus.CounterVec
	GitHubTokensMinted prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_requests_total",
				Help: "HTTP API requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policy_agent_request_duration_seconds",
				Help:    "HTTP API request duration by route.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),
		CompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_completions_total",
				Help: "Completion provider calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		CompletionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policy_agent_completion_duration_seconds",
				Help:    "Completion provider latency by provider.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
			[]string{"provider"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_llm_tokens_total",
				Help: "Tokens consumed by provider and direction (input/output).",
			},
			[]string{"provider", "direction"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_tool_calls_total",
				Help: "Tool invocations by tool name and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		FactChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_factchecks_total",
				Help: "Fact-check runs by result code.",
			},
			[]string{"code"},
		),
		ResolverDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_resolver_decisions_total",
				Help: "Target-file decisions by source (rules, filename, fallback).",
			},
			[]string{"source"},
		),
		GitHubTokensMinted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_agent_github_tokens_minted_total",
				Help: "GitHub App installation tokens minted.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_agent_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CompletionsTotal,
		m.CompletionDuration,
		m.TokensTotal,
		m.ToolCallsTotal,
		m.FactChecksTotal,
		m.ResolverDecisions,
		m.GitHubTokensMinted,
		m.ErrorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest counts an API request and observes its duration.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordCompletion counts one provider call.
func (m *Metrics) RecordCompletion(provider, outcome string, seconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(provider, outcome).Inc()
	m.CompletionDuration.WithLabelValues(provider).Observe(seconds)
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordFactCheck counts a fact-check run by its result code ("OK" on success).
func (m *Metrics) RecordFactCheck(code string) {
	if m == nil {
		return
	}
	m.FactChecksTotal.WithLabelValues(code).Inc()
}

// RecordResolverDecision counts a target-file decision.
func (m *Metrics) RecordResolverDecision(source string) {
	if m == nil {
		return
	}
	m.ResolverDecisions.WithLabelValues(source).Inc()
}

// RecordTokenMinted counts a freshly minted installation token.
func (m *Metrics) RecordTokenMinted() {
	if m == nil {
		return
	}
	m.GitHubTokensMinted.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
