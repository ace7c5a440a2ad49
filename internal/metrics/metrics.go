// Package metrics exposes the Prometheus counters and histograms emitted
// by the fabric and its protocol adapters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolExecutions counts ExecuteTool calls, labeled by protocol,
	// adapter-local tool name, and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_tool_executions_total",
		Help: "The total number of unified tool executions",
	}, []string{"protocol", "tool", "status"}) // status: success, error

	// ToolExecutionDuration measures ExecuteTool latency end to end,
	// including any ACP poll loop.
	ToolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fabric_tool_execution_duration_seconds",
		Help:    "Time taken to execute a unified tool call",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol", "status"})

	// ServerRegistrations counts RegisterServer calls, labeled by
	// protocol and outcome.
	ServerRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_server_registrations_total",
		Help: "The total number of server registration attempts",
	}, []string{"protocol", "status"}) // status: connected, failed

	// ToolsDiscovered reports the size of each protocol's tool catalog,
	// set after each successful RegisterServer for that protocol.
	ToolsDiscovered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fabric_tools_discovered",
		Help: "Number of unified tools currently known per protocol",
	}, []string{"protocol"})

	// HybridFallbacks counts the number of times a Hybrid adapter latched
	// onto its fallback after the primary returned Unsupported.
	HybridFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_hybrid_fallbacks_total",
		Help: "The total number of hybrid adapters that latched onto their fallback SDK",
	}, []string{"protocol"})

	// CircuitBreakerTrips counts circuit breaker open transitions,
	// labeled by protocol.
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_circuit_breaker_trips_total",
		Help: "The total number of times an adapter's circuit breaker opened",
	}, []string{"protocol"})

	// ACPMessages counts fire-and-forget ACP notifications sent outside
	// the tool-call protocol, labeled by outcome.
	ACPMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_acp_messages_total",
		Help: "The total number of ACP notification messages sent",
	}, []string{"status"}) // status: sent, error
)
