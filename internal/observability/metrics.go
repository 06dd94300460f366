package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and outcome across the Streaming Turn Engine
//   - Model request performance, token usage, and estimated cost
//   - Tool execution patterns and latencies
//   - Compaction Engine passes
//   - RPC command dispatch latency
//   - Error rates categorized by type and component
//   - Session lifetime for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn("completed")
//	defer metrics.ModelRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter tracks completed exchanges by outcome.
	// Labels: outcome (completed|error|aborted)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures one exchange's wall-clock time in seconds.
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	TurnDuration prometheus.Histogram

	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider (anthropic|openai|bedrock|google), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by provider and model.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	ModelTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (tool|session|compaction|rpc), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking currently live Session Controllers
	// in this process.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures a session's lifetime in seconds, from New
	// (or SwitchSession) to Shutdown.
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration prometheus.Histogram

	// RPCCommandDuration measures stdio RPC command dispatch latency.
	// Labels: command, status (ok|error)
	RPCCommandDuration *prometheus.HistogramVec

	// RPCCommandCounter counts RPC commands dispatched.
	// Labels: command, status
	RPCCommandCounter *prometheus.CounterVec

	// CompactionDuration measures a Compaction Engine pass's wall-clock
	// time in seconds.
	// Labels: trigger (auto|manual)
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	CompactionDuration *prometheus.HistogramVec

	// CompactionCounter counts Compaction Engine passes by trigger and
	// outcome.
	// Labels: trigger, status (compacted|noop|error)
	CompactionCounter *prometheus.CounterVec

	// PendingQueueDepth tracks the Pending Action Store's current size.
	PendingQueueDepth prometheus.Gauge

	// SchedulerQueueDepth tracks the Queue & Steering Scheduler's queued
	// message count.
	// Labels: queue (steering|follow_up)
	SchedulerQueueDepth *prometheus.GaugeVec

	// ModelCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	ModelCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per turn.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// SessionStuck counts sessions that entered a degraded state.
	SessionStuck prometheus.Counter

	// RunAttempts counts turn-engine run attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turns_total",
				Help: "Total number of exchanges completed by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_duration_seconds",
				Help:    "Duration of one exchange in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Current number of live Session Controllers in this process",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		RPCCommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_rpc_command_duration_seconds",
				Help:    "Duration of RPC command dispatch in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"command", "status"},
		),

		RPCCommandCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_rpc_commands_total",
				Help: "Total number of RPC commands dispatched",
			},
			[]string{"command", "status"},
		),

		CompactionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_compaction_duration_seconds",
				Help:    "Duration of Compaction Engine passes in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"trigger"},
		),

		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of Compaction Engine passes by trigger and status",
			},
			[]string{"trigger", "status"},
		),

		PendingQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_pending_queue_depth",
				Help: "Current size of the Pending Action Store",
			},
		),

		SchedulerQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentcore_scheduler_queue_depth",
				Help: "Current depth of the Queue & Steering Scheduler's queues",
			},
			[]string{"queue"},
		),

		ModelCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_cost_usd_total",
				Help: "Estimated model API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_tokens",
				Help:    "Context window tokens used per turn",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		SessionStuck: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_session_stuck_total",
				Help: "Number of sessions that entered a degraded state",
			},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_attempts_total",
				Help: "Total number of turn-engine run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordTurn increments the turn counter and observes its duration.
//
// Example:
//
//	metrics.RecordTurn("completed", time.Since(start).Seconds())
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordModelRequest records metrics for a model API request.
//
// Example:
//
//	start := time.Now()
//	// ... make model request ...
//	metrics.RecordModelRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), usage)
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if cacheReadTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "cache_read").Add(float64(cacheReadTokens))
	}
	if cacheWriteTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "cache_write").Add(float64(cacheWriteTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("exec", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("tool", "exec_failed")
//	metrics.RecordError("session", "persistence")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordRPCCommand records metrics for one RPC command dispatch.
//
// Example:
//
//	start := time.Now()
//	// ... dispatch command ...
//	metrics.RecordRPCCommand("prompt", "ok", time.Since(start).Seconds())
func (m *Metrics) RecordRPCCommand(command, status string, durationSeconds float64) {
	m.RPCCommandCounter.WithLabelValues(command, status).Inc()
	m.RPCCommandDuration.WithLabelValues(command, status).Observe(durationSeconds)
}

// RecordCompaction records metrics for one Compaction Engine pass.
//
// Example:
//
//	start := time.Now()
//	// ... run compaction ...
//	metrics.RecordCompaction("auto", "compacted", time.Since(start).Seconds())
func (m *Metrics) RecordCompaction(trigger, status string, durationSeconds float64) {
	m.CompactionCounter.WithLabelValues(trigger, status).Inc()
	m.CompactionDuration.WithLabelValues(trigger).Observe(durationSeconds)
}

// SetPendingQueueDepth sets the Pending Action Store's current size.
func (m *Metrics) SetPendingQueueDepth(depth int) {
	m.PendingQueueDepth.Set(float64(depth))
}

// SetSchedulerQueueDepth sets one of the Scheduler's queue depths.
//
// Example:
//
//	metrics.SetSchedulerQueueDepth("steering", 1)
//	metrics.SetSchedulerQueueDepth("follow_up", 0)
func (m *Metrics) SetSchedulerQueueDepth(queue string, depth int) {
	m.SchedulerQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordModelCost records estimated API cost.
//
// Example:
//
//	metrics.RecordModelCost("anthropic", "claude-3-opus", 0.015)
func (m *Metrics) RecordModelCost(provider, model string, costUSD float64) {
	m.ModelCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
//
// Example:
//
//	metrics.RecordContextWindow("anthropic", "claude-3-opus", 45000)
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordSessionStuck records a session entering a degraded state.
func (m *Metrics) RecordSessionStuck() {
	m.SessionStuck.Inc()
}

// RecordRunAttempt records a turn-engine run attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
