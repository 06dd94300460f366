// Package observability provides comprehensive monitoring and debugging capabilities
// for the agent session core through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: Minimal performance impact on production systems
//   - Type-safe: Strongly-typed APIs reduce configuration errors
//   - Production-ready: Built-in security (redaction) and reliability features
//   - Standards-based: Uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Turn outcomes and duration
//   - Model request latency, token usage, and cost
//   - Tool execution performance
//   - Compaction passes and their outcome
//   - RPC command latency over the stdio boundary
//   - Error rates by component and type
//   - Active sessions and pending/scheduler queue depth
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	defer prometheus.Handler() // Expose metrics endpoint
//
//	// Track a turn
//	start := time.Now()
//	// ... run the turn ...
//	metrics.RecordTurn("completed", time.Since(start).Seconds())
//
//	// Track model requests
//	start = time.Now()
//	// ... make model request ...
//	metrics.RecordModelRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens)
//
//	// Track tool execution
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("exec", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add context IDs for correlation
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "Running turn",
//	    "turn_index", turnIndex,
//	    "content_length", len(content),
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a turn across components:
//   - End-to-end turn visualization
//   - Performance bottleneck identification
//   - Component dependency mapping
//   - Error correlation across components
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SampleRatio:    0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace a turn
//	ctx, span := tracer.TraceTurn(ctx, sessionID, turnIndex)
//	defer span.End()
//
//	// Trace model requests
//	ctx, modelSpan := tracer.TraceModelRequest(ctx, "anthropic", "claude-3-opus")
//	defer modelSpan.End()
//	tracer.SetAttributes(modelSpan, "input_tokens", 100, "output_tokens", 500)
//
//	// Trace tool execution
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "exec")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
// All three components integrate with Go's context for automatic correlation:
//
//	// Add IDs to context
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddUserID(ctx, "user-789")
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "Running turn") // Includes request_id, session_id, etc.
//
//	// Spans inherit context
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Integration Example
//
// Complete example integrating all three components:
//
//	func RunTurn(ctx context.Context, sessionID string, turnIndex int) error {
//	    // Add correlation IDs
//	    ctx = observability.AddRequestID(ctx, generateID())
//	    ctx = observability.AddSessionID(ctx, sessionID)
//
//	    // Start tracing
//	    ctx, span := tracer.TraceTurn(ctx, sessionID, turnIndex)
//	    defer span.End()
//
//	    // Track metrics
//	    start := time.Now()
//	    defer func() { metrics.RecordTurn("completed", time.Since(start).Seconds()) }()
//
//	    // Structured logging
//	    logger.Info(ctx, "Running turn", "turn_index", turnIndex)
//
//	    // Process model request with full observability
//	    modelStart := time.Now()
//	    ctx, modelSpan := tracer.TraceModelRequest(ctx, "anthropic", "claude-3-opus")
//	    defer modelSpan.End()
//
//	    response, err := client.Complete(ctx, turnIndex)
//	    modelDuration := time.Since(modelStart).Seconds()
//
//	    if err != nil {
//	        metrics.RecordError("turnengine", "model_request_failed")
//	        tracer.RecordError(modelSpan, err)
//	        logger.Error(ctx, "model request failed", "error", err)
//	        metrics.RecordModelRequest("anthropic", "claude-3-opus", "error", modelDuration, 0, 0, 0, 0)
//	        return err
//	    }
//
//	    metrics.RecordModelRequest("anthropic", "claude-3-opus", "success",
//	        modelDuration, response.Usage.Input, response.Usage.Output, 0, 0)
//	    logger.Info(ctx, "model request completed",
//	        "duration_ms", modelDuration*1000,
//	        "output_tokens", response.Usage.Output)
//
//	    return nil
//	}
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
//   - Context propagation is zero-allocation in most cases
//
// Typical overhead:
//   - Metrics: <1% CPU, ~10KB memory per metric
//   - Logging: ~1-5μs per log call
//   - Tracing: ~2-10μs per span (when sampled)
//
// # Configuration
//
// All components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          os.Getenv("LOG_LEVEL"),
//	    Format:         "json",
//	    AddSource:      true,
//	    RedactPatterns: []string{`custom-secret-\d+`},
//	})
//
//	// Tracing - configurable sampling, endpoint, attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentcore",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SampleRatio:    0.1,
//	    Attributes: map[string]string{
//	        "deployment.region": region,
//	        "deployment.cluster": cluster,
//	    },
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Set appropriate sampling rates for high-traffic systems
//  6. Add relevant attributes to spans for debugging
//  7. Use typed metric labels (avoid high-cardinality values)
//  8. Call shutdown() on tracer during graceful shutdown
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Turn throughput
//	rate(agentcore_turns_total[5m])
//
//	# Model request latency (95th percentile)
//	histogram_quantile(0.95, rate(agentcore_model_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(agentcore_errors_total[5m])
//
//	# Active sessions
//	agentcore_active_sessions
//
//	# Tool execution time
//	rate(agentcore_tool_execution_duration_seconds_sum[5m]) /
//	rate(agentcore_tool_execution_duration_seconds_count[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: agentcore_errors_total > threshold
//   - High model latency: p95 latency > 10s
//   - Low turn throughput: rate(agentcore_turns_total) < threshold
//   - Queue buildup: agentcore_scheduler_queue_depth growing unbounded
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
