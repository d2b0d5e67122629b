package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Run outcomes reported to RecordRun.
const (
	OutcomeCompleted = "completed"
	OutcomeSuspended = "suspended"
	OutcomeFailed    = "failed"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder for OTel, NewPrometheusMetrics for Prometheus, or
// NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records one task run with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordSuperstep records one barrier-synchronized round of tasks.
	RecordSuperstep(ctx context.Context, tasks int, duration time.Duration)

	// RecordRun records the end of an Invoke or Resume call.
	RecordRun(ctx context.Context, outcome string, duration time.Duration)

	// RecordInterrupt records a node suspending its thread.
	RecordInterrupt(ctx context.Context, nodeID string)

	// RecordCheckpoint records a checkpoint save.
	RecordCheckpoint(ctx context.Context, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	supersteps     metric.Int64Counter
	superstepTasks metric.Int64Histogram
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	interrupts     metric.Int64Counter
	checkpointSize metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("agentgraph")
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("agentgraph.node.executions",
		metric.WithDescription("Number of node executions")); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("agentgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.nodeErrors, err = meter.Int64Counter("agentgraph.node.errors",
		metric.WithDescription("Number of node execution errors")); err != nil {
		return nil, err
	}
	if m.supersteps, err = meter.Int64Counter("agentgraph.supersteps",
		metric.WithDescription("Number of completed supersteps")); err != nil {
		return nil, err
	}
	if m.superstepTasks, err = meter.Int64Histogram("agentgraph.superstep.tasks",
		metric.WithDescription("Tasks run per superstep")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("agentgraph.runs",
		metric.WithDescription("Number of Invoke and Resume calls by outcome")); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("agentgraph.run.latency_ms",
		metric.WithDescription("Run latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.interrupts, err = meter.Int64Counter("agentgraph.interrupts",
		metric.WithDescription("Number of suspensions")); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("agentgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails it returns a no-op recorder.
//
// Configure the provider first:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordSuperstep(ctx context.Context, tasks int, _ time.Duration) {
	m.supersteps.Add(ctx, 1)
	m.superstepTasks.Record(ctx, int64(tasks))
}

func (m *otelMetrics) RecordRun(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordInterrupt(ctx context.Context, nodeID string) {
	m.interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes)
}
