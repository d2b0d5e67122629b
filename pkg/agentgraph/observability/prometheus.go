package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	supersteps     prometheus.Counter
	superstepTasks prometheus.Histogram
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	interrupts     *prometheus.CounterVec
	checkpointSize prometheus.Histogram
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "node_executions_total",
			Help:      "Node executions by node and result.",
		}, []string{"node", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "node_duration_seconds",
			Help:      "Node execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		supersteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "supersteps_total",
			Help:      "Completed supersteps.",
		}),
		superstepTasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "superstep_tasks",
			Help:      "Tasks run per superstep.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "runs_total",
			Help:      "Invoke and Resume calls by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "run_duration_seconds",
			Help:      "Invoke and Resume latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "interrupts_total",
			Help:      "Suspensions by node.",
		}, []string{"node"}),
		checkpointSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "checkpoint_size_bytes",
			Help:      "Serialized checkpoint size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.nodeExecutions, m.nodeDuration, m.supersteps, m.superstepTasks,
		m.runs, m.runDuration, m.interrupts, m.checkpointSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordNodeExecution implements MetricsRecorder.
func (m *PrometheusMetrics) RecordNodeExecution(_ context.Context, nodeID string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.nodeExecutions.WithLabelValues(nodeID, result).Inc()
	m.nodeDuration.WithLabelValues(nodeID).Observe(duration.Seconds())
}

// RecordSuperstep implements MetricsRecorder.
func (m *PrometheusMetrics) RecordSuperstep(_ context.Context, tasks int, _ time.Duration) {
	m.supersteps.Inc()
	m.superstepTasks.Observe(float64(tasks))
}

// RecordRun implements MetricsRecorder.
func (m *PrometheusMetrics) RecordRun(_ context.Context, outcome string, duration time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordInterrupt implements MetricsRecorder.
func (m *PrometheusMetrics) RecordInterrupt(_ context.Context, nodeID string) {
	m.interrupts.WithLabelValues(nodeID).Inc()
}

// RecordCheckpoint implements MetricsRecorder.
func (m *PrometheusMetrics) RecordCheckpoint(_ context.Context, sizeBytes int64) {
	m.checkpointSize.Observe(float64(sizeBytes))
}
