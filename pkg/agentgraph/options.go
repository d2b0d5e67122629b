package agentgraph

import (
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// DefaultMaxSteps is the superstep limit of a single Invoke or Resume.
const DefaultMaxSteps = 100

// runConfig holds the services and limits of a run.
type runConfig struct {
	name           string
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	maxSteps       int
	maxConcurrency int
	model          llm.Client
	memory         memory.Store
	config         config.Config
}

func defaultRunConfig() runConfig {
	return runConfig{
		name:     "agentgraph",
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		maxSteps: DefaultMaxSteps,
		config:   config.New(nil),
	}
}

// Option configures a run. Options passed to Compile become the defaults
// of every call; options passed to Invoke or Resume override them for that
// call only.
type Option func(*runConfig)

// WithName names the graph in traces.
func WithName(name string) Option {
	return func(c *runConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets the logger. Nodes receive it enriched with thread_id,
// node_id, and step.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager enables tracing through sm.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *runConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithMaxSteps sets the superstep limit. Default: DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithMaxConcurrency bounds how many tasks of one superstep run at once.
// Zero, the default, means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(c *runConfig) {
		if n >= 0 {
			c.maxConcurrency = n
		}
	}
}

// WithModel injects the model client nodes obtain from Context.Model.
func WithModel(client llm.Client) Option {
	return func(c *runConfig) { c.model = client }
}

// WithStore injects the long-term memory store nodes obtain from
// Context.Store.
func WithStore(store memory.Store) Option {
	return func(c *runConfig) { c.memory = store }
}

// WithConfig sets the run configuration, such as "user_id". Values merge
// over configuration given to Compile.
func WithConfig(values map[string]any) Option {
	return func(c *runConfig) {
		c.config = c.config.Merge(config.New(values))
	}
}
