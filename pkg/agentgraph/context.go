package agentgraph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// Context is what nodes and routers receive. It extends context.Context
// with the run's injected services and position.
type Context interface {
	context.Context

	// Logger returns the run logger enriched with thread_id, node_id, and step.
	// Never nil.
	Logger() *slog.Logger

	// Model returns the injected model client, or nil if none was configured.
	Model() llm.Client

	// Store returns the long-term memory store, or nil if none was configured.
	Store() memory.Store

	// Config returns the run configuration.
	Config() config.Config

	// ThreadID returns the thread being run.
	ThreadID() string

	// NodeID returns the node being run. Routers see the node they route from.
	NodeID() string

	// Step returns the superstep number being computed.
	Step() int
}

type executionContext struct {
	context.Context

	logger   *slog.Logger
	model    llm.Client
	store    memory.Store
	config   config.Config
	threadID string
	nodeID   string
	step     int
}

func (c *executionContext) Logger() *slog.Logger  { return c.logger }
func (c *executionContext) Model() llm.Client     { return c.model }
func (c *executionContext) Store() memory.Store   { return c.store }
func (c *executionContext) Config() config.Config { return c.config }
func (c *executionContext) ThreadID() string      { return c.threadID }
func (c *executionContext) NodeID() string        { return c.nodeID }
func (c *executionContext) Step() int             { return c.step }

// NewContext builds a Context outside a run, for calling nodes and routers
// directly in tests.
//
//	ctx := agentgraph.NewContext(context.Background(), "thread-1",
//	    agentgraph.WithModel(llm.NewMockClient("hi")))
//	cmd, err := callLLM(ctx, state)
func NewContext(ctx context.Context, threadID string, opts ...Option) Context {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newExecutionContext(ctx, threadID, cfg)
}

func newExecutionContext(ctx context.Context, threadID string, cfg runConfig) *executionContext {
	return &executionContext{
		Context:  ctx,
		logger:   cfg.logger,
		model:    cfg.model,
		store:    cfg.memory,
		config:   cfg.config,
		threadID: threadID,
	}
}

// forNode derives the context of one task.
func (c *executionContext) forNode(ctx context.Context, nodeID string, step int) *executionContext {
	return &executionContext{
		Context:  ctx,
		logger:   observability.EnrichLogger(c.logger, c.threadID, nodeID, step),
		model:    c.model,
		store:    c.store,
		config:   c.config,
		threadID: c.threadID,
		nodeID:   nodeID,
		step:     step,
	}
}
