package agentgraph

import (
	"slices"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// CompiledGraph is an immutable, executable graph bound to a checkpoint
// store. It is created by Graph.Compile.
//
// CompiledGraph is safe for concurrent use. Calls on distinct threads run
// in parallel; calls on the same thread are serialized.
type CompiledGraph struct {
	schema   *Schema
	nodes    map[string]*node
	order    []string
	edges    map[string]string
	routers  map[string]*conditional
	entry    string
	store    checkpoint.Store
	defaults runConfig

	locks *registry.Registry[string, *threadLock]
}

type threadLock struct {
	sync.Mutex
}

// lock serializes calls on one thread.
func (cg *CompiledGraph) lock(threadID string) func() {
	l := cg.locks.GetOrCreate(threadID, func() *threadLock { return &threadLock{} })
	l.Lock()
	return l.Unlock
}

// callConfig layers per-call options over the compile-time defaults.
func (cg *CompiledGraph) callConfig(opts []Option) runConfig {
	cfg := cg.defaults
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// EntryPoint returns the entry node.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entry
}

// NodeIDs returns the node names in registration order.
func (cg *CompiledGraph) NodeIDs() []string {
	return slices.Clone(cg.order)
}

// HasNode reports whether name is a node of the graph.
func (cg *CompiledGraph) HasNode(name string) bool {
	_, ok := cg.nodes[name]
	return ok
}

// Successor returns the static edge target of name, if any.
func (cg *CompiledGraph) Successor(name string) (string, bool) {
	to, ok := cg.edges[name]
	return to, ok
}

// IsConditional reports whether name has a router.
func (cg *CompiledGraph) IsConditional(name string) bool {
	_, ok := cg.routers[name]
	return ok
}

// AllowedTargets returns the declared targets of name's router.
func (cg *CompiledGraph) AllowedTargets(name string) []string {
	if c, ok := cg.routers[name]; ok {
		return slices.Clone(c.allowed)
	}
	return nil
}

// IsSuspending reports whether name was registered with AddSuspendingNode.
func (cg *CompiledGraph) IsSuspending(name string) bool {
	n, ok := cg.nodes[name]
	return ok && n.suspending()
}

// Schema returns the state schema.
func (cg *CompiledGraph) Schema() *Schema {
	return cg.schema
}

// Store returns the checkpoint store.
func (cg *CompiledGraph) Store() checkpoint.Store {
	return cg.store
}
