package agents

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// ErrUnknownAgent indicates a lookup for a name that was never registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Builder returns a fresh, uncompiled agent graph.
type Builder func() (*agentgraph.Graph, error)

// Entry is a registered agent.
type Entry struct {
	Name        string
	Description string
	Build       Builder
}

// Registry maps agent names to their builders.
type Registry struct {
	entries *registry.Registry[string, Entry]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: registry.New[string, Entry]()}
}

// Register adds an agent. Names must be unique.
func (r *Registry) Register(name, description string, build Builder) error {
	if name == "" || build == nil {
		return fmt.Errorf("register agent %q: name and builder are required", name)
	}
	return r.entries.Add(name, Entry{Name: name, Description: description, Build: build})
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	return r.entries.Get(name)
}

// Names returns the registered names in ascending order.
func (r *Registry) Names() []string {
	return registry.SortedKeys(r.entries)
}

// Build builds the named agent's graph.
func (r *Registry) Build(name string) (*agentgraph.Graph, error) {
	e, ok := r.entries.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	g, err := e.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return g, nil
}
