package agentgraph

import (
	"fmt"
	"strings"
)

// Graph is a mutable builder for an agent graph.
// Create one with NewGraph, chain AddNode, AddEdge, and SetEntry, then call
// Compile to get an immutable CompiledGraph.
//
// Builder mistakes (duplicate nodes, bad names) are collected and returned
// by Compile rather than panicking. Graph is not safe for concurrent use.
//
//	graph := agentgraph.NewGraph(schema).
//	    AddNode("call_llm", callLLM).
//	    AddNode("web_search_tool", search).
//	    AddConditionalEdge("call_llm", routeAfterLLM, "web_search_tool", agentgraph.END).
//	    AddEdge("web_search_tool", "call_llm").
//	    SetEntry("call_llm")
//
//	compiled, err := graph.Compile(store)
type Graph struct {
	schema       *Schema
	nodes        map[string]*node
	order        []string
	edges        map[string][]string
	conditionals map[string][]*conditional
	entryPoint   string
	errs         []error
}

type conditional struct {
	router  RouterFunc
	allowed []string
}

// NewGraph creates a builder whose state follows schema. A nil schema
// treats every field as replace.
func NewGraph(schema *Schema) *Graph {
	return &Graph{
		schema:       schema,
		nodes:        make(map[string]*node),
		edges:        make(map[string][]string),
		conditionals: make(map[string][]*conditional),
	}
}

// AddNode registers a plain node.
func (g *Graph) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Graph {
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("%w: node %s has a nil function", ErrInvalidNodeName, name))
		return g
	}
	return g.add(&node{name: name, fn: fn}, opts)
}

// AddSuspendingNode registers a two-phase node. Each time it runs, prepare
// produces an interrupt payload and the thread suspends; Resume later calls
// resume with the payload and the caller's value.
func (g *Graph) AddSuspendingNode(name string, prepare PrepareFunc, resume ResumeFunc, opts ...NodeOption) *Graph {
	if prepare == nil || resume == nil {
		g.errs = append(g.errs, fmt.Errorf("%w: suspending node %s needs prepare and resume", ErrInvalidNodeName, name))
		return g
	}
	return g.add(&node{name: name, prepare: prepare, resume: resume}, opts)
}

func (g *Graph) add(n *node, opts []NodeOption) *Graph {
	if err := validateNodeName(n.name); err != nil {
		g.errs = append(g.errs, err)
		return g
	}
	if _, exists := g.nodes[n.name]; exists {
		g.errs = append(g.errs, &DuplicateNodeError{Node: n.name})
		return g
	}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[n.name] = n
	g.order = append(g.order, n.name)
	return g
}

func validateNodeName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidNodeName)
	case strings.EqualFold(name, "end") || name == END:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidNodeName, name)
	case strings.ContainsAny(name, " \t\n\r"):
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidNodeName, name)
	}
	return nil
}

// AddEdge adds a static edge. The target may be END.
// Edges are validated at Compile time, so they can be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a router deciding where from goes next. When
// allowed is non-empty, every decision is checked against it; this is
// also how fan-out targets are declared.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, allowed ...string) *Graph {
	if router == nil {
		g.errs = append(g.errs, fmt.Errorf("%w: nil router on %s", ErrInvalidNodeName, from))
		return g
	}
	g.conditionals[from] = append(g.conditionals[from], &conditional{
		router:  router,
		allowed: append([]string(nil), allowed...),
	})
	return g
}

// SetEntry designates the node every fresh run starts at.
func (g *Graph) SetEntry(name string) *Graph {
	g.entryPoint = name
	return g
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *Schema {
	return g.schema
}
