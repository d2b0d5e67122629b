package agentgraph

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// Compile validates the graph and binds it to a checkpoint store.
// A nil store means a fresh in-memory store. Options set the defaults for
// every Invoke and Resume; per-call options override them.
//
// Validation checks:
//  1. Builder errors (duplicate nodes, invalid names)
//  2. Entry point is set and exists
//  3. Every edge endpoint, allowed target, and destination exists
//  4. No node has two static edges, two routers, or a static edge and a router
//  5. Every node reachable from the entry has an outgoing transition
//  6. A path from the entry to END exists
//
// All failures are joined together. Unreachable nodes are logged as
// warnings but do not fail compilation.
func (g *Graph) Compile(store checkpoint.Store, opts ...Option) (*CompiledGraph, error) {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	errs := append([]error(nil), g.errs...)

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, ok := g.nodes[g.entryPoint]; !ok {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	errs = append(errs, g.validateEdges()...)

	if len(errs) == 0 {
		errs = append(errs, g.validateReachability()...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes(cfg)

	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	return g.buildCompiledGraph(store, cfg), nil
}

func (g *Graph) validTarget(name string) bool {
	if name == END {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

func (g *Graph) validateEdges() []error {
	var errs []error

	for _, from := range sortedKeys(g.edges) {
		targets := g.edges[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range targets {
			if !g.validTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
		if len(targets) > 1 {
			errs = append(errs, &DuplicateEdgeError{
				From:   from,
				Reason: fmt.Sprintf("%d static edges %v", len(targets), targets),
			})
		}
	}

	for _, from := range sortedKeys(g.conditionals) {
		conds := g.conditionals[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(conds) > 1 {
			errs = append(errs, &DuplicateEdgeError{From: from, Reason: "more than one conditional edge"})
		}
		if len(g.edges[from]) > 0 {
			errs = append(errs, &DuplicateEdgeError{From: from, Reason: "both a static and a conditional edge"})
		}
		for _, c := range conds {
			for _, to := range c.allowed {
				if !g.validTarget(to) {
					errs = append(errs, fmt.Errorf("%w: allowed target '%s' of '%s' does not exist", ErrNodeNotFound, to, from))
				}
			}
		}
	}

	for _, name := range g.order {
		for _, to := range g.nodes[name].destinations {
			if !g.validTarget(to) {
				errs = append(errs, fmt.Errorf("%w: destination '%s' of '%s' does not exist", ErrNodeNotFound, to, name))
			}
		}
	}

	return errs
}

// successorsOf returns the targets a node may transition to, and whether
// the set is open (a router without declared targets can go anywhere).
func (g *Graph) successorsOf(name string) (targets []string, open bool) {
	targets = append(targets, g.edges[name]...)
	targets = append(targets, g.nodes[name].destinations...)
	for _, c := range g.conditionals[name] {
		if len(c.allowed) == 0 {
			open = true
		}
		targets = append(targets, c.allowed...)
	}
	return targets, open
}

func (g *Graph) hasOutgoing(name string) bool {
	return len(g.edges[name]) > 0 || len(g.conditionals[name]) > 0 || len(g.nodes[name].destinations) > 0
}

func (g *Graph) validateReachability() []error {
	var errs []error

	reachable := g.findReachableNodes()
	for _, name := range g.order {
		if reachable[name] && !g.hasOutgoing(name) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, name))
		}
	}

	if !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}
	return errs
}

// hasPathToEnd propagates "can reach END" backwards until it stops
// changing. Routers without declared targets are assumed able to end.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	for changed := true; changed; {
		changed = false
		for _, name := range g.order {
			if canReachEnd[name] {
				continue
			}
			targets, open := g.successorsOf(name)
			if open || slices.ContainsFunc(targets, func(t string) bool { return canReachEnd[t] }) {
				canReachEnd[name] = true
				changed = true
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// findReachableNodes returns the nodes reachable from the entry point.
// An open router reaches every node.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		targets, open := g.successorsOf(current)
		if open {
			targets = g.order
		}
		for _, t := range targets {
			if t != END && !reachable[t] {
				reachable[t] = true
				queue = append(queue, t)
			}
		}
	}
	return reachable
}

func (g *Graph) warnUnreachableNodes(cfg runConfig) {
	reachable := g.findReachableNodes()
	for _, name := range g.order {
		if !reachable[name] {
			cfg.logger.Warn("node is unreachable from entry", "node_id", name)
		}
	}
}

// buildCompiledGraph copies the builder so later builder edits cannot
// affect the compiled graph.
func (g *Graph) buildCompiledGraph(store checkpoint.Store, cfg runConfig) *CompiledGraph {
	nodes := make(map[string]*node, len(g.nodes))
	for name, n := range g.nodes {
		cp := *n
		cp.destinations = append([]string(nil), n.destinations...)
		nodes[name] = &cp
	}

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	routers := make(map[string]*conditional, len(g.conditionals))
	for from, conds := range g.conditionals {
		routers[from] = &conditional{
			router:  conds[0].router,
			allowed: append([]string(nil), conds[0].allowed...),
		}
	}

	return &CompiledGraph{
		schema:   g.schema,
		nodes:    nodes,
		order:    append([]string(nil), g.order...),
		edges:    edges,
		routers:  routers,
		entry:    g.entryPoint,
		store:    store,
		defaults: cfg,
		locks:    registry.New[string, *threadLock](),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
