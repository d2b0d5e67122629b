package agentgraph

import (
	"encoding/json"
	"time"
)

// END is the terminal node identifier.
// Use it as an edge or route target to finish the thread.
const END = "__end__"

// NodeFunc is the signature of a plain node.
//
// A node receives an independent copy of the state and returns a Command:
// usually Update with the fields it changed.
//
//	func greet(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
//	    return agentgraph.Update(agentgraph.State{"greeting": "hi"}), nil
//	}
type NodeFunc func(ctx Context, s State) (Command, error)

// PrepareFunc is the pre-suspend phase of a suspending node. Its payload is
// checkpointed and returned to the caller as the interrupt.
type PrepareFunc func(ctx Context, s State) (any, error)

// ResumeFunc is the post-suspend phase of a suspending node. It receives the
// saved interrupt and the caller's resume value and decides what happens
// next.
type ResumeFunc func(ctx Context, s State, intr Interrupt, value any) (Command, error)

// CommandKind tags a Command.
type CommandKind int

// Command kinds.
const (
	CommandUpdate CommandKind = iota
	CommandGoto
	CommandSuspend
)

// Command is what a node hands back to the engine.
type Command struct {
	Kind CommandKind
	// Update is the partial state to merge. Used by Update and Goto.
	Update State
	// Target overrides edge lookup. Used by Goto.
	Target string
	// Payload is returned to the caller. Used by Suspend.
	Payload any
}

// Update merges delta and follows the node's edges.
func Update(delta State) Command {
	return Command{Kind: CommandUpdate, Update: delta}
}

// Goto merges delta and continues at target, bypassing edge lookup.
func Goto(target string, delta State) Command {
	return Command{Kind: CommandGoto, Target: target, Update: delta}
}

// Suspend pauses the thread and hands payload to the caller.
//
// When a plain node suspends, the resume value must be a State (or a
// map[string]any); it is merged as the node's update and the node's edges
// are followed. Nodes that need to interpret the value use
// AddSuspendingNode instead.
func Suspend(payload any) Command {
	return Command{Kind: CommandSuspend, Payload: payload}
}

// Interrupt is a pending suspension as seen by callers and resume phases.
type Interrupt struct {
	// Node is the suspended node.
	Node string `json:"node"`
	// Payload is the JSON-encoded payload of the pre-suspend phase.
	Payload json.RawMessage `json:"payload"`
	// Step is the checkpoint step that recorded the suspension.
	Step int `json:"step"`
	// CreatedAt is when the node suspended.
	CreatedAt time.Time `json:"created_at"`
}

// Decode unmarshals the payload into out.
func (i Interrupt) Decode(out any) error {
	return json.Unmarshal(i.Payload, out)
}

// RouteKind tags a Route.
type RouteKind int

// Route kinds.
const (
	RouteTo RouteKind = iota
	RouteEnd
	RouteFanout
)

// Route is a router's decision.
type Route struct {
	Kind    RouteKind
	Targets []string
	Sends   []Send
}

// Send spawns one branch of a fan-out. The branch's node sees the parent
// state with Input's keys replaced.
type Send struct {
	Node  string
	Input State
}

// To routes to a single node.
func To(target string) Route {
	return Route{Kind: RouteTo, Targets: []string{target}}
}

// ToMany routes to several nodes that run together in the next superstep.
func ToMany(targets ...string) Route {
	return Route{Kind: RouteTo, Targets: targets}
}

// End finishes this path of the thread.
func End() Route {
	return Route{Kind: RouteEnd}
}

// Fanout spawns one task per send. Zero sends finish this path.
func Fanout(sends ...Send) Route {
	return Route{Kind: RouteFanout, Sends: sends}
}

// RouterFunc decides a conditional edge from the post-merge state.
// Returning an error fails the run with a RoutingError.
type RouterFunc func(ctx Context, s State) (Route, error)

// node is a registered node.
type node struct {
	name         string
	fn           NodeFunc
	prepare      PrepareFunc
	resume       ResumeFunc
	destinations []string
}

func (n *node) suspending() bool {
	return n.prepare != nil
}

// NodeOption configures a node.
type NodeOption func(*node)

// WithDestinations declares the targets a node may Goto. Compile treats
// them as outgoing edges, and a Goto elsewhere fails with a RoutingError.
func WithDestinations(targets ...string) NodeOption {
	return func(n *node) {
		n.destinations = append(n.destinations, targets...)
	}
}
