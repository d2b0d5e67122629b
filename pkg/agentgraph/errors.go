package agentgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry was not called before Compile.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidNodeName indicates an empty, reserved, or whitespace name.
	ErrInvalidNodeName = errors.New("invalid node name")

	// ErrNoOutgoingEdge indicates a reachable node has nowhere to go.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")

	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrDuplicateEdge indicates ambiguous outgoing edges for a node.
	ErrDuplicateEdge = errors.New("duplicate edge")
)

// Sentinel errors for execution.
var (
	// ErrStateShape indicates a value incompatible with its field declaration.
	ErrStateShape = errors.New("state shape mismatch")

	// ErrRouting indicates a router or Goto chose an undeclared target.
	ErrRouting = errors.New("routing error")

	// ErrResumeRequired indicates a suspended thread was invoked without a resume value.
	ErrResumeRequired = errors.New("thread is suspended; resume value required")

	// ErrMaxSteps indicates the run exceeded the configured superstep limit.
	ErrMaxSteps = errors.New("exceeded maximum steps")

	// ErrThreadNotFound indicates Resume or State on a thread with no checkpoint.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadIDRequired indicates an empty thread id.
	ErrThreadIDRequired = errors.New("thread id required")

	// ErrNilContext indicates Invoke or Resume was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")
)

// Sentinel errors for checkpointing.
var (
	// ErrSerializeState indicates state serialization failed.
	ErrSerializeState = errors.New("failed to serialize state")

	// ErrDeserializeState indicates state deserialization failed.
	ErrDeserializeState = errors.New("failed to deserialize state")
)

// DuplicateNodeError reports a node name registered more than once.
type DuplicateNodeError struct {
	Node string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node: %s", e.Node)
}

// Unwrap returns ErrDuplicateNode.
func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

// DuplicateEdgeError reports a node whose outgoing edges are ambiguous:
// two static edges, or a static and a conditional edge.
type DuplicateEdgeError struct {
	From   string
	Reason string
}

func (e *DuplicateEdgeError) Error() string {
	return fmt.Sprintf("duplicate edge from %s: %s", e.From, e.Reason)
}

// Unwrap returns ErrDuplicateEdge.
func (e *DuplicateEdgeError) Unwrap() error { return ErrDuplicateEdge }

// StateShapeError reports a value that does not fit its field.
type StateShapeError struct {
	ThreadID string
	Node     string
	Field    string
	Want     string
	Got      string
	Reason   string
}

func (e *StateShapeError) Error() string {
	msg := fmt.Sprintf("state field %s: want %s, got %s", e.Field, e.Want, e.Got)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Node != "" {
		msg = fmt.Sprintf("node %s: %s", e.Node, msg)
	}
	return msg
}

// Unwrap returns ErrStateShape.
func (e *StateShapeError) Unwrap() error { return ErrStateShape }

// RoutingError reports a routing decision outside the declared targets,
// or a router that failed to decide.
type RoutingError struct {
	ThreadID string
	// From is the node whose outgoing transition failed.
	From string
	// Target is the offending target, if any.
	Target string
	// Allowed lists the declared targets, if any.
	Allowed []string
	// Err is the router's own error, if it returned one.
	Err error
}

func (e *RoutingError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("routing from %s: %v", e.From, e.Err)
	case len(e.Allowed) > 0:
		return fmt.Sprintf("routing from %s: target %q not in %v", e.From, e.Target, e.Allowed)
	default:
		return fmt.Sprintf("routing from %s: unknown target %q", e.From, e.Target)
	}
}

// Is matches ErrRouting.
func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// Unwrap returns the router's error.
func (e *RoutingError) Unwrap() error { return e.Err }

// ResumeRequiredError reports an Invoke on a suspended thread, or a Resume
// without a value.
type ResumeRequiredError struct {
	ThreadID string
	Node     string
}

func (e *ResumeRequiredError) Error() string {
	return fmt.Sprintf("thread %s is suspended at %s: resume value required", e.ThreadID, e.Node)
}

// Unwrap returns ErrResumeRequired.
func (e *ResumeRequiredError) Unwrap() error { return ErrResumeRequired }

// NodeError wraps an error returned by a node.
type NodeError struct {
	ThreadID string
	// NodeID is the node that failed.
	NodeID string
	// Op is "execute", "prepare", or "resume".
	Op string
	// Err is the underlying error from the node.
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error { return e.Err }

// PanicError captures a panic raised inside a node or router.
type PanicError struct {
	ThreadID string
	NodeID   string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	ThreadID string
	Step     int
	// Op is the operation that failed ("load", "save", "encode", "decode").
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s for thread %s at step %d: %v", e.Op, e.ThreadID, e.Step, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error { return e.Err }

// MaxStepsError reports a run that hit the superstep limit. The last
// checkpoint is intact, so a later Invoke continues from it.
type MaxStepsError struct {
	ThreadID string
	Max      int
	// Next lists the nodes that would have run.
	Next []string
}

func (e *MaxStepsError) Error() string {
	return fmt.Sprintf("thread %s exceeded maximum steps (%d), next %v", e.ThreadID, e.Max, e.Next)
}

// Unwrap returns ErrMaxSteps.
func (e *MaxStepsError) Unwrap() error { return ErrMaxSteps }

// CancellationError reports a context cancelled between supersteps.
type CancellationError struct {
	ThreadID string
	// Next lists the nodes that were about to run.
	Next []string
	// Step is the last checkpointed step.
	Step int
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("thread %s cancelled before step %d: %v", e.ThreadID, e.Step+1, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CancellationError) Unwrap() error { return e.Cause }
