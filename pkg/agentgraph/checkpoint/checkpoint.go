package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Source records what produced a checkpoint.
type Source string

// Checkpoint sources.
const (
	SourceInput  Source = "input"  // caller input merged, nothing run yet
	SourceLoop   Source = "loop"   // a superstep completed
	SourceResume Source = "resume" // a suspended node finished after resume
)

// Checkpoint is the persisted snapshot of a thread.
// It contains everything needed to continue execution: the merged state,
// the tasks of the next superstep, and a pending interrupt if any.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	Step      int       `json:"step"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State json.RawMessage `json:"state"`
	Next  []Task          `json:"next,omitempty"`

	// Deferred holds tasks that must run after the suspended task completes.
	Deferred []Task `json:"deferred,omitempty"`

	// Interrupt is set while a node waits for a resume value.
	Interrupt *Interrupt `json:"interrupt,omitempty"`
}

// Task is one scheduled node execution. Input is set for fan-out tasks
// and overlays the shared state for that branch only.
type Task struct {
	Node  string          `json:"node"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Interrupt is the payload a suspended node handed to the caller.
type Interrupt struct {
	Node      string          `json:"node"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// New creates a checkpoint for a thread at a step. State must already be
// JSON-serialized.
func New(threadID string, step int, source Source, state []byte) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Step:      step,
		Source:    source,
		Timestamp: time.Now().UTC(),
		State:     state,
	}
}

// WithNext sets the tasks of the next superstep.
func (c *Checkpoint) WithNext(tasks []Task) *Checkpoint {
	c.Next = tasks
	return c
}

// WithDeferred sets the tasks queued behind an interrupt.
func (c *Checkpoint) WithDeferred(tasks []Task) *Checkpoint {
	c.Deferred = tasks
	return c
}

// WithInterrupt marks the checkpoint as suspended at node.
func (c *Checkpoint) WithInterrupt(node string, payload []byte) *Checkpoint {
	c.Interrupt = &Interrupt{
		Node:      node,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	return c
}

// NextNodes returns the node names of the next superstep in order.
func (c *Checkpoint) NextNodes() []string {
	names := make([]string, len(c.Next))
	for i, t := range c.Next {
		names[i] = t.Node
	}
	return names
}

// Pending reports whether an interrupt awaits a resume value.
func (c *Checkpoint) Pending() bool {
	return c.Interrupt != nil
}

// Done reports whether the thread has nothing left to run.
func (c *Checkpoint) Done() bool {
	return c.Interrupt == nil && len(c.Next) == 0 && len(c.Deferred) == 0
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON and checks its version.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, c.Version, Version)
	}
	return &c, nil
}
