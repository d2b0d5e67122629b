package agentgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// Status is the state of a thread after a call returns.
type Status string

// Thread statuses.
const (
	// StatusRunning means the thread has scheduled work but is not
	// executing it, e.g. after a failure or cancellation. Invoke continues it.
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of Invoke or Resume.
type Result struct {
	ThreadID string
	// State is the final state, or the last checkpointed state on failure.
	State  State
	Status Status
	// Interrupt is set when Status is StatusSuspended.
	Interrupt *Interrupt
	// Step is the last checkpointed step.
	Step int
}

// Snapshot is the decoded checkpoint of a thread.
type Snapshot struct {
	ThreadID  string
	State     State
	Status    Status
	Next      []string
	Interrupt *Interrupt
	Step      int
	UpdatedAt time.Time
}

// Invoke runs a thread with input merged into its state.
//
// A new thread starts at the entry point. A thread with scheduled work
// (after a failure, cancellation, or MaxStepsError) continues it. A
// completed thread starts again at the entry point with its accumulated
// state. A suspended thread fails with *ResumeRequiredError.
//
// On error the returned Result, when non-nil, holds the last checkpointed
// state.
func (cg *CompiledGraph) Invoke(ctx context.Context, threadID string, input State, opts ...Option) (*Result, error) {
	if err := checkCall(ctx, threadID); err != nil {
		return nil, err
	}
	unlock := cg.lock(threadID)
	defer unlock()

	r := cg.newRun(ctx, threadID, "invoke", opts)
	return r.finish(r.invoke(input))
}

// Resume continues a suspended thread with the caller's value.
//
// The suspended node's resume phase receives value; its command is merged
// and the thread steps on. A nil value on a suspended thread fails with
// *ResumeRequiredError. Resuming a thread with no pending interrupt
// restarts stepping from its checkpoint and ignores value.
func (cg *CompiledGraph) Resume(ctx context.Context, threadID string, value any, opts ...Option) (*Result, error) {
	if err := checkCall(ctx, threadID); err != nil {
		return nil, err
	}
	unlock := cg.lock(threadID)
	defer unlock()

	r := cg.newRun(ctx, threadID, "resume", opts)
	return r.finish(r.resume(value))
}

// State returns the thread's latest checkpoint, decoded.
func (cg *CompiledGraph) State(ctx context.Context, threadID string) (*Snapshot, error) {
	if err := checkCall(ctx, threadID); err != nil {
		return nil, err
	}
	cp, err := cg.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return cg.snapshot(cp)
}

// StateAt returns the checkpoint a thread had after step.
func (cg *CompiledGraph) StateAt(ctx context.Context, threadID string, step int) (*Snapshot, error) {
	if err := checkCall(ctx, threadID); err != nil {
		return nil, err
	}
	data, err := cg.store.LoadStep(ctx, threadID, step)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s at step %d", ErrThreadNotFound, threadID, step)
	}
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: step, Op: "load", Err: err}
	}
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: step, Op: "decode", Err: err}
	}
	return cg.snapshot(cp)
}

// History lists the thread's checkpoints in step order.
func (cg *CompiledGraph) History(ctx context.Context, threadID string) ([]checkpoint.Info, error) {
	if err := checkCall(ctx, threadID); err != nil {
		return nil, err
	}
	return cg.store.History(ctx, threadID)
}

// Reset deletes every checkpoint of the thread. The next Invoke starts fresh.
func (cg *CompiledGraph) Reset(ctx context.Context, threadID string) error {
	if err := checkCall(ctx, threadID); err != nil {
		return err
	}
	unlock := cg.lock(threadID)
	defer unlock()

	if err := cg.store.Delete(ctx, threadID); err != nil {
		return &CheckpointError{ThreadID: threadID, Op: "delete", Err: err}
	}
	return nil
}

func checkCall(ctx context.Context, threadID string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if threadID == "" {
		return ErrThreadIDRequired
	}
	return nil
}

// load returns the latest checkpoint, or nil for an unknown thread.
func (cg *CompiledGraph) load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	data, err := cg.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: -1, Op: "load", Err: err}
	}
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, &CheckpointError{ThreadID: threadID, Step: -1, Op: "decode", Err: err}
	}
	return cp, nil
}

func (cg *CompiledGraph) snapshot(cp *checkpoint.Checkpoint) (*Snapshot, error) {
	state, err := cg.schema.Decode(cp.State)
	if err != nil {
		return nil, &CheckpointError{ThreadID: cp.ThreadID, Step: cp.Step, Op: "decode", Err: err}
	}
	snap := &Snapshot{
		ThreadID:  cp.ThreadID,
		State:     state,
		Next:      cp.NextNodes(),
		Step:      cp.Step,
		UpdatedAt: cp.Timestamp,
		Interrupt: interruptFrom(cp),
	}
	switch {
	case cp.Pending():
		snap.Status = StatusSuspended
	case len(cp.Next) > 0:
		snap.Status = StatusRunning
	default:
		snap.Status = StatusCompleted
	}
	return snap, nil
}

func interruptFrom(cp *checkpoint.Checkpoint) *Interrupt {
	if cp.Interrupt == nil {
		return nil
	}
	return &Interrupt{
		Node:      cp.Interrupt.Node,
		Payload:   cp.Interrupt.Payload,
		Step:      cp.Step,
		CreatedAt: cp.Interrupt.CreatedAt,
	}
}

// run is one Invoke or Resume call on one thread.
type run struct {
	cg       *CompiledGraph
	cfg      runConfig
	threadID string
	mode     string
	start    time.Time

	ctx      context.Context // caller context, carries the run span
	base     *executionContext
	span     trace.Span
	state    State
	step     int
	lastNode string
}

func (cg *CompiledGraph) newRun(ctx context.Context, threadID, mode string, opts []Option) *run {
	cfg := cg.callConfig(opts)
	observability.LogRunStart(cfg.logger, threadID, mode)

	spanCtx, span := cfg.spans.StartRunSpan(ctx, cfg.name, threadID)
	return &run{
		cg:       cg,
		cfg:      cfg,
		threadID: threadID,
		mode:     mode,
		start:    time.Now(),
		ctx:      spanCtx,
		base:     newExecutionContext(spanCtx, threadID, cfg),
		span:     span,
		step:     -1,
	}
}

func (r *run) invoke(input State) (*Result, error) {
	cp, err := r.cg.load(r.ctx, r.threadID)
	if err != nil {
		return nil, err
	}

	var next []task
	if cp == nil {
		r.state = r.cg.schema.Initial()
	} else {
		if cp.Pending() {
			return nil, &ResumeRequiredError{ThreadID: r.threadID, Node: cp.Interrupt.Node}
		}
		if err := r.restore(cp); err != nil {
			return nil, err
		}
		if next, err = r.decodeTasks(cp.Next); err != nil {
			return nil, err
		}
	}

	merged, err := r.merge(r.state, input, "")
	if err != nil {
		return nil, err
	}
	if len(next) == 0 {
		next = []task{{node: r.cg.entry}}
	}

	if err := r.save(checkpoint.SourceInput, merged, next, nil, nil); err != nil {
		return nil, err
	}
	r.state = merged
	return r.loop(next)
}

func (r *run) resume(value any) (*Result, error) {
	cp, err := r.cg.load(r.ctx, r.threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, r.threadID)
	}
	if err := r.restore(cp); err != nil {
		return nil, err
	}

	next, err := r.decodeTasks(cp.Next)
	if err != nil {
		return nil, err
	}
	if !cp.Pending() {
		return r.loop(next)
	}
	if value == nil {
		return nil, &ResumeRequiredError{ThreadID: r.threadID, Node: cp.Interrupt.Node}
	}

	deferred, err := r.decodeTasks(cp.Deferred)
	if err != nil {
		return nil, err
	}
	if len(next) == 0 {
		return nil, &CheckpointError{ThreadID: r.threadID, Step: cp.Step, Op: "decode",
			Err: errors.New("interrupt without a suspended task")}
	}

	out, err := r.resumeTask(next[0], *interruptFrom(cp), value, deferred)
	if err != nil {
		return nil, err
	}
	if out.interrupt != nil {
		return r.suspended(out.interrupt), nil
	}
	return r.loop(out.next)
}

// restore adopts a checkpoint's state and step.
func (r *run) restore(cp *checkpoint.Checkpoint) error {
	state, err := r.cg.schema.Decode(cp.State)
	if err != nil {
		return &CheckpointError{ThreadID: r.threadID, Step: cp.Step, Op: "decode", Err: err}
	}
	r.state = state
	r.step = cp.Step
	return nil
}

// loop runs supersteps until the thread completes or suspends.
func (r *run) loop(next []task) (*Result, error) {
	for steps := 0; len(next) > 0; steps++ {
		if err := r.ctx.Err(); err != nil {
			return nil, &CancellationError{ThreadID: r.threadID, Next: taskNames(next), Step: r.step, Cause: err}
		}
		if steps >= r.cfg.maxSteps {
			return nil, &MaxStepsError{ThreadID: r.threadID, Max: r.cfg.maxSteps, Next: taskNames(next)}
		}

		out, err := r.superstep(next)
		if err != nil {
			return nil, err
		}
		if out.interrupt != nil {
			return r.suspended(out.interrupt), nil
		}
		next = out.next
	}

	return &Result{ThreadID: r.threadID, State: r.state, Status: StatusCompleted, Step: r.step}, nil
}

func (r *run) suspended(intr *Interrupt) *Result {
	return &Result{
		ThreadID:  r.threadID,
		State:     r.state,
		Status:    StatusSuspended,
		Interrupt: intr,
		Step:      r.step,
	}
}

// finish records the outcome of the call.
func (r *run) finish(res *Result, err error) (*Result, error) {
	duration := time.Since(r.start)
	durationMs := float64(duration.Microseconds()) / 1000

	switch {
	case err != nil:
		observability.LogRunError(r.cfg.logger, r.threadID, err, durationMs, r.lastNode)
		r.cfg.metrics.RecordRun(r.ctx, observability.OutcomeFailed, duration)
		if r.state != nil {
			res = &Result{ThreadID: r.threadID, State: r.state, Status: StatusFailed, Step: r.step}
		}
	case res.Status == StatusSuspended:
		observability.LogRunSuspended(r.cfg.logger, r.threadID, res.Interrupt.Node, res.Step)
		r.cfg.metrics.RecordRun(r.ctx, observability.OutcomeSuspended, duration)
	default:
		observability.LogRunComplete(r.cfg.logger, r.threadID, durationMs, res.Step)
		r.cfg.metrics.RecordRun(r.ctx, observability.OutcomeCompleted, duration)
	}

	r.cfg.spans.EndSpanWithError(r.span, err)
	return res, err
}

// save persists a checkpoint for the next step. It runs detached from
// caller cancellation so a finished superstep is never lost.
func (r *run) save(source checkpoint.Source, state State, next, deferred []task, intr *pendingInterrupt) error {
	step := r.step + 1
	ctx := context.WithoutCancel(r.ctx)

	fail := func(op string, err error) error {
		observability.LogCheckpointError(r.cfg.logger, r.threadID, step, op, err)
		return &CheckpointError{ThreadID: r.threadID, Step: step, Op: op, Err: err}
	}

	raw, err := r.cg.schema.Encode(state)
	if err != nil {
		return fail("encode", err)
	}
	nextTasks, err := encodeTasks(next)
	if err != nil {
		return fail("encode", err)
	}
	deferredTasks, err := encodeTasks(deferred)
	if err != nil {
		return fail("encode", err)
	}

	cp := checkpoint.New(r.threadID, step, source, raw).
		WithNext(nextTasks).
		WithDeferred(deferredTasks)
	if intr != nil {
		cp.WithInterrupt(intr.node, intr.payload)
	}

	data, err := cp.Marshal()
	if err != nil {
		return fail("encode", err)
	}
	if err := r.cg.store.Save(ctx, r.threadID, step, data); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(r.cfg.logger, r.threadID, step, len(data))
	r.cfg.metrics.RecordCheckpoint(ctx, int64(len(data)))
	r.step = step
	return nil
}

// merge applies a node's delta and stamps shape errors with their origin.
func (r *run) merge(current, delta State, nodeID string) (State, error) {
	if len(delta) == 0 {
		return current, nil
	}
	out, err := r.cg.schema.Merge(current, delta)
	var shapeErr *StateShapeError
	if errors.As(err, &shapeErr) {
		shapeErr.ThreadID = r.threadID
		shapeErr.Node = nodeID
	}
	return out, err
}

type pendingInterrupt struct {
	node    string
	payload json.RawMessage
}

func encodeTasks(tasks []task) ([]checkpoint.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	out := make([]checkpoint.Task, len(tasks))
	for i, t := range tasks {
		out[i].Node = t.node
		if t.input != nil {
			data, err := json.Marshal(t.input)
			if err != nil {
				return nil, fmt.Errorf("%w: input of %s: %v", ErrSerializeState, t.node, err)
			}
			out[i].Input = data
		}
	}
	return out, nil
}

func (r *run) decodeTasks(tasks []checkpoint.Task) ([]task, error) {
	out := make([]task, 0, len(tasks))
	for _, t := range tasks {
		if !r.cg.HasNode(t.Node) {
			return nil, &CheckpointError{ThreadID: r.threadID, Step: r.step, Op: "decode",
				Err: fmt.Errorf("%w: scheduled node %s", ErrNodeNotFound, t.Node)}
		}
		decoded := task{node: t.Node}
		if len(t.Input) > 0 {
			input, err := r.cg.schema.Decode(t.Input)
			if err != nil {
				return nil, &CheckpointError{ThreadID: r.threadID, Step: r.step, Op: "decode", Err: err}
			}
			decoded.input = input
		}
		out = append(out, decoded)
	}
	return out, nil
}
