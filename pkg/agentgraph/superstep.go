package agentgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// task is one scheduled node execution. A non-nil input marks a fan-out
// branch; its keys overlay the shared state for that branch only.
type task struct {
	node  string
	input State
}

func taskNames(tasks []task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.node
	}
	return names
}

// schedule appends tasks to queue. Plain tasks already queued are dropped so
// a join node runs once per superstep; fan-out tasks are always kept.
func schedule(queue []task, tasks ...task) []task {
	for _, t := range tasks {
		if t.input == nil && slices.ContainsFunc(queue, func(q task) bool {
			return q.input == nil && q.node == t.node
		}) {
			continue
		}
		queue = append(queue, t)
	}
	return queue
}

// taskResult is what one task produced.
type taskResult struct {
	cmd       Command
	suspended bool
	payload   json.RawMessage
}

// stepOutcome tells the loop what comes next.
type stepOutcome struct {
	next      []task
	interrupt *Interrupt
}

// superstep runs tasks in parallel against the same state, merges their
// deltas in task order, routes, and checkpoints. A failed superstep leaves
// the previous checkpoint in place.
func (r *run) superstep(tasks []task) (stepOutcome, error) {
	step := r.step + 1
	start := time.Now()
	ctx, span := r.cfg.spans.StartStepSpan(r.ctx, step, len(tasks))

	out, err := r.runSuperstep(ctx, step, tasks)

	r.cfg.metrics.RecordSuperstep(ctx, len(tasks), time.Since(start))
	r.cfg.spans.EndSpanWithError(span, err)
	return out, err
}

func (r *run) runSuperstep(ctx context.Context, step int, tasks []task) (stepOutcome, error) {
	results := make([]taskResult, len(tasks))
	errs := make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.maxConcurrency > 0 {
		g.SetLimit(r.cfg.maxConcurrency)
	}
	for i, t := range tasks {
		g.Go(func() error {
			results[i], errs[i] = r.runTask(gctx, t, step, r.execute)
			return errs[i]
		})
	}
	_ = g.Wait()

	if i, err := firstError(errs); err != nil {
		r.lastNode = tasks[i].node
		return stepOutcome{}, err
	}

	state := r.state
	var suspended []task
	var payload json.RawMessage
	for i, t := range tasks {
		res := results[i]
		if res.suspended {
			if suspended == nil {
				payload = res.payload
			}
			suspended = append(suspended, t)
			continue
		}
		merged, err := r.merge(state, res.cmd.Update, t.node)
		if err != nil {
			r.lastNode = t.node
			return stepOutcome{}, err
		}
		state = merged
	}

	var next []task
	for i, t := range tasks {
		if results[i].suspended {
			continue
		}
		succ, err := r.successors(ctx, t.node, results[i].cmd, state, step)
		if err != nil {
			r.lastNode = t.node
			return stepOutcome{}, err
		}
		next = schedule(next, succ...)
	}
	r.lastNode = tasks[len(tasks)-1].node

	if len(suspended) > 0 {
		deferred := schedule(slices.Clone(suspended[1:]), next...)
		intr := &pendingInterrupt{node: suspended[0].node, payload: payload}
		if err := r.save(checkpoint.SourceLoop, state, suspended[:1], deferred, intr); err != nil {
			return stepOutcome{}, err
		}
		r.state = state
		r.lastNode = intr.node
		r.cfg.metrics.RecordInterrupt(ctx, intr.node)
		r.cfg.spans.AddSpanEvent(ctx, "interrupt", attribute.String("node.id", intr.node))
		return stepOutcome{interrupt: r.interrupt(intr)}, nil
	}

	if err := r.save(checkpoint.SourceLoop, state, next, nil, nil); err != nil {
		return stepOutcome{}, err
	}
	r.state = state
	return stepOutcome{next: next}, nil
}

// resumeTask finishes the suspended task t with the caller's value, then
// schedules deferred work ahead of its successors.
func (r *run) resumeTask(t task, intr Interrupt, value any, deferred []task) (stepOutcome, error) {
	step := r.step + 1
	start := time.Now()
	ctx, span := r.cfg.spans.StartStepSpan(r.ctx, step, 1)
	r.lastNode = t.node

	out, err := r.runResume(ctx, step, t, intr, value, deferred)

	r.cfg.metrics.RecordSuperstep(ctx, 1, time.Since(start))
	r.cfg.spans.EndSpanWithError(span, err)
	return out, err
}

func (r *run) runResume(ctx context.Context, step int, t task, intr Interrupt, value any, deferred []task) (stepOutcome, error) {
	n := r.cg.nodes[t.node]

	call := func(ectx Context, s State) (taskResult, error) {
		if !n.suspending() {
			delta, ok := resumeDelta(value)
			if !ok {
				return taskResult{}, &NodeError{ThreadID: r.threadID, NodeID: t.node, Op: "resume",
					Err: fmt.Errorf("%w: resume value must be a state, got %T", ErrStateShape, value)}
			}
			return taskResult{cmd: Update(delta)}, nil
		}
		cmd, err := n.resume(ectx, s, intr, value)
		if err != nil {
			return taskResult{}, &NodeError{ThreadID: r.threadID, NodeID: t.node, Op: "resume", Err: err}
		}
		return r.commandResult(t.node, cmd)
	}

	res, err := r.runTask(ctx, t, step, call)
	if err != nil {
		return stepOutcome{}, err
	}

	if res.suspended {
		pending := &pendingInterrupt{node: t.node, payload: res.payload}
		if err := r.save(checkpoint.SourceResume, r.state, []task{t}, deferred, pending); err != nil {
			return stepOutcome{}, err
		}
		r.cfg.metrics.RecordInterrupt(ctx, t.node)
		r.cfg.spans.AddSpanEvent(ctx, "interrupt", attribute.String("node.id", t.node))
		return stepOutcome{interrupt: r.interrupt(pending)}, nil
	}

	state, err := r.merge(r.state, res.cmd.Update, t.node)
	if err != nil {
		return stepOutcome{}, err
	}
	succ, err := r.successors(ctx, t.node, res.cmd, state, step)
	if err != nil {
		return stepOutcome{}, err
	}
	next := schedule(slices.Clone(deferred), succ...)

	if err := r.save(checkpoint.SourceResume, state, next, nil, nil); err != nil {
		return stepOutcome{}, err
	}
	r.state = state
	return stepOutcome{next: next}, nil
}

func resumeDelta(value any) (State, bool) {
	switch v := value.(type) {
	case State:
		return v, true
	case map[string]any:
		return State(v), true
	}
	return nil, false
}

// interrupt converts a just-saved pending interrupt for the caller.
func (r *run) interrupt(p *pendingInterrupt) *Interrupt {
	return &Interrupt{
		Node:      p.node,
		Payload:   p.payload,
		Step:      r.step,
		CreatedAt: time.Now().UTC(),
	}
}

// firstError picks the error to report: the first in task order that is not
// a cancellation caused by a sibling's failure.
func firstError(errs []error) (int, error) {
	first := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return i, err
		}
		if first < 0 {
			first = i
		}
	}
	if first < 0 {
		return 0, nil
	}
	return first, errs[first]
}

// execute runs the first phase of t's node.
func (r *run) execute(ectx Context, s State) (taskResult, error) {
	id := ectx.NodeID()
	n := r.cg.nodes[id]

	if n.suspending() {
		payload, err := n.prepare(ectx, s)
		if err != nil {
			return taskResult{}, &NodeError{ThreadID: r.threadID, NodeID: id, Op: "prepare", Err: err}
		}
		return r.commandResult(id, Suspend(payload))
	}

	cmd, err := n.fn(ectx, s)
	if err != nil {
		return taskResult{}, &NodeError{ThreadID: r.threadID, NodeID: id, Op: "execute", Err: err}
	}
	return r.commandResult(id, cmd)
}

func (r *run) commandResult(nodeID string, cmd Command) (taskResult, error) {
	if cmd.Kind != CommandSuspend {
		return taskResult{cmd: cmd}, nil
	}
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return taskResult{}, &NodeError{ThreadID: r.threadID, NodeID: nodeID, Op: "suspend",
			Err: fmt.Errorf("%w: interrupt payload: %v", ErrSerializeState, err)}
	}
	return taskResult{cmd: cmd, suspended: true, payload: payload}, nil
}

// runTask runs call for t with its own state copy, span, and logger, and
// converts panics into *PanicError.
func (r *run) runTask(ctx context.Context, t task, step int, call func(Context, State) (taskResult, error)) (res taskResult, err error) {
	nodeCtx, span := r.cfg.spans.StartNodeSpan(ctx, t.node)
	ectx := r.base.forNode(nodeCtx, t.node, step)
	start := time.Now()

	state := r.state.Clone()
	if t.input != nil {
		state = r.state.overlay(t.input)
	}

	observability.LogNodeStart(ectx.Logger(), t.node)
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{
				ThreadID: r.threadID,
				NodeID:   t.node,
				Value:    p,
				Stack:    string(debug.Stack()),
			}
		}

		duration := time.Since(start)
		r.cfg.metrics.RecordNodeExecution(nodeCtx, t.node, duration, err)
		if err != nil {
			observability.LogNodeError(ectx.Logger(), t.node, err)
		} else {
			observability.LogNodeComplete(ectx.Logger(), t.node, float64(duration.Microseconds())/1000)
		}
		r.cfg.spans.EndSpanWithError(span, err)
	}()

	return call(ectx, state)
}

// successors resolves where from goes after its command, in priority order:
// Goto, static edge, router.
func (r *run) successors(ctx context.Context, from string, cmd Command, s State, step int) ([]task, error) {
	n := r.cg.nodes[from]

	if cmd.Kind == CommandGoto {
		if len(n.destinations) > 0 && !slices.Contains(n.destinations, cmd.Target) {
			return nil, &RoutingError{ThreadID: r.threadID, From: from, Target: cmd.Target, Allowed: n.destinations}
		}
		if cmd.Target == END {
			return nil, nil
		}
		if !r.cg.HasNode(cmd.Target) {
			return nil, &RoutingError{ThreadID: r.threadID, From: from, Target: cmd.Target, Allowed: n.destinations}
		}
		return []task{{node: cmd.Target}}, nil
	}

	if to, ok := r.cg.edges[from]; ok {
		if to == END {
			return nil, nil
		}
		return []task{{node: to}}, nil
	}

	cond, ok := r.cg.routers[from]
	if !ok {
		return nil, &RoutingError{ThreadID: r.threadID, From: from, Err: ErrNoOutgoingEdge}
	}

	route, err := r.route(ctx, cond.router, from, s, step)
	if err != nil {
		return nil, err
	}
	return r.routeTasks(from, route, cond.allowed)
}

// route calls a router with panic recovery.
func (r *run) route(ctx context.Context, router RouterFunc, from string, s State, step int) (route Route, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{
				ThreadID: r.threadID,
				NodeID:   from,
				Value:    p,
				Stack:    string(debug.Stack()),
			}
		}
	}()

	route, err = router(r.base.forNode(ctx, from, step), s.Clone())
	if err != nil {
		return Route{}, &RoutingError{ThreadID: r.threadID, From: from, Err: err}
	}
	return route, nil
}

func (r *run) routeTasks(from string, route Route, allowed []string) ([]task, error) {
	check := func(target string) error {
		if len(allowed) == 0 && (target == END || r.cg.HasNode(target)) {
			return nil
		}
		if slices.Contains(allowed, target) {
			return nil
		}
		return &RoutingError{ThreadID: r.threadID, From: from, Target: target, Allowed: allowed}
	}

	var out []task
	switch route.Kind {
	case RouteEnd:
		return nil, nil
	case RouteTo:
		for _, target := range route.Targets {
			if err := check(target); err != nil {
				return nil, err
			}
			if target != END {
				out = schedule(out, task{node: target})
			}
		}
	case RouteFanout:
		for _, send := range route.Sends {
			if err := check(send.Node); err != nil {
				return nil, err
			}
			if send.Node == END {
				continue
			}
			input, err := r.cg.schema.Normalize(send.Input)
			if err != nil {
				return nil, fmt.Errorf("send to %s: %w", send.Node, err)
			}
			out = append(out, task{node: send.Node, input: input})
		}
	default:
		return nil, &RoutingError{ThreadID: r.threadID, From: from, Err: fmt.Errorf("unknown route kind %d", route.Kind)}
	}
	return out, nil
}
