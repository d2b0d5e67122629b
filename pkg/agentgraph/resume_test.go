package agentgraph

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
)

type approval struct {
	Question string `json:"question"`
	Draft    string `json:"draft"`
}

// approvalGraph: draft -> ask (suspends) -> publish -> END.
func approvalGraph(tr *tracker) *Graph {
	return NewGraph(testSchema()).
		AddNode("draft", func(ctx Context, s State) (Command, error) {
			return Update(State{"trail": Append("draft"), "output": "v1"}), nil
		}).
		AddNode("ask", func(ctx Context, s State) (Command, error) {
			tr.record("ask")
			return Suspend(approval{Question: "publish?", Draft: Get[string](s, "output")}), nil
		}).
		AddNode("publish", visit("publish", tr)).
		AddEdge("draft", "ask").
		AddEdge("ask", "publish").
		AddEdge("publish", END).
		SetEntry("draft")
}

func TestSuspend_PlainNode(t *testing.T) {
	tr := &tracker{}
	compiled, err := approvalGraph(tr).Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuspended, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "ask", res.Interrupt.Node)
	assert.Equal(t, 2, res.Interrupt.Step)
	assert.Equal(t, 2, res.Step)

	var payload approval
	require.NoError(t, res.Interrupt.Decode(&payload))
	assert.Equal(t, approval{Question: "publish?", Draft: "v1"}, payload)
	assert.Equal(t, []string{"draft"}, res.State["trail"])

	snap, err := compiled.State(testCtx(), "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, snap.Status)
	assert.Equal(t, []string{"ask"}, snap.Next)
	require.NotNil(t, snap.Interrupt)
	assert.JSONEq(t, `{"question":"publish?","draft":"v1"}`, string(snap.Interrupt.Payload))

	res, err = compiled.Resume(testCtx(), "t1", State{"output": "approved"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "approved", res.State["output"])
	assert.Equal(t, []string{"draft", "publish"}, res.State["trail"])
	assert.Equal(t, []string{"ask", "publish"}, tr.Calls(), "resume does not rerun the suspended node")
}

func TestSuspend_InvokeRequiresResume(t *testing.T) {
	compiled, err := approvalGraph(&tracker{}).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", State{"output": "ignored"})
	var resumeErr *ResumeRequiredError
	require.True(t, errors.As(err, &resumeErr))
	assert.Equal(t, "ask", resumeErr.Node)
	assert.Equal(t, "t1", resumeErr.ThreadID)

	_, err = compiled.Resume(testCtx(), "t1", nil)
	assert.ErrorIs(t, err, ErrResumeRequired)

	snap, err := compiled.State(testCtx(), "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, snap.Status, "rejected calls leave the thread suspended")
	assert.Equal(t, "v1", snap.State["output"])
}

func TestSuspend_PlainNodeRejectsNonStateValue(t *testing.T) {
	compiled, err := approvalGraph(&tracker{}).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	_, err = compiled.Resume(testCtx(), "t1", "yes")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateShape)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "resume", nodeErr.Op)

	res, err := compiled.Resume(testCtx(), "t1", map[string]any{"output": "fine"})
	require.NoError(t, err, "a failed resume can be retried")
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "fine", res.State["output"])
}

func TestResume_UnknownThread(t *testing.T) {
	compiled, err := approvalGraph(&tracker{}).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Resume(testCtx(), "ghost", "x")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestResume_WithoutInterruptContinues(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	again, err := compiled.Resume(testCtx(), "t1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, res.Step, again.Step, "a completed thread has nothing to continue")
	assert.Equal(t, res.State["trail"], again.State["trail"])
}

// feedbackGraph uses a two-phase node: prepare shows the current plan,
// resume either approves it or loops back for another draft.
func feedbackGraph(prepares *atomic.Int32) *Graph {
	return NewGraph(testSchema()).
		AddNode("plan", func(ctx Context, s State) (Command, error) {
			n := Get[int](s, "count") + 1
			return Update(State{"count": n, "trail": Append("plan")}), nil
		}).
		AddSuspendingNode("review",
			func(ctx Context, s State) (any, error) {
				prepares.Add(1)
				return map[string]any{"plan": Get[int](s, "count")}, nil
			},
			func(ctx Context, s State, intr Interrupt, value any) (Command, error) {
				var shown struct {
					Plan int `json:"plan"`
				}
				if err := intr.Decode(&shown); err != nil {
					return Command{}, err
				}
				switch value {
				case "approve":
					return Goto("finish", State{"output": "approved plan"}), nil
				case "wait":
					return Suspend(map[string]any{"plan": shown.Plan, "waiting": true}), nil
				default:
					return Goto("plan", State{"trail": Append("feedback")}), nil
				}
			},
			WithDestinations("plan", "finish"),
		).
		AddNode("finish", visit("finish", nil)).
		AddEdge("plan", "review").
		AddEdge("finish", END).
		SetEntry("plan")
}

func TestSuspendingNode_FeedbackLoop(t *testing.T) {
	var prepares atomic.Int32
	compiled, err := feedbackGraph(&prepares).Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	assert.JSONEq(t, `{"plan":1}`, string(res.Interrupt.Payload))

	res, err = compiled.Resume(testCtx(), "t1", "add more detail")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status, "looping back prepares a new interrupt")
	assert.JSONEq(t, `{"plan":2}`, string(res.Interrupt.Payload))

	res, err = compiled.Resume(testCtx(), "t1", "approve")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "approved plan", res.State["output"])
	assert.Equal(t, []string{"plan", "feedback", "plan", "finish"}, res.State["trail"])
	assert.Equal(t, int32(2), prepares.Load())
}

func TestSuspendingNode_ResuspendFromResume(t *testing.T) {
	var prepares atomic.Int32
	compiled, err := feedbackGraph(&prepares).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	res, err := compiled.Resume(testCtx(), "t1", "wait")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	assert.Equal(t, "review", res.Interrupt.Node)
	assert.JSONEq(t, `{"plan":1,"waiting":true}`, string(res.Interrupt.Payload))
	assert.Equal(t, int32(1), prepares.Load(), "re-suspending does not run prepare again")

	res, err = compiled.Resume(testCtx(), "t1", "approve")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestSuspendingNode_PhaseErrors(t *testing.T) {
	cause := errors.New("reviewer offline")
	var failResume atomic.Bool
	failResume.Store(true)

	compiled, err := NewGraph(testSchema()).
		AddSuspendingNode("review",
			func(ctx Context, s State) (any, error) {
				if Get[string](s, "output") == "broken" {
					return nil, cause
				}
				return "ok?", nil
			},
			func(ctx Context, s State, intr Interrupt, value any) (Command, error) {
				if failResume.Load() {
					return Command{}, cause
				}
				return Update(State{"output": value}), nil
			}).
		AddEdge("review", END).
		SetEntry("review").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "broken", State{"output": "broken"})
	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "prepare", nodeErr.Op)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	_, err = compiled.Resume(testCtx(), "t1", "done")
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "resume", nodeErr.Op)

	failResume.Store(false)
	res, err := compiled.Resume(testCtx(), "t1", "done")
	require.NoError(t, err)
	assert.Equal(t, "done", res.State["output"])
}

func TestSuspend_UnencodablePayload(t *testing.T) {
	compiled, err := NewGraph(nil).
		AddNode("ask", func(ctx Context, s State) (Command, error) {
			return Suspend(make(chan int)), nil
		}).
		AddEdge("ask", END).
		SetEntry("ask").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	assert.ErrorIs(t, err, ErrSerializeState)
}

func TestSuspend_ParallelSiblingsAreDeferred(t *testing.T) {
	tr := &tracker{}
	compiled, err := NewGraph(testSchema()).
		AddNode("a", visit("a", tr)).
		AddNode("b", func(ctx Context, s State) (Command, error) {
			tr.record("b")
			return Suspend("b needs input"), nil
		}).
		AddNode("c", visit("c", tr)).
		AddNode("d", visit("d", tr)).
		AddConditionalEdge("a", func(ctx Context, s State) (Route, error) {
			return ToMany("b", "c"), nil
		}, "b", "c").
		AddEdge("b", "d").
		AddEdge("c", "d").
		AddEdge("d", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	assert.Equal(t, "b", res.Interrupt.Node)
	assert.Equal(t, []string{"a", "c"}, res.State["trail"], "completed siblings merge before suspending")

	data, err := compiled.Store().Load(testCtx(), "t1")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, cp.NextNodes())
	require.Len(t, cp.Deferred, 1)
	assert.Equal(t, "d", cp.Deferred[0].Node)

	res, err = compiled.Resume(testCtx(), "t1", State{"trail": Append("b")})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"a", "c", "b", "d"}, res.State["trail"])
	assert.Equal(t, []string{"a", "b", "c", "d"}, sortedCalls(tr.Calls()), "d runs once")
}

func TestSuspend_TwoSiblingsSuspendInTurn(t *testing.T) {
	ask := func(name string) NodeFunc {
		return func(ctx Context, s State) (Command, error) {
			return Suspend(name), nil
		}
	}
	compiled, err := NewGraph(testSchema()).
		AddNode("a", passthrough).
		AddNode("b", ask("b")).
		AddNode("c", ask("c")).
		AddConditionalEdge("a", func(ctx Context, s State) (Route, error) {
			return ToMany("b", "c"), nil
		}, "b", "c").
		AddEdge("b", END).
		AddEdge("c", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Interrupt.Node)

	res, err = compiled.Resume(testCtx(), "t1", State{"trail": Append("b")})
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	assert.Equal(t, "c", res.Interrupt.Node)

	res, err = compiled.Resume(testCtx(), "t1", State{"trail": Append("c")})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"b", "c"}, res.State["trail"])
}

func sortedCalls(calls []string) []string {
	out := append([]string(nil), calls...)
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// pausingGraph writes undeclared fields, optionally suspends at b, and
// records what c reads.
func pausingGraph(pause bool, seen *State) *Graph {
	return NewGraph(nil).
		AddNode("a", func(ctx Context, s State) (Command, error) {
			return Update(State{
				"count": 3,
				"tags":  []string{"x"},
				"meta":  map[string]int{"k": 1},
			}), nil
		}).
		AddNode("b", func(ctx Context, s State) (Command, error) {
			if pause {
				return Suspend("check"), nil
			}
			return Update(nil), nil
		}).
		AddNode("c", func(ctx Context, s State) (Command, error) {
			*seen = s
			return Update(nil), nil
		}).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
}

func TestResume_UndeclaredFieldsMatchUninterruptedRun(t *testing.T) {
	var straight, resumed State

	compiled, err := pausingGraph(false, &straight).Compile(nil)
	require.NoError(t, err)
	direct, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, direct.Status)

	compiled, err = pausingGraph(true, &resumed).Compile(nil)
	require.NoError(t, err)
	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	res, err = compiled.Resume(testCtx(), "t1", State{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	assert.Equal(t, straight, resumed)
	assert.Equal(t, direct.State, res.State)
	assert.Equal(t, float64(3), straight["count"])
	assert.Equal(t, []any{"x"}, straight["tags"])
	assert.Equal(t, 3, Get[int](resumed, "count"))
	assert.Equal(t, []string{"x"}, Items[string](resumed, "tags"))
	assert.Equal(t, map[string]int{"k": 1}, Get[map[string]int](resumed, "meta"))
}
