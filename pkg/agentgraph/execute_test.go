package agentgraph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

func TestInvoke_Linear(t *testing.T) {
	tr := &tracker{}
	compiled, err := linearGraph(tr).Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "t1", res.ThreadID)
	assert.Equal(t, []string{"a", "b", "c"}, res.State["trail"])
	assert.Equal(t, 0, res.State["count"])
	assert.Equal(t, 3, res.Step, "one input checkpoint plus one per superstep")
	assert.Nil(t, res.Interrupt)
	assert.Equal(t, []string{"a", "b", "c"}, tr.Calls())
}

func TestInvoke_MergesInput(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", State{"trail": Append("input"), "output": "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"input", "a", "b", "c"}, res.State["trail"])
	assert.Equal(t, "x", res.State["output"])
}

func TestInvoke_CompletedThreadStartsOverWithAccumulatedState(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	res, err := compiled.Invoke(testCtx(), "t1", State{"trail": Append("again")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "again", "a", "b", "c"}, res.State["trail"])
	assert.Equal(t, 7, res.Step)
}

func TestInvoke_ThreadsAreIsolated(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", State{"output": "one"})
	require.NoError(t, err)
	res, err := compiled.Invoke(testCtx(), "t2", State{"output": "two"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, res.State["trail"])
	assert.Equal(t, "two", res.State["output"])

	snap, err := compiled.State(testCtx(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "one", snap.State["output"])
}

func TestInvoke_InvalidArguments(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	var nilCtx context.Context
	_, err = compiled.Invoke(nilCtx, "t1", nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = compiled.Invoke(testCtx(), "", nil)
	assert.ErrorIs(t, err, ErrThreadIDRequired)

	_, err = compiled.Resume(testCtx(), "", "x")
	assert.ErrorIs(t, err, ErrThreadIDRequired)
}

func TestInvoke_ConditionalLoop(t *testing.T) {
	router := func(ctx Context, s State) (Route, error) {
		if Get[int](s, "count") >= 3 {
			return End(), nil
		}
		return To("inc"), nil
	}
	compiled, err := NewGraph(testSchema()).
		AddNode("inc", increment).
		AddConditionalEdge("inc", router, "inc", END).
		SetEntry("inc").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.State["count"])
}

func TestInvoke_RouterSeesMergedState(t *testing.T) {
	var seen string
	compiled, err := NewGraph(testSchema()).
		AddNode("write", func(ctx Context, s State) (Command, error) {
			return Update(State{"output": "written"}), nil
		}).
		AddConditionalEdge("write", func(ctx Context, s State) (Route, error) {
			seen = Get[string](s, "output")
			return End(), nil
		}, END).
		SetEntry("write").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "written", seen)
}

func TestInvoke_Goto(t *testing.T) {
	tr := &tracker{}
	compiled, err := NewGraph(testSchema()).
		AddNode("a", func(ctx Context, s State) (Command, error) {
			return Goto("c", State{"trail": Append("a")}), nil
		}, WithDestinations("b", "c")).
		AddNode("b", visit("b", tr)).
		AddNode("c", visit("c", tr)).
		AddEdge("b", END).
		AddEdge("c", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, res.State["trail"])
	assert.Equal(t, []string{"c"}, tr.Calls())
}

func TestInvoke_GotoEnd(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", func(ctx Context, s State) (Command, error) {
			return Goto(END, State{"output": "done"}), nil
		}, WithDestinations(END)).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", res.State["output"])
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestInvoke_RoutingErrors(t *testing.T) {
	gotoNode := func(target string) NodeFunc {
		return func(ctx Context, s State) (Command, error) {
			return Goto(target, nil), nil
		}
	}
	routeTo := func(target string) RouterFunc {
		return func(ctx Context, s State) (Route, error) {
			return To(target), nil
		}
	}

	tests := []struct {
		name   string
		graph  *Graph
		target string
	}{
		{
			name: "goto outside destinations",
			graph: NewGraph(nil).
				AddNode("a", gotoNode("c"), WithDestinations("b")).
				AddNode("b", passthrough).AddNode("c", passthrough).
				AddEdge("b", END).AddEdge("c", END).SetEntry("a"),
			target: "c",
		},
		{
			name: "goto unknown node",
			graph: NewGraph(nil).
				AddNode("a", gotoNode("ghost"), WithDestinations(END)).SetEntry("a"),
			target: "ghost",
		},
		{
			name: "goto end outside destinations",
			graph: NewGraph(nil).
				AddNode("a", gotoNode(END), WithDestinations("b")).
				AddNode("b", passthrough).AddEdge("b", END).SetEntry("a"),
			target: END,
		},
		{
			name: "router outside allowed",
			graph: NewGraph(nil).
				AddNode("a", passthrough).AddNode("b", passthrough).AddNode("c", passthrough).
				AddConditionalEdge("a", routeTo("c"), "b", END).
				AddEdge("b", END).AddEdge("c", END).SetEntry("a"),
			target: "c",
		},
		{
			name: "open router to unknown node",
			graph: NewGraph(nil).
				AddNode("a", passthrough).
				AddConditionalEdge("a", routeTo("ghost")).SetEntry("a"),
			target: "ghost",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := tt.graph.Compile(nil)
			require.NoError(t, err)

			res, err := compiled.Invoke(testCtx(), "t1", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRouting)

			var routeErr *RoutingError
			require.True(t, errors.As(err, &routeErr))
			assert.Equal(t, "a", routeErr.From)
			assert.Equal(t, tt.target, routeErr.Target)
			assert.Equal(t, "t1", routeErr.ThreadID)

			require.NotNil(t, res)
			assert.Equal(t, StatusFailed, res.Status)
		})
	}
}

func TestInvoke_UpdateWithoutEdgeOnGotoOnlyNode(t *testing.T) {
	compiled, err := NewGraph(nil).
		AddNode("a", passthrough, WithDestinations(END)).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	assert.ErrorIs(t, err, ErrRouting)
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestInvoke_RouterError(t *testing.T) {
	cause := errors.New("cannot decide")
	compiled, err := NewGraph(nil).
		AddNode("a", passthrough).
		AddConditionalEdge("a", func(ctx Context, s State) (Route, error) {
			return Route{}, cause
		}, END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	assert.ErrorIs(t, err, ErrRouting)
	assert.ErrorIs(t, err, cause)
}

func TestInvoke_RouterPanic(t *testing.T) {
	compiled, err := NewGraph(nil).
		AddNode("a", passthrough).
		AddConditionalEdge("a", func(ctx Context, s State) (Route, error) {
			panic("router broke")
		}, END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "router broke", panicErr.Value)
}

func TestInvoke_NodeError(t *testing.T) {
	cause := errors.New("api down")
	var fail atomic.Bool
	fail.Store(true)

	tr := &tracker{}
	compiled, err := NewGraph(testSchema()).
		AddNode("a", visit("a", tr)).
		AddNode("b", func(ctx Context, s State) (Command, error) {
			if fail.Load() {
				return Command{}, cause
			}
			return visit("b", tr)(ctx, s)
		}).
		AddNode("c", visit("c", tr)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "b", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)
	assert.Equal(t, "t1", nodeErr.ThreadID)

	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"a"}, res.State["trail"], "the failed superstep contributes nothing")
	assert.Equal(t, 1, res.Step)

	snap, err := compiled.State(testCtx(), "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, []string{"b"}, snap.Next)

	fail.Store(false)
	res, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.State["trail"], "a later invoke retries the failed step")
	assert.Equal(t, []string{"a", "b", "c"}, tr.Calls())
}

func TestInvoke_NodePanic(t *testing.T) {
	compiled, err := NewGraph(nil).
		AddNode("a", panicking("kaboom")).
		AddEdge("a", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Contains(t, panicErr.Stack, "goroutine")
}

func TestInvoke_StateShapeErrorNamesNode(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("bad", func(ctx Context, s State) (Command, error) {
			return Update(State{"count": "many"}), nil
		}).
		AddEdge("bad", END).
		SetEntry("bad").
		Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", nil)
	var shapeErr *StateShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, "bad", shapeErr.Node)
	assert.Equal(t, "t1", shapeErr.ThreadID)
	assert.Equal(t, "count", shapeErr.Field)
}

func TestInvoke_InvalidInput(t *testing.T) {
	compiled, err := linearGraph(nil).Compile(nil)
	require.NoError(t, err)

	_, err = compiled.Invoke(testCtx(), "t1", State{"trail": 42})
	assert.ErrorIs(t, err, ErrStateShape)

	_, err = compiled.State(testCtx(), "t1")
	assert.ErrorIs(t, err, ErrThreadNotFound, "rejected input saves nothing")
}

func TestInvoke_MaxSteps(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("inc", increment).
		AddConditionalEdge("inc", func(ctx Context, s State) (Route, error) {
			return To("inc"), nil
		}, "inc", END).
		SetEntry("inc").
		Compile(nil, WithMaxSteps(3))
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxSteps)

	var maxErr *MaxStepsError
	require.True(t, errors.As(err, &maxErr))
	assert.Equal(t, 3, maxErr.Max)
	assert.Equal(t, []string{"inc"}, maxErr.Next)
	assert.Equal(t, 3, res.State["count"])

	res, err = compiled.Invoke(testCtx(), "t1", nil, WithMaxSteps(2))
	assert.ErrorIs(t, err, ErrMaxSteps)
	assert.Equal(t, 5, res.State["count"], "the next invoke continues where the limit stopped")
}

func TestInvoke_CancellationBetweenSupersteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &tracker{}
	compiled, err := NewGraph(testSchema()).
		AddNode("a", func(c Context, s State) (Command, error) {
			cancel()
			return visit("a", tr)(c, s)
		}).
		AddNode("b", visit("b", tr)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(ctx, "t1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var cancelErr *CancellationError
	require.True(t, errors.As(err, &cancelErr))
	assert.Equal(t, []string{"b"}, cancelErr.Next)
	assert.Equal(t, 1, cancelErr.Step)
	assert.Equal(t, []string{"a"}, res.State["trail"])
	assert.Equal(t, []string{"a"}, tr.Calls())

	res, err = compiled.Invoke(testCtx(), "t1", nil)
	require.NoError(t, err, "the superstep finished before cancellation was seen and was saved")
	assert.Equal(t, []string{"a", "b"}, res.State["trail"])
}

func TestInvoke_NodesGetIndependentState(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("sneaky", func(ctx Context, s State) (Command, error) {
			s["output"] = "mutated"
			trail := s["trail"].([]string)
			_ = append(trail[:0], "overwritten")
			return Update(nil), nil
		}).
		AddEdge("sneaky", END).
		SetEntry("sneaky").
		Compile(nil)
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t1", State{"trail": Append("kept")})
	require.NoError(t, err)
	assert.NotContains(t, res.State, "output")
	assert.Equal(t, []string{"kept"}, res.State["trail"])
}

func TestInvoke_NestedValuesAreNotShared(t *testing.T) {
	var seen string
	compiled, err := NewGraph(NewSchema(AppendField[llm.Message]("messages"))).
		AddNode("sneaky", func(ctx Context, s State) (Command, error) {
			msgs := Items[llm.Message](s, "messages")
			msgs[0].ToolCalls[0].Name = "hijacked"
			return Update(nil), nil
		}).
		AddNode("reader", func(ctx Context, s State) (Command, error) {
			seen = Items[llm.Message](s, "messages")[0].ToolCalls[0].Name
			return Update(nil), nil
		}).
		AddEdge("sneaky", "reader").
		AddEdge("reader", END).
		SetEntry("sneaky").
		Compile(nil)
	require.NoError(t, err)

	call := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "search"}}}
	res, err := compiled.Invoke(testCtx(), "t1", State{"messages": Append(call)})
	require.NoError(t, err)
	assert.Equal(t, "search", seen)
	assert.Equal(t, "search", Items[llm.Message](res.State, "messages")[0].ToolCalls[0].Name)
}

func TestInvoke_ContextServices(t *testing.T) {
	model := llm.NewMockClient("hello there")
	var gotThread, gotNode, gotUser string
	var gotStep int

	compiled, err := NewGraph(testSchema()).
		AddNode("chat", func(ctx Context, s State) (Command, error) {
			gotThread, gotNode, gotStep = ctx.ThreadID(), ctx.NodeID(), ctx.Step()
			gotUser = ctx.Config().String("user_id", "")
			resp, err := ctx.Model().Complete(ctx, llm.CompletionRequest{
				Messages: []llm.Message{llm.UserMessage("hi")},
			})
			if err != nil {
				return Command{}, err
			}
			return Update(State{"output": resp.Content}), nil
		}).
		AddEdge("chat", END).
		SetEntry("chat").
		Compile(nil, WithModel(model))
	require.NoError(t, err)

	res, err := compiled.Invoke(testCtx(), "t9", nil, WithConfig(map[string]any{"user_id": "lance"}))
	require.NoError(t, err)

	assert.Equal(t, "hello there", res.State["output"])
	assert.Equal(t, "t9", gotThread)
	assert.Equal(t, "chat", gotNode)
	assert.Equal(t, 1, gotStep)
	assert.Equal(t, "lance", gotUser)
	assert.Equal(t, 1, model.CallCount())
}

func TestInvoke_SameThreadCallsAreSerialized(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("inc", increment).
		AddEdge("inc", END).
		SetEntry("inc").
		Compile(nil)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := compiled.Invoke(testCtx(), "shared", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := compiled.State(testCtx(), "shared")
	require.NoError(t, err)
	assert.Equal(t, n, snap.State["count"])
}
