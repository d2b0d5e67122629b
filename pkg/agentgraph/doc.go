/*
Package agentgraph runs conversational agents as graphs of nodes over a
shared, checkpointed state.

# Overview

An agent is a directed graph. Nodes read the state and return partial
updates; a Schema decides how each update is merged (replace, append,
append with reset, read-only). Edges, routers, and Goto commands decide
which nodes run next. Execution proceeds in supersteps: every scheduled
node runs concurrently against the same state, the updates are merged in
schedule order, and a checkpoint is saved. A thread is one conversation;
its checkpoints let a later call continue where the last one stopped.

# Basic Usage

	schema := agentgraph.NewSchema(
	    agentgraph.AppendField[llm.Message]("messages"),
	)

	func callLLM(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	    resp, err := ctx.Model().Complete(ctx, llm.CompletionRequest{
	        Messages: agentgraph.Items[llm.Message](s, "messages"),
	    })
	    if err != nil {
	        return agentgraph.Command{}, err
	    }
	    return agentgraph.Update(agentgraph.State{"messages": agentgraph.Append(resp.Message())}), nil
	}

	graph := agentgraph.NewGraph(schema).
	    AddNode("call_llm", callLLM).
	    AddEdge("call_llm", agentgraph.END).
	    SetEntry("call_llm")

	compiled, err := graph.Compile(checkpoint.NewMemoryStore(),
	    agentgraph.WithModel(client))
	if err != nil {
	    log.Fatal(err)
	}

	res, err := compiled.Invoke(ctx, "thread-1", agentgraph.State{
	    "messages": agentgraph.Append(llm.UserMessage("hi")),
	})

# Routing

A node leaves through at most one of: a static edge, a conditional edge,
or Goto commands to the targets declared with WithDestinations. Routers
see the state after the whole superstep has merged and must return one of
their declared targets:

	graph.AddConditionalEdge("call_llm", func(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Route, error) {
	    if hasToolCalls(s) {
	        return agentgraph.To("tools"), nil
	    }
	    return agentgraph.End(), nil
	}, "tools", agentgraph.END)

Fanout schedules one task per Send. Each branch sees the state with the
Send's input overlaid; their updates are merged before the join node runs,
once, in the following superstep.

# Suspend and Resume

A node suspends by returning Suspend(payload), or by being registered with
AddSuspendingNode, whose prepare phase produces the payload and whose
resume phase interprets the caller's answer:

	res, _ := compiled.Invoke(ctx, "t", input)    // res.Status == StatusSuspended
	res, _ = compiled.Resume(ctx, "t", "approve") // continues after the node

Invoking a suspended thread fails with *ResumeRequiredError.

# Errors

Compile joins every structural problem it finds. Run errors are typed:
NodeError, PanicError, RoutingError, StateShapeError, CheckpointError,
MaxStepsError, and CancellationError. A failed superstep saves nothing, so
the thread's last checkpoint is always a consistent state.

# Observability

WithLogger, WithMetrics, and WithSpanManager wire the observability
package. Node loggers carry thread_id, node_id, and step.

# Thread Safety

Graph is not safe for concurrent use. CompiledGraph is: calls on distinct
threads run in parallel and calls on one thread are serialized.

# Subpackages

  - checkpoint: checkpoint stores (memory, SQLite, Redis)
  - memory: namespaced long-term memory stores
  - reconcile: structured document extraction and patching
  - llm: model client interface, OpenAI and mock clients
  - config, errors, prompt, registry, observability: supporting packages
*/
package agentgraph
