// Package todos is a companion that keeps a user's ToDo list, profile, and
// list-keeping preferences in long-term memory.
//
// todo_manager answers the user and may call UpdateMemory once; the router
// then sends the thread to the matching update node, which writes the
// memory store and replies to the tool call before returning to
// todo_manager. Memory is scoped by the user_id in the run configuration,
// so separate threads of one user share it.
package todos

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/memory"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/reconcile"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

// Node names.
const (
	NodeManager            = "todo_manager"
	NodeUpdateProfile      = "update_profile"
	NodeUpdateTodos        = "update_todos"
	NodeUpdateInstructions = "update_instructions"
)

var managerPrompt = prompt.New("todo_manager", `You are designed to be a companion to a user, helping them keep track of their ToDo list.

You have a long term memory which keeps track of three things:
1. The user's profile (general information about them)
2. The user's ToDo list
3. General instructions for updating the ToDo list

Here is the current User Profile (may be empty if no information has been collected yet):
<user_profile>
${user_profile}
</user_profile>

Here is the current ToDo List (may be empty if no tasks have been added yet):
<todo>
${todos}
</todo>

Here are the current user-specified preferences for updating the ToDo list (may be empty if no preferences have been specified yet):
<instructions>
${instructions}
</instructions>

Here are your instructions for reasoning about the user's messages:

1. Reason carefully about the user's messages as presented below.

2. Decide whether any of your long-term memory should be updated:
- If personal information was provided about the user, update the user's profile by calling UpdateMemory tool with type `+"`user`"+`
- If tasks are mentioned, update the ToDo list by calling UpdateMemory tool with type `+"`todo`"+`, and if it's a deletion, also provide `+"`todo_item_key`"+` as key of item to be deleted
- If the user has specified preferences for how to update the ToDo list, update the instructions by calling UpdateMemory tool with type `+"`instructions`"+`
- IMPORTANT: Only call UpdateMemory tool once.

3. Tell the user that you have updated your memory, if appropriate:
- Do not tell the user you have updated the user's profile
- Tell the user when you update the todo list
- Do not tell the user that you have updated instructions

4. Respond naturally to user after a tool call was made to save memories, or if no tool call was made.`)

var extractPrompt = prompt.New("extract_memories", `Reflect on following interaction.

Use the provided tools to retain any necessary memories about the user.

Just do one tool call at a time.

Current Time: ${time}`)

var instructionsPrompt = prompt.New("update_instructions", `Reflect on the following interaction.

Based on this interaction, update your instructions for how to update ToDo list items.

Use any feedback from the user to update how they like to have items added, etc.

Your current instructions are:

<current_instructions>
${current_instructions}
</current_instructions>`)

// Schema returns the agent's state schema.
func Schema() *agentgraph.Schema {
	return agentgraph.NewSchema(agents.MessagesField())
}

// Option configures the agent.
type Option func(*agent)

type agent struct {
	now    func() time.Time
	newKey func() string
}

// WithClock overrides the time shown to the extraction model.
func WithClock(now func() time.Time) Option {
	return func(a *agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithKeyFunc overrides how keys for new memory records are generated.
func WithKeyFunc(fn func() string) Option {
	return func(a *agent) { a.newKey = fn }
}

// New builds the ToDo manager graph. Runs need WithModel, WithStore, and a
// user_id in WithConfig.
func New(opts ...Option) (*agentgraph.Graph, error) {
	a := &agent{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	g := agentgraph.NewGraph(Schema()).
		AddNode(NodeManager, a.manager).
		AddNode(NodeUpdateProfile, a.updateProfile).
		AddNode(NodeUpdateTodos, a.updateTodos).
		AddNode(NodeUpdateInstructions, a.updateInstructions).
		AddConditionalEdge(NodeManager, routeMemoryUpdate,
			NodeUpdateProfile, NodeUpdateTodos, NodeUpdateInstructions, agentgraph.END).
		AddEdge(NodeUpdateProfile, NodeManager).
		AddEdge(NodeUpdateTodos, NodeManager).
		AddEdge(NodeUpdateInstructions, NodeManager).
		SetEntry(NodeManager)
	return g, nil
}

// scope returns the store and user id every node needs.
func scope(ctx agentgraph.Context) (memory.Store, string, error) {
	store := ctx.Store()
	if store == nil {
		return nil, "", agents.ErrNoStore
	}
	user, err := agents.UserID(ctx)
	if err != nil {
		return nil, "", err
	}
	return store, user, nil
}

func (a *agent) reconcilerOpts(ctx agentgraph.Context) []reconcile.Option {
	opts := []reconcile.Option{reconcile.WithLogger(ctx.Logger())}
	if a.newKey != nil {
		opts = append(opts, reconcile.WithKeyFunc(a.newKey))
	}
	return opts
}

func (a *agent) manager(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	store, user, err := scope(ctx)
	if err != nil {
		return agentgraph.Command{}, err
	}

	profile, err := formatProfile(ctx, store, user)
	if err != nil {
		return agentgraph.Command{}, err
	}
	todos, err := formatTodos(ctx, store, user)
	if err != nil {
		return agentgraph.Command{}, err
	}
	instructions, err := loadInstructions(ctx, store, user)
	if err != nil {
		return agentgraph.Command{}, err
	}

	sys, err := managerPrompt.Render(map[string]any{
		"user_profile": profile,
		"todos":        todos,
		"instructions": instructions,
	})
	if err != nil {
		return agentgraph.Command{}, err
	}

	resp, err := agents.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sys,
		Messages:     agents.Messages(s),
		Tools:        []llm.Tool{updateMemoryTool},
	})
	if err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agents.Say(resp.Message())), nil
}

// pendingUpdate returns the UpdateMemory call the manager just made.
func pendingUpdate(s agentgraph.State) (llm.ToolCall, UpdateMemory, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return llm.ToolCall{}, UpdateMemory{}, err
	}
	if len(last.ToolCalls) == 0 {
		return llm.ToolCall{}, UpdateMemory{}, fmt.Errorf("last message %s has no tool call", last.ID)
	}
	call := last.ToolCalls[0]
	var update UpdateMemory
	if err := call.Decode(&update); err != nil {
		return llm.ToolCall{}, UpdateMemory{}, fmt.Errorf("decode %s arguments: %w", call.Name, err)
	}
	return call, update, nil
}

// routeMemoryUpdate checks for tool calls before reading them.
func routeMemoryUpdate(_ agentgraph.Context, s agentgraph.State) (agentgraph.Route, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return agentgraph.Route{}, err
	}
	if len(last.ToolCalls) == 0 {
		return agentgraph.End(), nil
	}
	_, update, err := pendingUpdate(s)
	if err != nil {
		return agentgraph.Route{}, err
	}
	switch update.UpdateType {
	case UpdateUser:
		return agentgraph.To(NodeUpdateProfile), nil
	case UpdateTodo:
		return agentgraph.To(NodeUpdateTodos), nil
	case UpdateInstructions:
		return agentgraph.To(NodeUpdateInstructions), nil
	default:
		return agentgraph.Route{}, fmt.Errorf("unknown update_type %q", update.UpdateType)
	}
}

// extractionRequest is the conversation without the manager's pending
// tool call, headed by the extraction instructions.
func (a *agent) extractionRequest(s agentgraph.State) (llm.CompletionRequest, error) {
	sys, err := extractPrompt.Render(map[string]any{"time": a.now().Format(time.RFC3339)})
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	msgs := agents.Messages(s)
	return llm.CompletionRequest{
		SystemPrompt: sys,
		Messages:     msgs[:len(msgs)-1],
	}, nil
}

func (a *agent) extract(ctx agentgraph.Context, s agentgraph.State, kind, schemaName string, schema json.RawMessage) (*reconcile.Outcome, error) {
	store, user, err := scope(ctx)
	if err != nil {
		return nil, err
	}
	model, err := agents.Model(ctx)
	if err != nil {
		return nil, err
	}
	req, err := a.extractionRequest(s)
	if err != nil {
		return nil, err
	}
	r := reconcile.New(store, schemaName, a.reconcilerOpts(ctx)...)
	return r.Extract(ctx, model, memory.ForUser(kind, user), schema, req)
}

func (a *agent) updateProfile(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	call, _, err := pendingUpdate(s)
	if err != nil {
		return agentgraph.Command{}, err
	}
	if _, err := a.extract(ctx, s, memory.KindProfile, ProfileSchema, profileParameters); err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agents.Say(llm.ToolMessage(call.ID, call.Name, "updated profile"))), nil
}

func (a *agent) updateTodos(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	call, update, err := pendingUpdate(s)
	if err != nil {
		return agentgraph.Command{}, err
	}

	if update.TodoItemKey != "" {
		store, user, err := scope(ctx)
		if err != nil {
			return agentgraph.Command{}, err
		}
		if err := store.Delete(ctx, memory.ForUser(memory.KindTodo, user), update.TodoItemKey); err != nil {
			return agentgraph.Command{}, fmt.Errorf("delete todo %s: %w", update.TodoItemKey, err)
		}
		reply := fmt.Sprintf("Deleted ToDo %s", update.TodoItemKey)
		return agentgraph.Update(agents.Say(llm.ToolMessage(call.ID, call.Name, reply))), nil
	}

	out, err := a.extract(ctx, s, memory.KindTodo, ToDoSchema, todoParameters)
	if err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agents.Say(llm.ToolMessage(call.ID, call.Name, out.Changelog))), nil
}

func (a *agent) updateInstructions(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	call, _, err := pendingUpdate(s)
	if err != nil {
		return agentgraph.Command{}, err
	}
	store, user, err := scope(ctx)
	if err != nil {
		return agentgraph.Command{}, err
	}

	current, err := loadInstructions(ctx, store, user)
	if err != nil {
		return agentgraph.Command{}, err
	}
	sys, err := instructionsPrompt.Render(map[string]any{"current_instructions": current})
	if err != nil {
		return agentgraph.Command{}, err
	}

	msgs := agents.Messages(s)
	msgs = append(msgs[:len(msgs)-1:len(msgs)-1],
		llm.UserMessage("Please update the instructions based on the conversation"))
	resp, err := agents.Complete(ctx, llm.CompletionRequest{SystemPrompt: sys, Messages: msgs})
	if err != nil {
		return agentgraph.Command{}, err
	}

	ns := memory.ForUser(memory.KindInstructions, user)
	if err := store.Put(ctx, ns, InstructionsKey, map[string]any{"memory": resp.Content}); err != nil {
		return agentgraph.Command{}, fmt.Errorf("store instructions: %w", err)
	}
	return agentgraph.Update(agents.Say(llm.ToolMessage(call.ID, call.Name, "updated instructions"))), nil
}

func formatProfile(ctx agentgraph.Context, store memory.Store, user string) (string, error) {
	items, err := store.Search(ctx, memory.ForUser(memory.KindProfile, user), memory.WithLimit(1))
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	if len(items) == 0 {
		return "", nil
	}
	var p Profile
	if err := items[0].Decode(&p); err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTodos(ctx agentgraph.Context, store memory.Store, user string) (string, error) {
	items, err := store.Search(ctx, memory.ForUser(memory.KindTodo, user))
	if err != nil {
		return "", fmt.Errorf("load todos: %w", err)
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		var t ToDo
		if err := it.Decode(&t); err != nil {
			ctx.Logger().Warn("skipping malformed todo", "key", it.Key, "error", err)
			continue
		}
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s: %s", it.Key, data))
	}
	return strings.Join(lines, "\n"), nil
}

func loadInstructions(ctx agentgraph.Context, store memory.Store, user string) (string, error) {
	it, err := store.Get(ctx, memory.ForUser(memory.KindInstructions, user), InstructionsKey)
	if errors.Is(err, memory.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load instructions: %w", err)
	}
	text, _ := it.Value["memory"].(string)
	return text, nil
}
