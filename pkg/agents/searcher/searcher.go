// Package searcher is a chat assistant that can search the web and ask a
// human for help.
//
// Every web search the model proposes is shown to a human first
// (human_review_node). The human can let it run, rewrite its arguments, or
// send feedback to the model instead. When the model calls
// human_assistance, the thread suspends until a human confirms or corrects
// the name and birthday the model gathered.
//
//	call_llm ──route──▶ human_review_node ──▶ web_search_tool ──▶ call_llm
//	   │                      └─feedback──▶ call_llm
//	   ├──────────────▶ human_assistance_tool ──▶ call_llm
//	   └──────────────▶ END
package searcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

// Node names.
const (
	NodeCallLLM         = "call_llm"
	NodeHumanReview     = "human_review_node"
	NodeWebSearch       = "web_search_tool"
	NodeHumanAssistance = "human_assistance_tool"
)

// Tool names offered to the model.
const (
	ToolWebSearch       = "web_search"
	ToolHumanAssistance = "human_assistance"
)

// State fields besides the conversation.
const (
	NameKey     = "name"
	BirthdayKey = "birthday"
)

var systemPrompt = prompt.New("searcher_system", `You are a helpful assistant.

Current Time: ${time}`)

var webSearchTool = llm.Tool{
	Name:        ToolWebSearch,
	Description: "Search the web for current information.",
	Parameters: llm.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
		},
		"required": []string{"query"},
	}),
}

var humanAssistanceTool = llm.Tool{
	Name:        ToolHumanAssistance,
	Description: "Request assistance from a human.",
	Parameters: llm.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"birthday": map[string]any{"type": "string"},
		},
		"required": []string{"name", "birthday"},
	}),
}

// Schema returns the agent's state schema.
func Schema() *agentgraph.Schema {
	return agentgraph.NewSchema(
		agents.MessagesField(),
		agentgraph.ReplaceField[string](NameKey),
		agentgraph.ReplaceField[string](BirthdayKey),
	)
}

// Option configures the agent.
type Option func(*agent)

type agent struct {
	search     Searcher
	maxResults int
	now        func() time.Time
}

// WithSearcher sets the web search backend. Without one, searches report
// that search is unavailable to the model.
func WithSearcher(s Searcher) Option {
	return func(a *agent) {
		if s != nil {
			a.search = s
		}
	}
}

// WithMaxResults caps results per search. Defaults to 2.
func WithMaxResults(n int) Option {
	return func(a *agent) {
		if n > 0 {
			a.maxResults = n
		}
	}
}

// WithClock overrides the time shown to the model.
func WithClock(now func() time.Time) Option {
	return func(a *agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds the search assistant graph.
func New(opts ...Option) (*agentgraph.Graph, error) {
	a := &agent{search: unavailable{}, maxResults: 2, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	g := agentgraph.NewGraph(Schema()).
		AddNode(NodeCallLLM, a.callLLM).
		AddSuspendingNode(NodeHumanReview, prepareReview, resumeReview,
			agentgraph.WithDestinations(NodeWebSearch, NodeCallLLM)).
		AddNode(NodeWebSearch, a.webSearch).
		AddSuspendingNode(NodeHumanAssistance, prepareAssistance, resumeAssistance).
		AddConditionalEdge(NodeCallLLM, routeAfterLLM, NodeHumanReview, NodeHumanAssistance, agentgraph.END).
		AddEdge(NodeWebSearch, NodeCallLLM).
		AddEdge(NodeHumanAssistance, NodeCallLLM).
		SetEntry(NodeCallLLM)
	return g, nil
}

func (a *agent) callLLM(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	sys, err := systemPrompt.Render(map[string]any{"time": a.now().Format(time.RFC3339)})
	if err != nil {
		return agentgraph.Command{}, err
	}

	resp, err := agents.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sys,
		Messages:     agents.Messages(s),
		Tools:        []llm.Tool{webSearchTool, humanAssistanceTool},
	})
	if err != nil {
		return agentgraph.Command{}, err
	}
	return agentgraph.Update(agents.Say(resp.Message())), nil
}

// routeAfterLLM sends human_assistance calls to a human, other tool calls
// to review, and ends when the model made none.
func routeAfterLLM(_ agentgraph.Context, s agentgraph.State) (agentgraph.Route, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return agentgraph.Route{}, err
	}
	call, ok := last.LastToolCall()
	switch {
	case !ok:
		return agentgraph.End(), nil
	case call.Name == ToolHumanAssistance:
		return agentgraph.To(NodeHumanAssistance), nil
	default:
		return agentgraph.To(NodeHumanReview), nil
	}
}

func lastToolCall(s agentgraph.State) (llm.Message, llm.ToolCall, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return llm.Message{}, llm.ToolCall{}, err
	}
	call, ok := last.LastToolCall()
	if !ok {
		return llm.Message{}, llm.ToolCall{}, fmt.Errorf("last message %s has no tool call", last.ID)
	}
	return last, call, nil
}

func prepareReview(_ agentgraph.Context, s agentgraph.State) (any, error) {
	_, call, err := lastToolCall(s)
	if err != nil {
		return nil, err
	}
	return agents.ReviewRequest{Question: "Is this correct?", ToolCall: call}, nil
}

func resumeReview(ctx agentgraph.Context, s agentgraph.State, intr agentgraph.Interrupt, value any) (agentgraph.Command, error) {
	var req agents.ReviewRequest
	if err := intr.Decode(&req); err != nil {
		return agentgraph.Command{}, fmt.Errorf("decode review request: %w", err)
	}
	var review agents.ReviewResponse
	if err := agents.DecodeResume(value, &review); err != nil {
		return agentgraph.Command{}, err
	}
	if err := review.Validate(); err != nil {
		return agentgraph.Command{}, err
	}
	ctx.Logger().Info("tool call reviewed", "action", review.Action, "tool", req.ToolCall.Name)

	switch review.Action {
	case agents.ActionUpdate:
		last, _, err := lastToolCall(s)
		if err != nil {
			return agentgraph.Command{}, err
		}
		args, err := json.Marshal(review.Data)
		if err != nil {
			return agentgraph.Command{}, fmt.Errorf("encode updated arguments: %w", err)
		}
		// Same ID: the edited message replaces the model's in place.
		updated := last
		updated.ToolCalls = []llm.ToolCall{{ID: req.ToolCall.ID, Name: req.ToolCall.Name, Arguments: args}}
		return agentgraph.Goto(NodeWebSearch, agents.Say(updated)), nil
	case agents.ActionFeedback:
		msg := llm.ToolMessage(req.ToolCall.ID, req.ToolCall.Name, review.FeedbackText())
		return agentgraph.Goto(NodeCallLLM, agents.Say(msg)), nil
	default:
		return agentgraph.Goto(NodeWebSearch, nil), nil
	}
}

func (a *agent) webSearch(ctx agentgraph.Context, s agentgraph.State) (agentgraph.Command, error) {
	last, err := agents.LastMessage(s)
	if err != nil {
		return agentgraph.Command{}, err
	}

	var replies []llm.Message
	for _, call := range last.ToolCalls {
		replies = append(replies, llm.ToolMessage(call.ID, call.Name, a.runSearch(ctx, call)))
	}
	return agentgraph.Update(agents.Say(replies...)), nil
}

// runSearch returns the tool result text. Failures are reported to the
// model rather than failing the run.
func (a *agent) runSearch(ctx agentgraph.Context, call llm.ToolCall) string {
	if call.Name != ToolWebSearch {
		return fmt.Sprintf("Error: %s is not a valid tool.", call.Name)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := call.Decode(&args); err != nil || args.Query == "" {
		return "Error: web_search needs a query."
	}

	res := agerrors.WithRetryContext(ctx, agents.RetryConfig(ctx), func(c context.Context) ([]Result, error) {
		return a.search.Search(c, args.Query, a.maxResults)
	})
	if res.Err != nil {
		ctx.Logger().Warn("web search failed", "query", args.Query, "attempts", res.Attempts, "error", res.Err)
		return fmt.Sprintf("Error: %v", res.Err)
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return string(data)
}

func prepareAssistance(_ agentgraph.Context, s agentgraph.State) (any, error) {
	_, call, err := lastToolCall(s)
	if err != nil {
		return nil, err
	}
	var args struct {
		Name     string `json:"name"`
		Birthday string `json:"birthday"`
	}
	if err := call.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", call.Name, err)
	}
	return agents.HumanAssistanceRequest{
		Question: "Is this correct?",
		Name:     args.Name,
		Birthday: args.Birthday,
	}, nil
}

func resumeAssistance(_ agentgraph.Context, s agentgraph.State, intr agentgraph.Interrupt, value any) (agentgraph.Command, error) {
	var req agents.HumanAssistanceRequest
	if err := intr.Decode(&req); err != nil {
		return agentgraph.Command{}, fmt.Errorf("decode assistance request: %w", err)
	}
	var answer agents.HumanAssistanceResponse
	if err := agents.DecodeResume(value, &answer); err != nil {
		return agentgraph.Command{}, err
	}
	_, call, err := lastToolCall(s)
	if err != nil {
		return agentgraph.Command{}, err
	}

	name, birthday, reply := req.Name, req.Birthday, "Correct"
	if !answer.Accepted() {
		name, birthday = answer.Name, answer.Birthday
		data, _ := json.Marshal(answer)
		reply = fmt.Sprintf("Made a correction: %s", data)
	}

	update := agents.Say(llm.ToolMessage(call.ID, call.Name, reply))
	update[NameKey] = name
	update[BirthdayKey] = birthday
	return agentgraph.Update(update), nil
}
