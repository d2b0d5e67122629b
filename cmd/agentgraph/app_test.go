package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agents"
	"github.com/randalmurphal/agentgraph/pkg/agents/catalog"
	"github.com/randalmurphal/agentgraph/pkg/agents/jokes"
	"github.com/randalmurphal/agentgraph/pkg/agents/searcher"
)

func rejectingModel() llm.Client {
	return llm.NewMockClient(`{"route":"` + jokes.RouteReject + `"}`)
}

func TestApp_SQLiteThreadsSurviveReopen(t *testing.T) {
	db := filepath.Join(t.TempDir(), "agentgraph.db")
	ctx := context.Background()

	a, err := newApp(testCommand(t, "--db", db, "--log-level", "error"), false)
	require.NoError(t, err)
	compiled, err := a.compile(catalog.JokeGenerator)
	require.NoError(t, err)
	res, err := compiled.Invoke(ctx, "t1", agents.Say(llm.UserMessage("What's 2+2?")), agentgraph.WithModel(rejectingModel()))
	require.NoError(t, err)
	assert.Equal(t, jokes.RejectionText, reply(res.State))
	require.NoError(t, a.Close())

	a, err = newApp(testCommand(t, "--db", db, "--log-level", "error"), false)
	require.NoError(t, err)
	defer a.Close()
	compiled, err = a.compile(catalog.JokeGenerator)
	require.NoError(t, err)

	snap, err := compiled.State(ctx, "t1")
	require.NoError(t, err)
	out := newStateOutput(snap, nil)
	assert.Equal(t, agentgraph.StatusCompleted, out.Status)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, llm.RoleAssistant, out.Messages[1].Role)
	assert.Equal(t, jokes.RouteReject, out.Values[jokes.RouteKey])
}

func TestApp_UnknownAgent(t *testing.T) {
	a, err := newApp(testCommand(t, "--store", "memory", "--log-level", "error"), false)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.compile("nope")
	assert.ErrorIs(t, err, agents.ErrUnknownAgent)
}

func TestApp_ModelRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := newApp(testCommand(t, "--store", "memory", "--log-level", "error"), true)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestApp_ServesMetrics(t *testing.T) {
	a, err := newApp(testCommand(t, "--store", "memory", "--metrics-addr", "127.0.0.1:0", "--log-level", "error"), false)
	require.NoError(t, err)
	defer a.Close()

	compiled, err := a.compile(catalog.JokeGenerator)
	require.NoError(t, err)
	_, err = compiled.Invoke(context.Background(), "t1", agents.Say(llm.UserMessage("hi")), agentgraph.WithModel(rejectingModel()))
	require.NoError(t, err)

	resp, err := http.Get("http://" + a.metricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "agentgraph_runs_total")
	assert.Contains(t, string(body), "agentgraph_node_executions_total")
}

func TestReport_PrintsResultAndError(t *testing.T) {
	var buf bytes.Buffer
	cmd := testCommand(t)
	cmd.SetOut(&buf)

	res := &agentgraph.Result{
		ThreadID: "t1",
		Status:   agentgraph.StatusCompleted,
		Step:     3,
		State:    agents.Say(llm.UserMessage("hi"), llm.AssistantMessage("hello")),
	}
	require.NoError(t, report(cmd, res, nil))
	assert.Contains(t, buf.String(), `"reply": "hello"`)
	assert.Contains(t, buf.String(), `"status": "completed"`)
}

func TestChatSession_ReviewsSearch(t *testing.T) {
	g, err := searcher.New(searcher.WithSearcher(searcher.StaticSearcher{
		Fallback: []searcher.Result{{Title: "Forecast", Content: "cloudy"}},
	}))
	require.NoError(t, err)
	model := llm.NewMockClient("").WithReplies(
		llm.CompletionResponse{ToolCalls: []llm.ToolCall{llm.Call("c1", searcher.ToolWebSearch, map[string]any{"query": "weather"})}},
		llm.CompletionResponse{Content: "It is cloudy."},
	)
	compiled, err := g.Compile(nil, agentgraph.WithModel(model))
	require.NoError(t, err)

	input := strings.Join([]string{
		"what's the weather?",
		"not json",
		`{"action":"continue"}`,
		"exit",
	}, "\n")
	var out bytes.Buffer
	s := &chatSession{graph: compiled, thread: "t1", in: bufio.NewScanner(strings.NewReader(input)), out: &out}
	require.NoError(t, s.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "["+searcher.NodeHumanReview+"]")
	assert.Contains(t, text, "Is this correct?")
	assert.Contains(t, text, "--value must be JSON")
	assert.Contains(t, text, "It is cloudy.")
}

func TestChatSession_StopsAtEOF(t *testing.T) {
	g, err := jokes.New()
	require.NoError(t, err)
	compiled, err := g.Compile(nil, agentgraph.WithModel(rejectingModel()))
	require.NoError(t, err)

	var out bytes.Buffer
	s := &chatSession{graph: compiled, thread: "t1", in: bufio.NewScanner(strings.NewReader("\nhello")), out: &out}
	require.NoError(t, s.run(context.Background()))
	assert.Contains(t, out.String(), jokes.RejectionText)
}
