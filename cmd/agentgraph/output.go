package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agents"
)

// runOutput is what run and resume print.
type runOutput struct {
	ThreadID  string                `json:"thread_id"`
	Status    agentgraph.Status     `json:"status"`
	Step      int                   `json:"step"`
	Reply     string                `json:"reply,omitempty"`
	Interrupt *agentgraph.Interrupt `json:"interrupt,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// stateOutput is what state prints.
type stateOutput struct {
	ThreadID  string                `json:"thread_id"`
	Status    agentgraph.Status     `json:"status"`
	Step      int                   `json:"step"`
	Next      []string              `json:"next,omitempty"`
	Interrupt *agentgraph.Interrupt `json:"interrupt,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
	Messages  []messageOutput       `json:"messages"`
	Values    map[string]any        `json:"values,omitempty"`
	History   []historyOutput       `json:"history,omitempty"`
}

type messageOutput struct {
	Role      llm.Role `json:"role"`
	Content   string   `json:"content,omitempty"`
	ToolCalls []string `json:"tool_calls,omitempty"`
}

type historyOutput struct {
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

func newRunOutput(res *agentgraph.Result, err error) runOutput {
	out := runOutput{
		ThreadID:  res.ThreadID,
		Status:    res.Status,
		Step:      res.Step,
		Reply:     reply(res.State),
		Interrupt: res.Interrupt,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func newStateOutput(snap *agentgraph.Snapshot, history []checkpoint.Info) stateOutput {
	out := stateOutput{
		ThreadID:  snap.ThreadID,
		Status:    snap.Status,
		Step:      snap.Step,
		Next:      snap.Next,
		Interrupt: snap.Interrupt,
		UpdatedAt: snap.UpdatedAt,
		Messages:  []messageOutput{},
	}
	for _, m := range agents.Messages(snap.State) {
		mo := messageOutput{Role: m.Role, Content: m.Content}
		for _, c := range m.ToolCalls {
			mo.ToolCalls = append(mo.ToolCalls, c.Name+string(c.Arguments))
		}
		out.Messages = append(out.Messages, mo)
	}
	for k, v := range snap.State {
		if k == agents.MessagesKey {
			continue
		}
		if out.Values == nil {
			out.Values = make(map[string]any)
		}
		out.Values[k] = v
	}
	for _, h := range history {
		out.History = append(out.History, historyOutput{Step: h.Step, Timestamp: h.Timestamp, Size: h.Size})
	}
	return out
}

// reply is the text of the final assistant message, if the thread ended on one.
func reply(s agentgraph.State) string {
	last, err := agents.LastMessage(s)
	if err != nil || last.Role != llm.RoleAssistant {
		return ""
	}
	return last.Content
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
