package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// Review actions a human can answer a ReviewRequest with.
const (
	// ActionContinue runs the tool call as proposed.
	ActionContinue = "continue"
	// ActionUpdate runs the tool call with Data as its arguments.
	ActionUpdate = "update"
	// ActionFeedback rejects the call and hands the feedback to the model.
	ActionFeedback = "feedback"
)

// ReviewRequest is the interrupt payload asking a human to approve a tool call.
type ReviewRequest struct {
	Question string       `json:"question"`
	ToolCall llm.ToolCall `json:"tool_call"`
}

// ReviewResponse is the resume value answering a ReviewRequest.
// {"action": "continue"} alone is accepted.
type ReviewResponse struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
	// Feedback is the text handed to the model for ActionFeedback. When
	// empty, Data is sent as JSON.
	Feedback string `json:"feedback,omitempty"`
}

// HumanAssistanceRequest is the interrupt payload asking a human to verify
// details the model gathered.
type HumanAssistanceRequest struct {
	Question string `json:"question"`
	Name     string `json:"name"`
	Birthday string `json:"birthday"`
}

// HumanAssistanceResponse answers a HumanAssistanceRequest. Correct starting
// with "y" accepts the model's details; otherwise Name and Birthday replace them.
type HumanAssistanceResponse struct {
	Correct  string `json:"correct"`
	Name     string `json:"name"`
	Birthday string `json:"birthday"`
}

// Accepted reports whether the human confirmed the model's details.
func (r HumanAssistanceResponse) Accepted() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(r.Correct)), "y")
}

// DecodeResume converts a resume value (a struct, a map, or raw JSON) into out.
func DecodeResume(value any, out any) error {
	switch v := value.(type) {
	case json.RawMessage:
		return json.Unmarshal(v, out)
	case []byte:
		return json.Unmarshal(v, out)
	case string:
		if json.Valid([]byte(v)) {
			return json.Unmarshal([]byte(v), out)
		}
	}
	if err := agentgraph.Decode(value, out); err != nil {
		return fmt.Errorf("decode resume value: %w", err)
	}
	return nil
}

// Validate checks the action.
func (r ReviewResponse) Validate() error {
	switch r.Action {
	case ActionContinue, ActionUpdate, ActionFeedback:
		return nil
	default:
		return fmt.Errorf("unknown review action %q", r.Action)
	}
}

// FeedbackText is what the model sees for ActionFeedback.
func (r ReviewResponse) FeedbackText() string {
	if r.Feedback != "" {
		return r.Feedback
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(data)
}
