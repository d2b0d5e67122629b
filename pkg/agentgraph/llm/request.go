package llm

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CompletionRequest configures a model completion call.
type CompletionRequest struct {
	// Prompt configuration
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`

	// Model configuration
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`

	// Tool use. ToolChoice is "auto" (default), "none", "required" or a tool name.
	Tools          []Tool `json:"tools,omitempty"`
	ToolChoice     string `json:"tool_choice,omitempty"`
	ParallelTools  bool   `json:"parallel_tools,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // "" or "json"
}

// Message is a conversation turn.
//
// ID identifies a message across state updates: a message appended with the
// ID of an existing one replaces it.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// UserMessage returns a user turn with a fresh ID.
func UserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant turn with a fresh ID.
func AssistantMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleAssistant, Content: content}
}

// SystemMessage returns a system turn.
func SystemMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleSystem, Content: content}
}

// ToolMessage returns the result of a tool call.
func ToolMessage(callID, name, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
	}
}

// LastToolCall returns the final tool call of the message, if any.
func (m Message) LastToolCall() (ToolCall, bool) {
	if len(m.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return m.ToolCalls[len(m.ToolCalls)-1], true
}

// Tool defines a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// CompletionResponse is the output of a completion call.
type CompletionResponse struct {
	ID           string        `json:"id,omitempty"`
	Content      string        `json:"content"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Usage        TokenUsage    `json:"usage"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Duration     time.Duration `json:"duration"`
}

// Message converts the response into an assistant message. A response
// without an ID gets a fresh one.
func (r *CompletionResponse) Message() Message {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decode unmarshals the call arguments into v.
func (c ToolCall) Decode(v any) error {
	if len(c.Arguments) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(c.Arguments, v)
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
