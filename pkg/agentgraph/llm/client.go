// Package llm defines the model client used by agent nodes.
//
// The engine never calls a model itself. Nodes obtain a Client from their
// execution context and decide how to use it; tests use MockClient and the
// CLI wires OpenAIClient.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Client performs chat completions.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrNoToolCall indicates a structured completion returned no tool call.
var ErrNoToolCall = errors.New("model returned no tool call")

// Structured asks the model to answer by calling the single tool and decodes
// the call arguments into out. It is how nodes obtain typed output
// (routing decisions, subject lists, profile updates). Arguments that do not
// decode and answers without the tool call are escalatable: a different
// model may get them right.
func Structured(ctx context.Context, c Client, req CompletionRequest, tool Tool, out any) error {
	req.Tools = []Tool{tool}
	req.ToolChoice = tool.Name

	resp, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	for _, call := range resp.ToolCalls {
		if call.Name != tool.Name {
			continue
		}
		if err := call.Decode(out); err != nil {
			return fmt.Errorf("decode %s arguments: %w", tool.Name, parseError(call.Arguments, err))
		}
		return nil
	}
	// Some providers answer structured requests with plain JSON content.
	if resp.Content != "" && json.Valid([]byte(resp.Content)) {
		if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
			return fmt.Errorf("decode %s content: %w", tool.Name, parseError([]byte(resp.Content), err))
		}
		return nil
	}
	return agerrors.Escalatable(fmt.Errorf("%w: %s", ErrNoToolCall, tool.Name), "structured completion")
}

func parseError(input []byte, err error) *agerrors.JSONParseError {
	const limit = 200
	if len(input) > limit {
		input = input[:limit]
	}
	return &agerrors.JSONParseError{Input: string(input), Message: err.Error()}
}

// MustSchema marshals a JSON Schema literal for Tool.Parameters.
// Panics on marshal failure; intended for package-level tool definitions.
func MustSchema(schema map[string]any) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("llm: invalid schema: %v", err))
	}
	return data
}
