package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MockClient is a scripted Client for tests.
//
// Responses are served in order and cycle when exhausted. A complete func,
// when set, takes precedence and can inspect the request. MockClient is safe
// for concurrent use, which matters for fan-out nodes.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	next      int
	err       error
	fn        func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls records every request in arrival order.
	Calls []CompletionRequest
}

// NewMockClient returns a mock that always answers with content.
func NewMockClient(content string) *MockClient {
	return &MockClient{
		responses: []CompletionResponse{{Content: content, FinishReason: "stop"}},
	}
}

// WithResponses replaces the script with plain-text responses.
func (m *MockClient) WithResponses(contents ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make([]CompletionResponse, len(contents))
	for i, c := range contents {
		m.responses[i] = CompletionResponse{Content: c, FinishReason: "stop"}
	}
	m.next = 0
	return m
}

// WithReplies replaces the script with full responses (tool calls included).
func (m *MockClient) WithReplies(replies ...CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]CompletionResponse(nil), replies...)
	m.next = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc routes every call through fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.fn
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	var resp CompletionResponse
	if fn == nil && len(m.responses) > 0 {
		resp = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	resp.Usage = approximateUsage(req, resp)
	return &resp, nil
}

// CallCount returns the number of calls made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds the script.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

// Call builds a ToolCall whose arguments are args marshalled as JSON.
// Panics if args cannot be marshalled.
func Call(id, name string, args any) ToolCall {
	data, err := json.Marshal(args)
	if err != nil {
		panic("llm: marshal tool call arguments: " + err.Error())
	}
	return ToolCall{ID: id, Name: name, Arguments: data}
}

// approximateUsage estimates token counts at four characters per token.
func approximateUsage(req CompletionRequest, resp CompletionResponse) TokenUsage {
	var in strings.Builder
	in.WriteString(req.SystemPrompt)
	for _, msg := range req.Messages {
		in.WriteString(msg.Content)
	}
	u := TokenUsage{
		InputTokens:  in.Len()/4 + 1,
		OutputTokens: len(resp.Content)/4 + 1,
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u
}
