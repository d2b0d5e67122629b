package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// DefaultOpenAIModel is used when neither the option nor OPENAI_MODEL is set.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client with the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIOption configures OpenAIClient.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger
}

// WithAPIKey sets the API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) OpenAIOption {
	return func(c *openAIConfig) { c.apiKey = key }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithModel sets the default model. Defaults to OPENAI_MODEL, then DefaultOpenAIModel.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithClientLogger sets the logger used for request diagnostics.
func WithClientLogger(logger *slog.Logger) OpenAIOption {
	return func(c *openAIConfig) { c.logger = logger }
}

// NewOpenAIClient creates a client. It fails when no API key is available.
func NewOpenAIClient(opts ...OpenAIOption) (*OpenAIClient, error) {
	cfg := openAIConfig{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  os.Getenv("OPENAI_MODEL"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if cfg.model == "" {
		cfg.model = DefaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.model,
		logger: cfg.logger,
	}, nil
}

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	creq, err := o.buildRequest(req)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("openai completion", slog.String("model", creq.Model), slog.Int("messages", len(creq.Messages)))
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, agerrors.Escalatable(errors.New("no choices returned"), "openai completion")
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		ID:           resp.ID,
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (o *OpenAIClient) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	creq := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.SystemPrompt != "" {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		cm := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		creq.Messages = append(creq.Messages, cm)
	}

	for _, tool := range req.Tools {
		var params any
		if len(tool.Parameters) > 0 {
			params = tool.Parameters
		}
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	switch req.ToolChoice {
	case "", "auto":
	case "none", "required":
		creq.ToolChoice = req.ToolChoice
	default:
		creq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}
	if len(req.Tools) > 0 {
		creq.ParallelToolCalls = req.ParallelTools
	}
	if req.ResponseFormat == "json" {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(creq.Messages) == 0 {
		return creq, fmt.Errorf("completion request has no messages")
	}
	return creq, nil
}

// classifyOpenAIError maps API failures onto categorized errors so callers
// can retry rate limits and server errors.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &agerrors.HTTPError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Endpoint:   "chat/completions",
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &agerrors.HTTPError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Endpoint:   "chat/completions",
		}
	}
	return err
}
