// Package agents holds what the conversational agents share: the message
// list field, the human-review payloads, model call helpers, and the
// registry of graph builders.
//
// Each agent lives in its own subpackage (searcher, jokes, todos) and
// exposes New, which returns an uncompiled graph. The catalog package
// registers all of them under their public names.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// MessagesKey is the state field holding the conversation.
const MessagesKey = "messages"

// Sentinel errors.
var (
	// ErrNoModel indicates a node that needs a model ran without WithModel.
	ErrNoModel = errors.New("no model client configured")

	// ErrNoStore indicates a node that needs memory ran without WithStore.
	ErrNoStore = errors.New("no memory store configured")

	// ErrUserIDRequired indicates a run without a user_id in its configuration.
	ErrUserIDRequired = errors.New("user_id is required in the run configuration")

	// ErrNoMessages indicates a node that reads the last message ran on an empty conversation.
	ErrNoMessages = errors.New("conversation has no messages")
)

// MessagesField declares the conversation: an append list where a message
// carrying the ID of an earlier one replaces it in place.
func MessagesField() agentgraph.Field {
	return agentgraph.AppendField[llm.Message](MessagesKey,
		agentgraph.KeyedBy(func(m llm.Message) string { return m.ID }))
}

// Messages returns the conversation.
func Messages(s agentgraph.State) []llm.Message {
	return agentgraph.Items[llm.Message](s, MessagesKey)
}

// LastMessage returns the final message of the conversation.
func LastMessage(s agentgraph.State) (llm.Message, error) {
	msgs := Messages(s)
	if len(msgs) == 0 {
		return llm.Message{}, ErrNoMessages
	}
	return msgs[len(msgs)-1], nil
}

// Say appends messages to the conversation.
func Say(msgs ...llm.Message) agentgraph.State {
	return agentgraph.State{MessagesKey: agentgraph.Append(msgs...)}
}

// UserID returns the user_id from the run configuration.
func UserID(ctx agentgraph.Context) (string, error) {
	id := ctx.Config().String("user_id", "")
	if id == "" {
		return "", ErrUserIDRequired
	}
	return id, nil
}

// RetryConfig reads the retry policy from the run configuration:
//
//	retry:
//	  max_attempts: 3
//	  initial_backoff: 1s
//	  max_backoff: 30s
func RetryConfig(ctx agentgraph.Context) agerrors.RetryConfig {
	cfg := ctx.Config().Sub("retry")
	def := agerrors.DefaultRetry
	return agerrors.NewRetryConfig(
		agerrors.WithMaxAttempts(cfg.Int("max_attempts", def.MaxAttempts)),
		agerrors.WithInitialBackoff(cfg.Duration("initial_backoff", def.InitialBackoff)),
		agerrors.WithMaxBackoff(cfg.Duration("max_backoff", def.MaxBackoff)),
		agerrors.WithOnRetry(func(attempt int, err error, backoff time.Duration) {
			ctx.Logger().Warn("retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// Handler builds the run's model fallback chain. The chain comes from the
// run configuration, preferred model first:
//
//	models: [gpt-4o-mini, gpt-4o]
//
// Without it every call goes to the client's default model.
func Handler(ctx agentgraph.Context) *agerrors.Handler {
	return agerrors.NewHandler(
		agerrors.WithRetryConfig(RetryConfig(ctx)),
		agerrors.WithModels(ctx.Config().StringSlice("models", nil)...),
		agerrors.WithLogger(ctx.Logger()),
	)
}

// Model returns the run's model client wrapped in the run's Handler:
// transient failures are retried and escalatable ones fall back along the
// model chain.
func Model(ctx agentgraph.Context) (llm.Client, error) {
	model := ctx.Model()
	if model == nil {
		return nil, ErrNoModel
	}
	return &handledClient{model: model, handler: Handler(ctx)}, nil
}

type handledClient struct {
	model   llm.Client
	handler *agerrors.Handler
}

func (c *handledClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	res := agerrors.Execute(ctx, c.handler, func(ctx context.Context, model string) (*llm.CompletionResponse, error) {
		return c.model.Complete(ctx, withModel(req, model))
	})
	if res.Err != nil {
		return nil, fmt.Errorf("model call: %w", res.Err)
	}
	return res.Value, nil
}

// withModel points req at model unless the caller already chose one.
func withModel(req llm.CompletionRequest, model string) llm.CompletionRequest {
	if req.Model == "" {
		req.Model = model
	}
	return req
}

// Complete calls the run's model through its Handler.
func Complete(ctx agentgraph.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model, err := Model(ctx)
	if err != nil {
		return nil, err
	}
	return model.Complete(ctx, req)
}

// Structured asks the run's model to answer through tool and decodes the
// answer into out. An answer that does not decode counts as the model's
// failure, so the Handler moves on to the next model.
func Structured(ctx agentgraph.Context, req llm.CompletionRequest, tool llm.Tool, out any) error {
	model := ctx.Model()
	if model == nil {
		return ErrNoModel
	}
	res := agerrors.Execute(ctx, Handler(ctx), func(ctx context.Context, name string) (struct{}, error) {
		return struct{}{}, llm.Structured(ctx, model, withModel(req, name), tool, out)
	})
	if res.Err != nil {
		return fmt.Errorf("structured %s: %w", tool.Name, res.Err)
	}
	return nil
}
