package errors

import (
	"context"
	"log/slog"
	"time"
)

// Handler runs a model call against a chain of models. Each model gets the
// full retry budget for transient failures; escalatable failures, and
// transient ones that exhaust their retries, move on to the next model.
// Permanent failures stop the chain.
//
// A Handler holds no per-call state and may be shared.
type Handler struct {
	retry  RetryConfig
	models []string
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler returns a handler using DefaultRetry and a single unnamed
// model, which clients read as their own default.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{retry: DefaultRetry, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithRetryConfig sets the per-model retry policy.
func WithRetryConfig(cfg RetryConfig) HandlerOption {
	return func(h *Handler) { h.retry = cfg }
}

// WithModels sets the chain, preferred model first. Empty names are kept
// and mean the client default.
func WithModels(models ...string) HandlerOption {
	return func(h *Handler) { h.models = append([]string(nil), models...) }
}

// WithLogger sets where fallbacks are reported.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Models returns the chain the handler walks.
func (h *Handler) Models() []string {
	if len(h.models) == 0 {
		return []string{""}
	}
	return append([]string(nil), h.models...)
}

// ExecuteResult is the outcome of Execute.
type ExecuteResult[T any] struct {
	Value T
	Err   error

	// Model answered, or failed last.
	Model string

	// Attempts across every model tried.
	Attempts  int
	Fallbacks int
	Duration  time.Duration
}

// Execute calls fn with each model of h's chain in turn until one succeeds.
func Execute[T any](ctx context.Context, h *Handler, fn func(ctx context.Context, model string) (T, error)) ExecuteResult[T] {
	start := time.Now()
	models := h.Models()

	var res ExecuteResult[T]
	for i, model := range models {
		res.Model = model
		r := WithRetryContext(ctx, h.retry, func(ctx context.Context) (T, error) {
			return fn(ctx, model)
		})
		res.Attempts += r.Attempts
		res.Value, res.Err = r.Value, r.Err
		if r.Err == nil || i == len(models)-1 || ctx.Err() != nil {
			break
		}

		category := Categorize(r.Err)
		if category == CategoryPermanent {
			break
		}
		res.Fallbacks++
		h.logger.Warn("model failed, falling back",
			slog.String("from", model),
			slog.String("to", models[i+1]),
			slog.String("category", category.String()),
			slog.String("error", r.Err.Error()),
		)
	}
	res.Duration = time.Since(start)
	return res
}
