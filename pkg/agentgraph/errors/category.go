// Package errors classifies failures raised inside agent nodes and decides
// what can recover them.
//
// Engine errors (routing, state shape, resume protocol) live in the agentgraph
// package and are never retried. This package covers the work nodes do:
// model calls and tool calls. A transient failure is retried against the same
// model; an escalatable one moves on to the next model of the chain; a
// permanent one fails the node.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category is the recovery strategy for an error.
type Category int

const (
	// CategoryTransient failures may pass on the next attempt: rate limits,
	// overloaded providers, network timeouts.
	CategoryTransient Category = iota

	// CategoryPermanent failures recur whatever is tried: bad credentials,
	// unknown endpoints, cancellation.
	CategoryPermanent

	// CategoryEscalatable failures depend on the model: rejected prompts,
	// empty completions, malformed tool arguments.
	CategoryEscalatable
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryEscalatable:
		return "escalatable"
	}
	return "unknown"
}

// CategorizedError pins a category on an error.
type CategorizedError struct {
	Err      error
	Category Category

	// Attempts made before giving up, zero when not retried.
	Attempts int

	// Op names the operation that failed.
	Op string
}

func (e *CategorizedError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (%s, %d attempts)", msg, e.Category, e.Attempts)
	}
	return msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient marks err as worth retrying.
func Transient(err error, op string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Op: op}
}

// Permanent marks err as unrecoverable.
func Permanent(err error, op string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Op: op}
}

// Escalatable marks err as worth retrying on a different model.
func Escalatable(err error, op string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryEscalatable, Op: op}
}

// Categorize decides how err should be handled. Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return categorizeStatus(httpErr.StatusCode)
	}

	var parseErr *JSONParseError
	if errors.As(err, &parseErr) {
		return CategoryEscalatable
	}

	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}
	return CategoryPermanent
}

func categorizeStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return CategoryTransient
	case code >= 500:
		return CategoryTransient
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge, code == http.StatusUnprocessableEntity:
		// Context length and tool schema rejections are model specific.
		return CategoryEscalatable
	}
	return CategoryPermanent
}

// IsRetryable reports whether err should be retried against the same model.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
