package errors

import (
	"fmt"
	"time"
)

// HTTPError is a non-success response from a model provider or tool API.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string

	// RetryAfter is the server's requested wait, zero when not given.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// JSONParseError is model or tool output that did not decode. Another model
// may produce valid output for the same request.
type JSONParseError struct {
	// Input is the offending text, possibly truncated.
	Input   string
	Message string
}

func (e *JSONParseError) Error() string {
	if e.Input == "" {
		return "unparseable output: " + e.Message
	}
	return fmt.Sprintf("unparseable output %q: %s", e.Input, e.Message)
}
