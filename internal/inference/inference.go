// Package inference wraps the local text-inference engine behind a narrow
// interface so deterministic stubs can replace it in tests.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Client is the text-inference capability: prompt in, text out.
type Client interface {
	// Complete returns the engine's completion for prompt, capped to
	// maxTokens output tokens.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// Name returns the client identifier (e.g., "ollama").
	Name() string
}

// ErrorKind classifies inference failures for retry decisions.
type ErrorKind string

const (
	// Transient failures (timeouts, connection errors, engine overload)
	// are retried with backoff.
	Transient ErrorKind = "transient"
	// Permanent failures (malformed request, model missing) are not
	// retried; callers fall back to degraded behavior.
	Permanent ErrorKind = "permanent"
)

// Error is a classified inference failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable inference failure.
// Unclassified errors are treated as transient so a flaky engine does not
// silently degrade output.
func IsTransient(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind == Transient
	}
	return true
}
