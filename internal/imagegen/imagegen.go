// Package imagegen wraps the hosted image-generation service behind a
// narrow interface so deterministic stubs can replace it in tests.
package imagegen

import (
	"context"
	"errors"
	"fmt"
)

// Generator is the image-generation capability: prompt in, image bytes out.
type Generator interface {
	// Generate submits a prompt and returns the rendered image bytes.
	Generate(ctx context.Context, prompt string) ([]byte, error)

	// Name returns the generator identifier (e.g., "http", "gemini").
	Name() string
}

// ErrorKind classifies generation failures for retry decisions.
type ErrorKind string

const (
	// RateLimited requests are retried after backoff.
	RateLimited ErrorKind = "rate_limited"
	// Network covers connection resets and server-side errors; retried.
	Network ErrorKind = "network"
	// Timeout covers per-request deadline expiry; retried.
	Timeout ErrorKind = "timeout"
	// InvalidPrompt covers rejections of the prompt itself (content
	// policy, malformed input); never retried.
	InvalidPrompt ErrorKind = "invalid_prompt"
)

// Error is a classified generation failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imagegen %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt. Unclassified
// errors are retried; only an explicit invalid-prompt rejection is final.
func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind != InvalidPrompt
	}
	return true
}

// KindOf returns the error's classification, or Network for unclassified
// failures.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Network
}
