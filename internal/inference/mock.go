package inference

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is a deterministic Client for testing.
type MockClient struct {
	// Configurable behavior
	Latency time.Duration
	// Respond builds the response from the prompt. When nil, the prompt
	// itself is echoed back truncated to TruncateTo runes.
	Respond    func(prompt string, maxTokens int) string
	TruncateTo int

	// FailKind, when set, makes every call fail with that kind.
	FailKind ErrorKind
	// FailFirst makes the first N calls fail as transient before
	// succeeding.
	FailFirst int

	// State
	callCount atomic.Int64
}

// NewMockClient creates a mock that echoes prompts truncated to 50 runes.
func NewMockClient() *MockClient {
	return &MockClient{TruncateTo: 50}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Calls returns how many completions were requested.
func (c *MockClient) Calls() int {
	return int(c.callCount.Load())
}

// Complete returns a deterministic completion for prompt.
func (c *MockClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	count := c.callCount.Add(1)

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", &Error{Kind: Transient, Op: "mock", Err: ctx.Err()}
		case <-time.After(c.Latency):
		}
	}

	if c.FailKind != "" {
		return "", &Error{Kind: c.FailKind, Op: "mock", Err: fmt.Errorf("mock configured to fail")}
	}
	if c.FailFirst > 0 && int(count) <= c.FailFirst {
		return "", &Error{Kind: Transient, Op: "mock", Err: fmt.Errorf("mock transient failure %d", count)}
	}

	if c.Respond != nil {
		return c.Respond(prompt, maxTokens), nil
	}

	runes := []rune(prompt)
	limit := c.TruncateTo
	if limit <= 0 || limit > len(runes) {
		limit = len(runes)
	}
	return string(runes[:limit]), nil
}
