package imagegen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const MockGeneratorName = "mock"

// MockGenerator is a deterministic Generator for testing. Failures can be
// scripted per prompt: each call consumes the next kind in the script,
// succeeding once the script is exhausted.
type MockGenerator struct {
	// Latency delays every call.
	Latency time.Duration
	// Image is the payload returned on success. When nil, the prompt
	// bytes are returned so tests can assert which prompt produced an
	// image.
	Image []byte

	mu      sync.Mutex
	scripts map[string][]ErrorKind
	calls   map[string]int
}

// NewMockGenerator creates a mock that always succeeds.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		scripts: make(map[string][]ErrorKind),
		calls:   make(map[string]int),
	}
}

// Name returns the generator identifier.
func (g *MockGenerator) Name() string {
	return MockGeneratorName
}

// FailWith scripts failures for calls whose prompt contains substr.
func (g *MockGenerator) FailWith(substr string, kinds ...ErrorKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[substr] = append(g.scripts[substr], kinds...)
}

// Calls returns how many times a prompt containing substr was submitted.
// An empty substr counts all calls.
func (g *MockGenerator) Calls(substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for prompt, n := range g.calls {
		if contains(prompt, substr) {
			total += n
		}
	}
	return total
}

// Generate returns the configured image, consuming any scripted failures
// first.
func (g *MockGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if g.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, &Error{Kind: Timeout, Op: "mock", Err: ctx.Err()}
		case <-time.After(g.Latency):
		}
	}

	g.mu.Lock()
	g.calls[prompt]++
	var kind ErrorKind
	for substr, script := range g.scripts {
		if len(script) > 0 && contains(prompt, substr) {
			kind = script[0]
			g.scripts[substr] = script[1:]
			break
		}
	}
	g.mu.Unlock()

	if kind != "" {
		return nil, &Error{Kind: kind, Op: "mock", Err: fmt.Errorf("scripted %s failure", kind)}
	}

	if g.Image != nil {
		return g.Image, nil
	}
	return []byte(prompt), nil
}

func contains(s, substr string) bool {
	return substr == "" || strings.Contains(s, substr)
}
