package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const ollamaClientName = "ollama"

// OllamaClient talks to a local Ollama server over its generate API.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	// Endpoint is the server base URL (default http://localhost:11434).
	Endpoint string
	// Model is the model name passed on every request.
	Model string
	// RequestTimeout bounds a single generate call.
	RequestTimeout time.Duration
	// RateLimit is requests per second (default 2).
	RateLimit float64
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama client requires a model")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 2.0
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(endpoint, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string {
	return ollamaClientName
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Complete sends a generate request and returns the completion text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: Transient, Op: "rate wait", Err: err}
	}

	body, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{NumPredict: maxTokens},
	})
	if err != nil {
		return "", &Error{Kind: Permanent, Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: Permanent, Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &Error{Kind: Transient, Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: Transient, Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		kind := Permanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = Transient
		}
		return "", &Error{
			Kind: kind,
			Op:   "generate",
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Kind: Transient, Op: "unmarshal response", Err: err}
	}
	if parsed.Error != "" {
		return "", &Error{Kind: Permanent, Op: "generate", Err: fmt.Errorf("%s", parsed.Error)}
	}

	return strings.TrimSpace(parsed.Response), nil
}
