package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const httpGeneratorName = "http"

// HTTPGenerator submits prompts to a hosted image endpoint (a Flux-style
// service) that accepts JSON and returns the rendered image.
// A single Generate call makes exactly one request; retry policy lives in
// the orchestrator.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// HTTPConfig configures an HTTPGenerator.
type HTTPConfig struct {
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
}

// NewHTTPGenerator creates a generator for a hosted image endpoint.
func NewHTTPGenerator(cfg HTTPConfig) (*HTTPGenerator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http generator requires an endpoint")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &HTTPGenerator{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the generator identifier.
func (g *HTTPGenerator) Name() string {
	return httpGeneratorName
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	// Image is base64-encoded image bytes.
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

// Generate submits the prompt and returns decoded image bytes.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(imageRequest{Prompt: prompt})
	if err != nil {
		return nil, &Error{Kind: InvalidPrompt, Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: InvalidPrompt, Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		kind := Network
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
			kind = Timeout
		}
		return nil, &Error{Kind: kind, Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: Network, Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind: classifyStatus(resp.StatusCode),
			Op:   "generate",
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed imageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: Network, Op: "unmarshal response", Err: err}
	}
	if parsed.Error != "" {
		return nil, &Error{Kind: InvalidPrompt, Op: "generate", Err: fmt.Errorf("%s", parsed.Error)}
	}

	img, err := base64.StdEncoding.DecodeString(parsed.Image)
	if err != nil {
		return nil, &Error{Kind: Network, Op: "decode image", Err: err}
	}
	if len(img) == 0 {
		return nil, &Error{Kind: Network, Op: "generate", Err: fmt.Errorf("empty image in response")}
	}
	return img, nil
}

// classifyStatus maps HTTP status codes onto the retry taxonomy.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return InvalidPrompt
	case status >= 500:
		return Network
	default:
		return InvalidPrompt
	}
}
