package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const geminiGeneratorName = "gemini"

// GeminiGenerator renders images through Google's hosted image models.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator backed by the genai SDK.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini generator requires an API key")
	}
	if model == "" {
		model = "imagen-3.0-generate-002"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{client: c, model: model}, nil
}

// Name returns the generator identifier.
func (g *GeminiGenerator) Name() string {
	return geminiGeneratorName
}

// Generate renders a single image for the prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	res, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, &Error{Kind: classifyGenaiErr(err), Op: "generate", Err: err}
	}
	if len(res.GeneratedImages) == 0 || res.GeneratedImages[0].Image == nil {
		return nil, &Error{Kind: InvalidPrompt, Op: "generate", Err: fmt.Errorf("no image returned")}
	}
	img := res.GeneratedImages[0].Image.ImageBytes
	if len(img) == 0 {
		return nil, &Error{Kind: Network, Op: "generate", Err: fmt.Errorf("empty image bytes")}
	}
	return img, nil
}

// classifyGenaiErr maps SDK failures onto the retry taxonomy. The SDK
// surfaces API errors with the HTTP status embedded in the message.
func classifyGenaiErr(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return RateLimited
	case strings.Contains(msg, "400"), strings.Contains(msg, "INVALID_ARGUMENT"),
		strings.Contains(msg, "blocked"):
		return InvalidPrompt
	default:
		return Network
	}
}
