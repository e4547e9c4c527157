// Package prompt turns a page and its narrative context into an
// image-generation prompt.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/storyframe/storyframe/internal/inference"
	"github.com/storyframe/storyframe/internal/narrative"
	"github.com/storyframe/storyframe/internal/segment"
)

// IllustrationPrompt is the prompt submitted to image generation for one
// page. Derived deterministically from a (page, summary) pair up to
// inference nondeterminism.
type IllustrationPrompt struct {
	PageID int    `json:"page_id"`
	Text   string `json:"prompt_text"`
	// Scene is the intermediate visual description the prompt was built
	// from; kept for export and debugging.
	Scene string `json:"scene_description,omitempty"`
	// ContextVersion records which summary version the prompt saw, so a
	// corrected summary can trigger regeneration.
	ContextVersion int `json:"context_version"`
	// Degraded marks a template fallback built without inference.
	Degraded bool `json:"degraded,omitempty"`
}

// Token budgets for the scene-description call, tuned by density class:
// sparse pages get a terse scene, dense pages a fuller one.
const (
	sparseSceneTokens = 120
	denseSceneTokens  = 240
)

// fallbackExcerptRunes bounds the page excerpt used in template prompts.
const fallbackExcerptRunes = 400

// Config holds synthesizer policy parameters.
type Config struct {
	// StyleDirective is prepended to every prompt to hold one visual
	// style across the book.
	StyleDirective string
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// RetryBaseDelay is the initial backoff delay (default 500ms).
	RetryBaseDelay time.Duration
}

// Synthesizer builds illustration prompts, one inference call per page.
type Synthesizer struct {
	client inference.Client
	cfg    Config
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer over the given inference client.
func NewSynthesizer(client inference.Client, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Synthesizer{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "prompt"),
	}
}

// Synthesize produces the image prompt for page given the summary through
// the previous page. On inference exhaustion it falls back to a template
// prompt built from the page text alone, flagged degraded.
func (s *Synthesizer) Synthesize(ctx context.Context, page segment.Page, summary narrative.Summary) (IllustrationPrompt, error) {
	maxTokens := denseSceneTokens
	if page.Class == segment.DensitySparse {
		maxTokens = sparseSceneTokens
	}

	req := s.buildRequest(page, summary)

	var scene string
	err := retry.Do(
		func() error {
			out, err := s.client.Complete(ctx, req, maxTokens)
			if err != nil {
				return err
			}
			scene = strings.TrimSpace(out)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.RetryLimit)+1),
		retry.Delay(s.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(inference.IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return IllustrationPrompt{}, ctx.Err()
		}
		s.logger.Warn("prompt inference failed, using template fallback",
			"page", page.ID, "error", err)
		return s.fallback(page, summary), nil
	}

	return IllustrationPrompt{
		PageID:         page.ID,
		Text:           s.withStyle(scene),
		Scene:          scene,
		ContextVersion: summary.Version,
	}, nil
}

// buildRequest asks for a single visual scene description covering the
// page, anchored by the running summary.
func (s *Synthesizer) buildRequest(page segment.Page, summary narrative.Summary) string {
	var b strings.Builder
	b.WriteString("Describe, in one concise paragraph, the visual scene for an ")
	b.WriteString("illustration of the following passage. Focus on the key ")
	b.WriteString("characters, setting, and mood; mention only what can be seen.\n\n")
	if summary.Text != "" {
		b.WriteString("Story context: ")
		b.WriteString(summary.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Passage: ")
	b.WriteString(page.Text)
	return b.String()
}

// fallback builds a template prompt directly from the page text.
func (s *Synthesizer) fallback(page segment.Page, summary narrative.Summary) IllustrationPrompt {
	excerpt := []rune(page.Text)
	if len(excerpt) > fallbackExcerptRunes {
		excerpt = excerpt[:fallbackExcerptRunes]
	}
	scene := fmt.Sprintf("A scene from the passage: %s", string(excerpt))
	return IllustrationPrompt{
		PageID:         page.ID,
		Text:           s.withStyle(scene),
		Scene:          scene,
		ContextVersion: summary.Version,
		Degraded:       true,
	}
}

func (s *Synthesizer) withStyle(scene string) string {
	if s.cfg.StyleDirective == "" {
		return scene
	}
	return s.cfg.StyleDirective + " Here is the specific scene to illustrate: " + scene
}
