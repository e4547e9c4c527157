// Package narrative maintains the rolling story summary carried from page
// to page so each illustration stays consistent with what came before.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/storyframe/storyframe/internal/inference"
	"github.com/storyframe/storyframe/internal/segment"
)

// Summary is the accumulated narrative state up to and including a page.
// Exactly one valid summary exists per page id; superseded summaries are
// discarded.
type Summary struct {
	ThroughPageID int    `json:"through_page_id"`
	Text          string `json:"summary_text"`
	TokenEstimate int    `json:"token_estimate"`
	// Version increments on every advance; prompts record it so a changed
	// summary invalidates prompts derived from the old one.
	Version int `json:"version"`
	// Degraded marks a summary carried forward unchanged after inference
	// failed. Never dropped silently.
	Degraded bool `json:"degraded,omitempty"`
}

// Config holds tracker policy parameters.
type Config struct {
	// TokenBudget caps the summary the tracker asks inference to produce.
	TokenBudget int
	// InputLimit caps combined prior-summary + page text, in runes. The
	// prior summary is truncated oldest-sentence-first to fit; the current
	// page is never truncated.
	InputLimit int
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// RetryBaseDelay is the initial backoff delay (default 500ms).
	RetryBaseDelay time.Duration
}

// Tracker folds pages into the rolling summary, one inference call per
// page, in strictly increasing page-id order.
type Tracker struct {
	client inference.Client
	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a tracker over the given inference client.
func NewTracker(client inference.Client, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Tracker{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "narrative"),
	}
}

// Advance folds page into the prior summary. prior is nil for page 0.
// On inference exhaustion the prior summary is carried forward unchanged
// and flagged degraded; the pipeline is never blocked on summarization.
func (t *Tracker) Advance(ctx context.Context, prior *Summary, page segment.Page) (Summary, error) {
	if prior == nil {
		if page.ID != 0 {
			return Summary{}, fmt.Errorf("advance without prior summary for page %d", page.ID)
		}
	} else if prior.ThroughPageID != page.ID-1 {
		return Summary{}, fmt.Errorf("advance out of order: prior through page %d, got page %d",
			prior.ThroughPageID, page.ID)
	}

	prompt := t.buildPrompt(prior, page)

	var text string
	err := retry.Do(
		func() error {
			out, err := t.client.Complete(ctx, prompt, t.cfg.TokenBudget)
			if err != nil {
				return err
			}
			text = strings.TrimSpace(out)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(t.cfg.RetryLimit)+1),
		retry.Delay(t.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(inference.IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		// Degraded continuity: keep the chain moving with the prior text.
		t.logger.Warn("summary inference failed, carrying prior forward",
			"page", page.ID, "error", err)
		carried := ""
		version := 1
		if prior != nil {
			carried = prior.Text
			version = prior.Version + 1
		}
		return Summary{
			ThroughPageID: page.ID,
			Text:          carried,
			TokenEstimate: EstimateTokens(carried),
			Version:       version,
			Degraded:      true,
		}, nil
	}

	version := 1
	if prior != nil {
		version = prior.Version + 1
	}
	return Summary{
		ThroughPageID: page.ID,
		Text:          text,
		TokenEstimate: EstimateTokens(text),
		Version:       version,
	}, nil
}

// buildPrompt combines the prior summary with the page text, truncating
// the prior summary to respect the input limit.
func (t *Tracker) buildPrompt(prior *Summary, page segment.Page) string {
	priorText := ""
	if prior != nil {
		priorText = prior.Text
	}
	if t.cfg.InputLimit > 0 {
		pageLen := len([]rune(page.Text))
		room := t.cfg.InputLimit - pageLen
		if room < 0 {
			room = 0
		}
		priorText = truncateOldest(priorText, room)
	}

	var b strings.Builder
	b.WriteString("Condense the story so far into a short summary of the characters, ")
	b.WriteString("setting, and tone. Keep it under ")
	fmt.Fprintf(&b, "%d tokens.\n\n", t.cfg.TokenBudget)
	if priorText != "" {
		b.WriteString("Story so far: ")
		b.WriteString(priorText)
		b.WriteString("\n\n")
	}
	b.WriteString("New passage: ")
	b.WriteString(page.Text)
	return b.String()
}

// truncateOldest drops whole sentences from the front of text until it
// fits within limit runes.
func truncateOldest(text string, limit int) string {
	if len([]rune(text)) <= limit {
		return text
	}
	sentences := splitSentences(text)
	for len(sentences) > 1 {
		sentences = sentences[1:]
		joined := strings.Join(sentences, " ")
		if len([]rune(joined)) <= limit {
			return joined
		}
	}
	// A single sentence still over the limit: keep its tail.
	runes := []rune(sentences[0])
	if limit <= 0 {
		return ""
	}
	if len(runes) > limit {
		runes = runes[len(runes)-limit:]
	}
	return string(runes)
}

// splitSentences is a cheap terminator-based split; summaries are model
// output, so punctuation is reliable enough for truncation purposes.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// EstimateTokens approximates the token count of text. Four characters
// per token is close enough for budget enforcement.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
