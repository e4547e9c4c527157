package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/storyframe/storyframe/internal/inference"
	"github.com/storyframe/storyframe/internal/narrative"
	"github.com/storyframe/storyframe/internal/segment"
)

func testSynthesizer(client inference.Client, cfg Config) *Synthesizer {
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	return NewSynthesizer(client, cfg, nil)
}

func TestSynthesize_IncludesStyleAndContext(t *testing.T) {
	mock := inference.NewMockClient()
	mock.Respond = func(prompt string, _ int) string { return prompt }
	synth := testSynthesizer(mock, Config{StyleDirective: "Watercolor, soft light."})

	page := segment.Page{ID: 2, Text: "Gandalf knocked on the round green door.", Class: segment.DensityDense}
	summary := narrative.Summary{ThroughPageID: 1, Text: "Bilbo enjoys a quiet morning.", Version: 2}

	p, err := synth.Synthesize(context.Background(), page, summary)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if p.PageID != 2 {
		t.Errorf("prompt for page %d, want 2", p.PageID)
	}
	if p.ContextVersion != 2 {
		t.Errorf("context version %d, want 2", p.ContextVersion)
	}
	if p.Degraded {
		t.Error("prompt should not be degraded")
	}
	if !strings.HasPrefix(p.Text, "Watercolor, soft light.") {
		t.Errorf("style directive missing: %q", p.Text)
	}
	if !strings.Contains(p.Text, page.Text) {
		t.Error("page text missing from scene request")
	}
	if !strings.Contains(p.Text, summary.Text) {
		t.Error("context summary missing from scene request")
	}
}

func TestSynthesize_DensityTunesVerbosity(t *testing.T) {
	var budgets []int
	mock := inference.NewMockClient()
	mock.Respond = func(_ string, maxTokens int) string {
		budgets = append(budgets, maxTokens)
		return "a scene"
	}
	synth := testSynthesizer(mock, Config{})

	sparse := segment.Page{ID: 0, Text: "short", Class: segment.DensitySparse}
	dense := segment.Page{ID: 1, Text: "long", Class: segment.DensityDense}
	summary := narrative.Summary{Version: 1}

	if _, err := synth.Synthesize(context.Background(), sparse, summary); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), dense, summary); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(budgets) != 2 || budgets[0] >= budgets[1] {
		t.Errorf("sparse pages should request terser scenes: %v", budgets)
	}
}

func TestSynthesize_FallbackOnPermanentFailure(t *testing.T) {
	mock := inference.NewMockClient()
	mock.FailKind = inference.Permanent
	synth := testSynthesizer(mock, Config{StyleDirective: "Ink sketch.", RetryLimit: 3})

	page := segment.Page{ID: 4, Text: "The dragon stirred beneath the mountain.", Class: segment.DensityDense}
	summary := narrative.Summary{ThroughPageID: 3, Version: 4}

	p, err := synth.Synthesize(context.Background(), page, summary)
	if err != nil {
		t.Fatalf("Synthesize should absorb inference failure, got: %v", err)
	}
	if !p.Degraded {
		t.Error("expected degraded template prompt")
	}
	if !strings.Contains(p.Text, page.Text) {
		t.Error("template prompt should be built from the page text")
	}
	if !strings.HasPrefix(p.Text, "Ink sketch.") {
		t.Error("style directive should still apply to the fallback")
	}
	if mock.Calls() != 1 {
		t.Errorf("permanent failure retried: %d calls", mock.Calls())
	}
}

func TestSynthesize_RetriesTransient(t *testing.T) {
	mock := inference.NewMockClient()
	mock.FailFirst = 2
	synth := testSynthesizer(mock, Config{RetryLimit: 3})

	page := segment.Page{ID: 0, Text: "text", Class: segment.DensitySparse}
	p, err := synth.Synthesize(context.Background(), page, narrative.Summary{Version: 1})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if p.Degraded {
		t.Error("prompt should not be degraded after successful retry")
	}
	if mock.Calls() != 3 {
		t.Errorf("expected 3 inference calls, got %d", mock.Calls())
	}
}

func TestFallback_BoundsExcerpt(t *testing.T) {
	synth := testSynthesizer(inference.NewMockClient(), Config{})
	page := segment.Page{ID: 0, Text: strings.Repeat("a", 2000), Class: segment.DensityDense}

	p := synth.fallback(page, narrative.Summary{Version: 1})
	if n := len([]rune(p.Text)); n > 600 {
		t.Errorf("fallback prompt too long: %d runes", n)
	}
}
