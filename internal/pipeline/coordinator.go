package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storyframe/storyframe/internal/book"
	"github.com/storyframe/storyframe/internal/config"
	"github.com/storyframe/storyframe/internal/imagegen"
	"github.com/storyframe/storyframe/internal/inference"
	"github.com/storyframe/storyframe/internal/narrative"
	"github.com/storyframe/storyframe/internal/prompt"
	"github.com/storyframe/storyframe/internal/runstate"
	"github.com/storyframe/storyframe/internal/segment"
)

// Coordinator wires the stages together and drives them in page order.
//
// The context and prompt stages are an explicit fold over the page
// sequence: page n's summary depends on page n-1's, so those calls are
// serialized. Image generation has no cross-page dependency and runs on
// the orchestrator's worker pool; output ordering is restored at emission.
type Coordinator struct {
	Inference inference.Client
	Generator imagegen.Generator
	Limiter   *imagegen.RateLimiter
	Store     runstate.Store
	Config    *config.Config
	Logger    *slog.Logger
}

// Run processes the whole book and returns per-page results in strictly
// increasing page-id order. Per-page failures are absorbed into FAILED
// results; only configuration errors fail the run itself. On cancellation
// the run state is persisted and the partial ordered output is returned
// together with the context error.
func (c *Coordinator) Run(ctx context.Context, store *book.Store) ([]PageResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "coordinator", "book", store.ID)

	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	run, err := c.Store.OpenRun(ctx, store.ID)
	if err != nil {
		return nil, fmt.Errorf("open run: %w", err)
	}
	logger.Info("run opened", "run_id", run.ID, "state", run.State,
		"last_completed_page", run.LastCompletedPage)

	// Segmentation is deterministic, so a resumed run recreates the same
	// pages from the same book and config.
	if err := c.Store.SetRunState(ctx, store.ID, StateSegmenting, run.LastCompletedPage); err != nil {
		return nil, fmt.Errorf("persist run state: %w", err)
	}
	pages, err := segment.Segment(store, segment.Config{
		TargetPageLength: c.Config.Segmenter.TargetPageLength,
		MaxPageLength:    c.Config.Segmenter.MaxPageLength,
		DialogueWeight:   c.Config.Segmenter.DialogueWeight,
	})
	if err != nil {
		_ = c.Store.SetRunState(ctx, store.ID, StateFailed, run.LastCompletedPage)
		return nil, err
	}
	if err := segment.Validate(store, pages); err != nil {
		_ = c.Store.SetRunState(ctx, store.ID, StateFailed, run.LastCompletedPage)
		return nil, fmt.Errorf("segmentation: %w", err)
	}
	logger.Info("book segmented", "pages", len(pages))

	existing, err := c.Store.Results(ctx, store.ID)
	if err != nil {
		return nil, fmt.Errorf("load prior results: %w", err)
	}

	if err := c.Store.SetRunState(ctx, store.ID, StateProcessing, run.LastCompletedPage); err != nil {
		return nil, fmt.Errorf("persist run state: %w", err)
	}

	tracker := narrative.NewTracker(c.Inference, narrative.Config{
		TokenBudget: c.Config.Context.TokenBudget,
		InputLimit:  c.Config.Context.InputLimit,
		RetryLimit:  c.Config.Inference.RetryLimit,
	}, logger)
	synth := prompt.NewSynthesizer(c.Inference, prompt.Config{
		StyleDirective: c.Config.Prompt.StyleDirective,
		RetryLimit:     c.Config.Inference.RetryLimit,
	}, logger)
	orch := NewOrchestrator(c.Generator, c.Limiter, c.Store, OrchestratorConfig{
		Workers:        c.Config.Images.WorkerConcurrency,
		RetryLimit:     c.Config.Images.RetryLimit,
		RetryBaseDelay: c.Config.Images.RetryBaseDelay,
		RequestTimeout: c.Config.Images.RequestTimeout,
	}, logger)
	orch.Start(ctx)

	// reused holds terminal results skipped on resume; the collector
	// interleaves them with fresh completions at emission. Read-only once
	// built, so producer and collector can share it.
	reused := make(map[int]runstate.Result, len(existing))
	for id, prev := range existing {
		if prev.Status.Terminal() {
			reused[id] = prev
		}
	}

	collectDone := make(chan struct{})
	var ordered []PageResult
	go func() {
		defer close(collectDone)
		ordered = c.collect(ctx, store.ID, pages, reused, orch.Done(), logger)
	}()

	// The fold: context chain and prompt synthesis, strictly page order.
	submitErr := c.produce(ctx, store, pages, reused, tracker, synth, orch, logger)

	orch.CloseSubmissions()
	<-collectDone

	lastCompleted := contiguousTerminal(ordered)
	if submitErr != nil || ctx.Err() != nil {
		// Persist progress for resume; keep the run in processing state.
		_ = c.Store.SetRunState(context.WithoutCancel(ctx), store.ID, StateProcessing, lastCompleted)
		if submitErr == nil {
			submitErr = ctx.Err()
		}
		logger.Info("run interrupted", "completed_pages", len(ordered))
		return ordered, submitErr
	}

	if err := c.Store.SetRunState(ctx, store.ID, StateComplete, lastCompleted); err != nil {
		return ordered, fmt.Errorf("persist run state: %w", err)
	}
	logger.Info("run complete", "pages", len(ordered))
	return ordered, nil
}

// produce walks pages in order: reseeds or advances the summary chain,
// synthesizes prompts, and submits image work. Returns on the first
// context cancellation or store failure.
func (c *Coordinator) produce(
	ctx context.Context,
	store *book.Store,
	pages []segment.Page,
	reused map[int]runstate.Result,
	tracker *narrative.Tracker,
	synth *prompt.Synthesizer,
	orch *Orchestrator,
	logger *slog.Logger,
) error {
	var prior *narrative.Summary

	for _, page := range pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if prev, ok := reused[page.ID]; ok {
			// Completed on a prior run: reuse the result, but keep the
			// summary chain seeded for the pages that follow.
			sum, err := c.seedSummary(ctx, store.ID, tracker, prior, page)
			if err != nil {
				return err
			}
			prior = sum
			logger.Debug("page reused from prior run", "page", page.ID, "status", prev.Status)
			continue
		}

		sum, err := tracker.Advance(ctx, prior, page)
		if err != nil {
			return fmt.Errorf("advance context for page %d: %w", page.ID, err)
		}
		if err := c.Store.SaveSummary(ctx, store.ID, sum); err != nil {
			return fmt.Errorf("persist summary for page %d: %w", page.ID, err)
		}
		prior = &sum

		var warnings []string
		if sum.Degraded {
			warnings = append(warnings, WarnDegradedContext)
		}

		p, err := synth.Synthesize(ctx, page, sum)
		if err != nil {
			return fmt.Errorf("synthesize prompt for page %d: %w", page.ID, err)
		}
		if p.Degraded {
			warnings = append(warnings, WarnDegradedPrompt)
		}

		if err := orch.Submit(ctx, store.ID, p, warnings); err != nil {
			return err
		}
	}
	return nil
}

// seedSummary restores the summary chain through a page completed on a
// prior run, preferring the persisted summary and replaying the tracker
// only when it is missing.
func (c *Coordinator) seedSummary(ctx context.Context, bookID string, tracker *narrative.Tracker, prior *narrative.Summary, page segment.Page) (*narrative.Summary, error) {
	if sum, ok, err := c.Store.Summary(ctx, bookID, page.ID); err == nil && ok {
		return sum, nil
	} else if err != nil {
		return nil, fmt.Errorf("load summary for page %d: %w", page.ID, err)
	}

	sum, err := tracker.Advance(ctx, prior, page)
	if err != nil {
		return nil, fmt.Errorf("replay context for page %d: %w", page.ID, err)
	}
	if err := c.Store.SaveSummary(ctx, bookID, sum); err != nil {
		return nil, fmt.Errorf("persist summary for page %d: %w", page.ID, err)
	}
	return &sum, nil
}

// collect merges reused results with fresh completions and emits pages in
// strictly increasing page-id order, updating the run's high-water mark as
// each page is released.
func (c *Coordinator) collect(ctx context.Context, bookID string, pages []segment.Page, reused map[int]runstate.Result, done <-chan runstate.Result, logger *slog.Logger) []PageResult {
	byID := make(map[int]segment.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}

	pending := make(map[int]runstate.Result)
	ordered := make([]PageResult, 0, len(pages))
	next := 0

	flush := func() {
		for next < len(pages) {
			res, ok := pending[next]
			if !ok {
				res, ok = reused[next]
			}
			if !ok {
				return
			}
			delete(pending, next)
			ordered = append(ordered, PageResult{Page: byID[next], Result: res})
			_ = c.Store.SetRunState(context.WithoutCancel(ctx), bookID, StateProcessing, next)
			next++
		}
	}

	for res := range done {
		if !res.Status.Terminal() {
			// Cancelled mid-flight; the page stays pending for resume and
			// blocks emission of everything after it.
			logger.Debug("page left pending", "page", res.PageID)
			continue
		}
		pending[res.PageID] = res
		flush()
	}
	flush()
	return ordered
}

// contiguousTerminal returns the highest page id in the ordered prefix, or
// -1 when nothing completed.
func contiguousTerminal(ordered []PageResult) int {
	if len(ordered) == 0 {
		return -1
	}
	return ordered[len(ordered)-1].Page.ID
}
