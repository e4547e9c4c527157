package pipeline

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/storyframe/storyframe/internal/imagegen"
	"github.com/storyframe/storyframe/internal/prompt"
	"github.com/storyframe/storyframe/internal/runstate"
)

// task is one page's illustration request, carrying warnings accumulated
// by earlier stages.
type task struct {
	bookID   string
	prompt   prompt.IllustrationPrompt
	warnings []string
}

// OrchestratorConfig holds image-generation policy parameters.
type OrchestratorConfig struct {
	// Workers is the number of concurrent image requests.
	Workers int
	// RetryLimit is the number of retries after the first attempt for
	// transient failures. Invalid-prompt rejections are never retried.
	RetryLimit int
	// RequestTimeout bounds a single generation attempt.
	RequestTimeout time.Duration
	// RetryBaseDelay is the initial backoff delay (default 1s).
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff (default 30s).
	RetryMaxDelay time.Duration
}

// Orchestrator fans prompts out to a bounded pool of image workers. Image
// requests for different pages have no cross-page dependency, so this is
// the pipeline's one concurrency opportunity; completed results are
// reordered by the coordinator at emission.
type Orchestrator struct {
	gen     imagegen.Generator
	limiter *imagegen.RateLimiter
	store   runstate.Store
	cfg     OrchestratorConfig
	logger  *slog.Logger

	tasks chan task
	done  chan runstate.Result
	wg    sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over the given generator. The
// limiter is shared across workers so the hosted service sees one rate.
func NewOrchestrator(gen imagegen.Generator, limiter *imagegen.RateLimiter, store runstate.Store, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	return &Orchestrator{
		gen:     gen,
		limiter: limiter,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		tasks:   make(chan task, cfg.Workers*2),
		done:    make(chan runstate.Result, cfg.Workers*2),
	}
}

// Start launches the worker pool. Results arrive on Done in completion
// order; ordering by page id is the coordinator's job. Done is closed
// after CloseSubmissions once all in-flight work finishes.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for t := range o.tasks {
				o.done <- o.Illustrate(ctx, t)
			}
		}()
	}
	go func() {
		o.wg.Wait()
		close(o.done)
	}()
}

// Submit queues a page for illustration. Blocks when all workers are busy
// and the queue is full, which is the pipeline's backpressure point.
func (o *Orchestrator) Submit(ctx context.Context, bookID string, p prompt.IllustrationPrompt, warnings []string) error {
	select {
	case o.tasks <- task{bookID: bookID, prompt: p, warnings: warnings}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSubmissions signals that no further prompts will be submitted.
func (o *Orchestrator) CloseSubmissions() {
	close(o.tasks)
}

// Done delivers completed results in completion order.
func (o *Orchestrator) Done() <-chan runstate.Result {
	return o.done
}

// Illustrate produces the page's illustration result: cache lookup first,
// then bounded retries with exponential backoff for transient failures.
// The result row is persisted before it is returned. Cancellation stops
// new attempts; the attempt in flight runs to its own timeout.
func (o *Orchestrator) Illustrate(ctx context.Context, t task) runstate.Result {
	hash := runstate.HashPrompt(t.prompt.Text)
	res := runstate.Result{
		PageID:         t.prompt.PageID,
		Status:         runstate.StatusPending,
		PromptText:     t.prompt.Text,
		PromptHash:     hash,
		ContextVersion: t.prompt.ContextVersion,
		Warnings:       t.warnings,
	}

	// A SUCCESS result for an unchanged prompt is never regenerated.
	if img, ok, err := o.store.CachedImage(ctx, t.bookID, t.prompt.PageID, hash); err == nil && ok {
		o.logger.Debug("image cache hit", "page", t.prompt.PageID)
		res.Status = runstate.StatusSuccess
		res.ImageBytes = img
		o.persist(ctx, t.bookID, res)
		return res
	}

	delay := o.cfg.RetryBaseDelay
	for attempt := 0; attempt <= o.cfg.RetryLimit; attempt++ {
		if ctx.Err() != nil {
			res.LastError = ctx.Err().Error()
			o.persist(ctx, t.bookID, res)
			return res
		}

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				res.LastError = err.Error()
				o.persist(ctx, t.bookID, res)
				return res
			}
		}

		res.AttemptCount = attempt + 1
		// The attempt outlives run cancellation up to its own timeout, so
		// an in-flight request can finish and be cached.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
		img, err := o.gen.Generate(attemptCtx, t.prompt.Text)
		cancel()

		if err == nil {
			res.Status = runstate.StatusSuccess
			res.ImageBytes = img
			res.LastError = ""
			o.persist(ctx, t.bookID, res)
			return res
		}

		kind := imagegen.KindOf(err)
		res.LastError = err.Error()
		if !imagegen.IsRetryable(err) {
			o.logger.Warn("permanent generation failure", "page", t.prompt.PageID, "kind", kind, "error", err)
			break
		}
		if kind == imagegen.RateLimited && o.limiter != nil {
			o.limiter.Record429()
		}
		if attempt < o.cfg.RetryLimit {
			o.logger.Debug("retrying generation", "page", t.prompt.PageID, "kind", kind, "attempt", attempt+1)
			if !sleepWithJitter(ctx, delay) {
				// Cancelled between attempts: leave the page pending so a
				// resumed run picks it up again.
				o.persist(ctx, t.bookID, res)
				return res
			}
			if delay *= 2; delay > o.cfg.RetryMaxDelay {
				delay = o.cfg.RetryMaxDelay
			}
		}
	}

	res.Status = runstate.StatusFailed
	o.logger.Warn("page illustration failed", "page", t.prompt.PageID,
		"attempts", res.AttemptCount, "error", res.LastError)
	o.persist(ctx, t.bookID, res)
	return res
}

func (o *Orchestrator) persist(ctx context.Context, bookID string, res runstate.Result) {
	// Persistence happens even under cancellation so the run resumes
	// cleanly.
	if err := o.store.SaveResult(context.WithoutCancel(ctx), bookID, res); err != nil {
		o.logger.Error("failed to persist page result", "page", res.PageID, "error", err)
	}
}

// sleepWithJitter waits delay plus up to 25% jitter, returning false if the
// context was cancelled first.
func sleepWithJitter(ctx context.Context, delay time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	select {
	case <-time.After(delay + jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
