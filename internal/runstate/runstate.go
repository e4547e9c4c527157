// Package runstate persists per-page pipeline progress so an interrupted
// run can resume without redoing completed work.
package runstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/storyframe/storyframe/internal/narrative"
)

// Status is the lifecycle state of a page's illustration.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Result is one page's illustration outcome. Exactly one result row exists
// per (book, page).
type Result struct {
	PageID       int    `json:"page_id"`
	Status       Status `json:"status"`
	ImageBytes   []byte `json:"-"`
	AttemptCount int    `json:"attempt_count"`
	// PromptText and PromptHash identify the prompt the image was produced
	// for; a changed prompt invalidates the cached image.
	PromptText     string `json:"prompt_text,omitempty"`
	PromptHash     string `json:"prompt_hash,omitempty"`
	ContextVersion int    `json:"context_version,omitempty"`
	// Warnings records degraded fallbacks (summary carry-forward, template
	// prompt) attached to this page. Never dropped silently.
	Warnings  []string `json:"warnings,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Run is the persisted run-level record for a book.
type Run struct {
	ID                string    `json:"run_id"`
	BookID            string    `json:"book_id"`
	State             string    `json:"state"`
	LastCompletedPage int       `json:"last_completed_page"` // -1 before any page completes
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store persists run state, per-page results (which double as the image
// cache), and the context-summary chain. All implementations serialize
// concurrent mutations internally; the store is the pipeline's only shared
// mutable structure.
type Store interface {
	// OpenRun loads the run for bookID, creating it if absent.
	OpenRun(ctx context.Context, bookID string) (*Run, error)

	// SetRunState updates the run's state machine position and high-water
	// mark.
	SetRunState(ctx context.Context, bookID, state string, lastCompletedPage int) error

	// SaveResult upserts a page result.
	SaveResult(ctx context.Context, bookID string, res Result) error

	// Result returns the page's result, if one exists.
	Result(ctx context.Context, bookID string, pageID int) (*Result, bool, error)

	// Results returns all page results for the book keyed by page id.
	Results(ctx context.Context, bookID string) (map[int]Result, error)

	// CachedImage returns image bytes for a page whose stored result is
	// SUCCESS under the same prompt hash. Used to skip regeneration on
	// resume.
	CachedImage(ctx context.Context, bookID string, pageID int, promptHash string) ([]byte, bool, error)

	// SaveSummary persists a page's context summary, superseding any prior
	// summary for the same page id.
	SaveSummary(ctx context.Context, bookID string, s narrative.Summary) error

	// Summary returns the summary whose chain passes through pageID.
	Summary(ctx context.Context, bookID string, pageID int) (*narrative.Summary, bool, error)

	// Close releases store resources.
	Close() error
}

// HashPrompt returns the cache key component derived from a prompt text.
func HashPrompt(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
