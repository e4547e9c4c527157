// Package pipeline drives a book through segmentation, context tracking,
// prompt synthesis, and image generation, in page order, with resumable
// per-page state.
package pipeline

import (
	"github.com/storyframe/storyframe/internal/runstate"
	"github.com/storyframe/storyframe/internal/segment"
)

// Run states. FAILED is reachable only from configuration errors; per-page
// failures are absorbed into page results.
const (
	StateInit       = "init"
	StateSegmenting = "segmenting"
	StateProcessing = "processing"
	StateComplete   = "complete"
	StateFailed     = "failed"
)

// Warning strings attached to page results when a degraded fallback fired.
const (
	WarnDegradedContext = "context summary carried forward after inference failure"
	WarnDegradedPrompt  = "template prompt used after inference failure"
)

// PageResult pairs a page with its illustration outcome. The coordinator
// emits these in strictly increasing page-id order.
type PageResult struct {
	Page   segment.Page
	Result runstate.Result
}
