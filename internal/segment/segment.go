// Package segment carves a book's paragraph sequence into pages, the unit
// of illustration. Pages exactly partition the paragraph store: contiguous,
// non-overlapping, every paragraph covered once.
package segment

import (
	"fmt"
	"strings"

	"github.com/storyframe/storyframe/internal/book"
	"github.com/storyframe/storyframe/internal/config"
)

// DensityClass is a coarse label for how much text a page holds. It tunes
// downstream prompt verbosity, not segmentation.
type DensityClass string

const (
	DensitySparse DensityClass = "sparse"
	DensityDense  DensityClass = "dense"
)

// sparseMaxParagraphs is the paragraph count at or below which a page is
// classed sparse.
const sparseMaxParagraphs = 2

// Page is a contiguous span of paragraphs treated as one illustration unit.
// Immutable once created.
type Page struct {
	ID    int          `json:"id"`
	Start int          `json:"start"` // first paragraph index, inclusive
	End   int          `json:"end"`   // last paragraph index, inclusive
	Text  string       `json:"text"`
	Class DensityClass `json:"density_class"`
}

// ParagraphCount returns the number of paragraphs on the page.
func (p Page) ParagraphCount() int {
	return p.End - p.Start + 1
}

// Config holds the segmentation policy parameters. Lengths are in runes.
type Config struct {
	// TargetPageLength is the length the density score is normalized
	// against; pages close at a score of 1.0.
	TargetPageLength int
	// MaxPageLength is a hard cap: a page never exceeds it unless a single
	// paragraph alone does.
	MaxPageLength int
	// DialogueWeight scales the score contribution of dialogue-heavy text.
	// Dialogue reads faster than prose, so values below 1.0 let pages hold
	// more of it. Zero means the default.
	DialogueWeight float64
}

const defaultDialogueWeight = 0.7

// Segment groups the store's paragraphs into pages. A page closes when its
// density score reaches 1.0, when adding the next paragraph would exceed
// MaxPageLength, or at a scene break. A single paragraph longer than
// MaxPageLength becomes its own page; paragraphs are never split.
func Segment(store *book.Store, cfg Config) ([]Page, error) {
	if cfg.MaxPageLength <= 0 {
		return nil, &config.Error{Option: "max_page_length", Reason: "must be positive"}
	}
	if cfg.TargetPageLength <= 0 {
		return nil, &config.Error{Option: "target_page_length", Reason: "must be positive"}
	}
	if cfg.TargetPageLength > cfg.MaxPageLength {
		return nil, &config.Error{Option: "target_page_length", Reason: "must not exceed max_page_length"}
	}
	weight := cfg.DialogueWeight
	if weight <= 0 {
		weight = defaultDialogueWeight
	}

	var pages []Page
	start := -1
	accLen := 0
	score := 0.0

	flush := func(end int) {
		if start < 0 {
			return
		}
		pages = append(pages, makePage(store, len(pages), start, end))
		start = -1
		accLen = 0
		score = 0
	}

	for i := 0; i < store.Len(); i++ {
		p := store.At(i)
		length := len([]rune(p.Text))

		if start >= 0 && p.SceneBreak {
			flush(i - 1)
		}
		if start >= 0 && accLen+length > cfg.MaxPageLength {
			flush(i - 1)
		}
		if start < 0 {
			start = i
		}
		accLen += length
		score += paragraphScore(p.Text, length, cfg.TargetPageLength, weight)
		if score >= 1.0 {
			flush(i)
		}
	}
	flush(store.Len() - 1)

	return pages, nil
}

func makePage(store *book.Store, id, start, end int) Page {
	class := DensityDense
	if end-start+1 <= sparseMaxParagraphs {
		class = DensitySparse
	}
	return Page{
		ID:    id,
		Start: start,
		End:   end,
		Text:  store.Text(start, end),
		Class: class,
	}
}

// paragraphScore is the paragraph's share of a page. Dialogue-heavy
// paragraphs contribute less, so pages of dialogue hold more paragraphs.
func paragraphScore(text string, length, target int, dialogueWeight float64) float64 {
	effective := float64(length)
	if ratio := dialogueRatio(text); ratio > 0.5 {
		effective *= dialogueWeight
	}
	return effective / float64(target)
}

// dialogueRatio estimates the fraction of a paragraph inside quotation
// marks.
func dialogueRatio(text string) float64 {
	if text == "" {
		return 0
	}
	inQuote := false
	quoted := 0
	for _, r := range text {
		switch r {
		case '"', '“': // opening or straight quote
			if !inQuote {
				inQuote = true
				continue
			}
			inQuote = false
		case '”':
			inQuote = false
		default:
			if inQuote {
				quoted++
			}
		}
	}
	return float64(quoted) / float64(len([]rune(text)))
}

// Validate checks the partition property: pages must cover every paragraph
// of the store exactly once, in order. Used by tests and the coordinator's
// sanity check after segmentation.
func Validate(store *book.Store, pages []Page) error {
	next := 0
	for _, pg := range pages {
		if pg.Start != next {
			return fmt.Errorf("page %d starts at %d, want %d", pg.ID, pg.Start, next)
		}
		if pg.End < pg.Start {
			return fmt.Errorf("page %d is empty", pg.ID)
		}
		if strings.TrimSpace(pg.Text) == "" {
			return fmt.Errorf("page %d has blank text", pg.ID)
		}
		next = pg.End + 1
	}
	if next != store.Len() {
		return fmt.Errorf("pages cover %d of %d paragraphs", next, store.Len())
	}
	return nil
}
