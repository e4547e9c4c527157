// Package book holds the ordered, immutable paragraph sequence a pipeline
// run operates on. Paragraphs are produced by ingestion and never modified
// afterwards; every downstream component addresses them by index.
package book

import (
	"fmt"
	"strings"
)

// Paragraph is a single normalized paragraph of the book.
type Paragraph struct {
	// Index is a dense 0-based position in reading order.
	Index int `json:"index"`
	// Chapter is the 1-based chapter this paragraph belongs to.
	Chapter int `json:"chapter"`
	// Text is the whitespace-normalized paragraph text.
	Text string `json:"text"`
	// SceneBreak marks a narrative break (chapter start, blank-line marker)
	// immediately before this paragraph.
	SceneBreak bool `json:"scene_break,omitempty"`
}

// Store is an immutable ordered sequence of paragraphs.
type Store struct {
	ID         string
	paragraphs []Paragraph
}

// NewStore builds a store from paragraphs already in reading order.
// It reassigns dense indices and rejects empty paragraphs.
func NewStore(id string, paragraphs []Paragraph) (*Store, error) {
	if id == "" {
		return nil, fmt.Errorf("book store requires a non-empty id")
	}
	out := make([]Paragraph, 0, len(paragraphs))
	for _, p := range paragraphs {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		p.Text = text
		p.Index = len(out)
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("book %q has no paragraphs", id)
	}
	return &Store{ID: id, paragraphs: out}, nil
}

// Len returns the number of paragraphs.
func (s *Store) Len() int {
	return len(s.paragraphs)
}

// At returns the paragraph at index i.
func (s *Store) At(i int) Paragraph {
	return s.paragraphs[i]
}

// Slice returns paragraphs in [start, end] inclusive.
func (s *Store) Slice(start, end int) []Paragraph {
	out := make([]Paragraph, end-start+1)
	copy(out, s.paragraphs[start:end+1])
	return out
}

// Text concatenates paragraphs in [start, end] inclusive, space separated.
func (s *Store) Text(start, end int) string {
	var b strings.Builder
	for i := start; i <= end; i++ {
		if i > start {
			b.WriteByte(' ')
		}
		b.WriteString(s.paragraphs[i].Text)
	}
	return b.String()
}
