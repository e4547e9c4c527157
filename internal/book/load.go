package book

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// bookJSON matches the ingestion format: chapters containing paragraphs,
// each paragraph a list of pre-split sentences.
type bookJSON struct {
	Title    string `json:"title"`
	Chapters []struct {
		Paragraphs []struct {
			Sentences []string `json:"sentences"`
		} `json:"paragraphs"`
	} `json:"chapters"`
}

// Load reads a book JSON file and flattens it into a Store. The file's
// base name (without extension) becomes the book id unless the JSON
// carries a title.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open book file: %w", err)
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Decode(f, id)
}

// Decode parses book JSON from r. Chapter starts are marked as scene
// breaks so the segmenter never carries a page across a chapter boundary.
func Decode(r io.Reader, fallbackID string) (*Store, error) {
	var raw bookJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode book json: %w", err)
	}

	id := strings.TrimSpace(raw.Title)
	if id == "" {
		id = fallbackID
	}

	var paragraphs []Paragraph
	for ci, chapter := range raw.Chapters {
		for pi, para := range chapter.Paragraphs {
			text := normalize(strings.Join(para.Sentences, " "))
			if text == "" {
				continue
			}
			paragraphs = append(paragraphs, Paragraph{
				Chapter:    ci + 1,
				Text:       text,
				SceneBreak: pi == 0,
			})
		}
	}
	return NewStore(id, paragraphs)
}

// normalize collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
