// Package export writes a run's ordered page results for downstream
// presentation.
package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/storyframe/storyframe/internal/pipeline"
)

// Record is the exported form of one illustrated page.
type Record struct {
	PageID       int      `json:"page_id"`
	StartPara    int      `json:"starting_paragraph"`
	EndPara      int      `json:"ending_paragraph"`
	Text         string   `json:"text"`
	DensityClass string   `json:"density_class"`
	Status       string   `json:"status"`
	PromptText   string   `json:"prompt_text,omitempty"`
	AttemptCount int      `json:"attempt_count"`
	Warnings     []string `json:"warnings,omitempty"`
	LastError    string   `json:"last_error,omitempty"`
	// ImageBase64 carries the rendered image inline; empty for failed
	// pages so the consumer can render a placeholder.
	ImageBase64 string `json:"image_base64,omitempty"`
}

// Write emits the ordered results as a JSON array.
func Write(w io.Writer, results []pipeline.PageResult) error {
	records := make([]Record, 0, len(results))
	for _, pr := range results {
		rec := Record{
			PageID:       pr.Page.ID,
			StartPara:    pr.Page.Start,
			EndPara:      pr.Page.End,
			Text:         pr.Page.Text,
			DensityClass: string(pr.Page.Class),
			Status:       string(pr.Result.Status),
			PromptText:   pr.Result.PromptText,
			AttemptCount: pr.Result.AttemptCount,
			Warnings:     pr.Result.Warnings,
			LastError:    pr.Result.LastError,
		}
		if len(pr.Result.ImageBytes) > 0 {
			rec.ImageBase64 = base64.StdEncoding.EncodeToString(pr.Result.ImageBytes)
		}
		records = append(records, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// WriteFile writes the export to path.
func WriteFile(path string, results []pipeline.PageResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()
	return Write(f, results)
}
