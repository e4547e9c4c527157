package runstate

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/storyframe/storyframe/internal/narrative"
)

// storeFactories builds each Store implementation fresh for a subtest.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			run, err := store.OpenRun(ctx, "book-1")
			if err != nil {
				t.Fatalf("OpenRun failed: %v", err)
			}
			if run.State != "init" {
				t.Errorf("new run state %q, want init", run.State)
			}
			if run.LastCompletedPage != -1 {
				t.Errorf("new run high-water mark %d, want -1", run.LastCompletedPage)
			}
			if run.ID == "" {
				t.Error("new run has empty id")
			}

			if err := store.SetRunState(ctx, "book-1", "processing", 4); err != nil {
				t.Fatalf("SetRunState failed: %v", err)
			}

			again, err := store.OpenRun(ctx, "book-1")
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			if again.ID != run.ID {
				t.Errorf("reopen created a new run: %s != %s", again.ID, run.ID)
			}
			if again.State != "processing" || again.LastCompletedPage != 4 {
				t.Errorf("run not updated: state=%s mark=%d", again.State, again.LastCompletedPage)
			}
		})
	}
}

func TestStore_ResultUpsert(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			res := Result{
				PageID:         3,
				Status:         StatusPending,
				AttemptCount:   1,
				PromptText:     "a quiet hillside",
				PromptHash:     HashPrompt("a quiet hillside"),
				ContextVersion: 4,
				Warnings:       []string{"degraded_context"},
				LastError:      "timeout",
			}
			if err := store.SaveResult(ctx, "book-1", res); err != nil {
				t.Fatalf("SaveResult failed: %v", err)
			}

			got, ok, err := store.Result(ctx, "book-1", 3)
			if err != nil || !ok {
				t.Fatalf("Result: ok=%v err=%v", ok, err)
			}
			if got.Status != StatusPending || got.AttemptCount != 1 {
				t.Errorf("stored result mismatch: %+v", got)
			}
			if len(got.Warnings) != 1 || got.Warnings[0] != "degraded_context" {
				t.Errorf("warnings not preserved: %v", got.Warnings)
			}
			if got.LastError != "timeout" {
				t.Errorf("last error %q, want timeout", got.LastError)
			}

			// A second save for the same page replaces the row.
			res.Status = StatusSuccess
			res.AttemptCount = 2
			res.ImageBytes = []byte("png-bytes")
			res.LastError = ""
			if err := store.SaveResult(ctx, "book-1", res); err != nil {
				t.Fatalf("upsert failed: %v", err)
			}

			all, err := store.Results(ctx, "book-1")
			if err != nil {
				t.Fatalf("Results failed: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("expected a single row after upsert, got %d", len(all))
			}
			final := all[3]
			if final.Status != StatusSuccess || final.AttemptCount != 2 {
				t.Errorf("upsert did not replace: %+v", final)
			}
			if !bytes.Equal(final.ImageBytes, []byte("png-bytes")) {
				t.Error("image bytes not preserved")
			}

			if _, ok, _ := store.Result(ctx, "book-1", 99); ok {
				t.Error("found a result for a page that was never saved")
			}
		})
	}
}

func TestStore_CachedImage(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			hash := HashPrompt("prompt-a")
			seed := Result{
				PageID:     0,
				Status:     StatusSuccess,
				PromptHash: hash,
				ImageBytes: []byte("image-a"),
			}
			if err := store.SaveResult(ctx, "book-1", seed); err != nil {
				t.Fatalf("SaveResult failed: %v", err)
			}

			img, ok, err := store.CachedImage(ctx, "book-1", 0, hash)
			if err != nil {
				t.Fatalf("CachedImage failed: %v", err)
			}
			if !ok || !bytes.Equal(img, []byte("image-a")) {
				t.Errorf("cache miss for matching hash: ok=%v", ok)
			}

			// A different prompt hash invalidates the cache.
			if _, ok, _ := store.CachedImage(ctx, "book-1", 0, HashPrompt("prompt-b")); ok {
				t.Error("cache hit despite changed prompt")
			}

			// Non-success results never serve images.
			failed := Result{PageID: 1, Status: StatusFailed, PromptHash: hash, ImageBytes: []byte("x")}
			if err := store.SaveResult(ctx, "book-1", failed); err != nil {
				t.Fatalf("SaveResult failed: %v", err)
			}
			if _, ok, _ := store.CachedImage(ctx, "book-1", 1, hash); ok {
				t.Error("cache hit for a failed result")
			}
		})
	}
}

func TestStore_SummaryChain(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			first := narrative.Summary{ThroughPageID: 0, Text: "opening", TokenEstimate: 2, Version: 1}
			if err := store.SaveSummary(ctx, "book-1", first); err != nil {
				t.Fatalf("SaveSummary failed: %v", err)
			}
			second := narrative.Summary{ThroughPageID: 1, Text: "rising action", TokenEstimate: 4, Version: 2, Degraded: true}
			if err := store.SaveSummary(ctx, "book-1", second); err != nil {
				t.Fatalf("SaveSummary failed: %v", err)
			}

			got, ok, err := store.Summary(ctx, "book-1", 1)
			if err != nil || !ok {
				t.Fatalf("Summary: ok=%v err=%v", ok, err)
			}
			if *got != second {
				t.Errorf("summary mismatch: got %+v want %+v", *got, second)
			}

			if _, ok, _ := store.Summary(ctx, "book-1", 5); ok {
				t.Error("found a summary that was never saved")
			}

			// Re-saving the same page supersedes the old version.
			second.Text = "rising action, revised"
			second.Version = 3
			second.Degraded = false
			if err := store.SaveSummary(ctx, "book-1", second); err != nil {
				t.Fatalf("resave failed: %v", err)
			}
			got, _, _ = store.Summary(ctx, "book-1", 1)
			if got.Version != 3 || got.Degraded {
				t.Errorf("summary not superseded: %+v", got)
			}
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	run, err := store.OpenRun(ctx, "book-1")
	if err != nil {
		t.Fatalf("OpenRun failed: %v", err)
	}
	res := Result{PageID: 0, Status: StatusSuccess, PromptHash: HashPrompt("p"), ImageBytes: []byte("img")}
	if err := store.SaveResult(ctx, "book-1", res); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	again, err := reopened.OpenRun(ctx, "book-1")
	if err != nil {
		t.Fatalf("OpenRun after reopen failed: %v", err)
	}
	if again.ID != run.ID {
		t.Error("run identity lost across reopen")
	}
	if _, ok, _ := reopened.CachedImage(ctx, "book-1", 0, HashPrompt("p")); !ok {
		t.Error("cached image lost across reopen")
	}
}

func TestHashPrompt(t *testing.T) {
	a := HashPrompt("same text")
	if a != HashPrompt("same text") {
		t.Error("hash is not deterministic")
	}
	if a == HashPrompt("other text") {
		t.Error("distinct prompts collide")
	}
	if len(a) != 64 {
		t.Errorf("hash length %d, want 64 hex chars", len(a))
	}
}
