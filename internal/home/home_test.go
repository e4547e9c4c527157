package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-storyframe")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-storyframe" {
			t.Errorf("expected path /tmp/test-storyframe, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-storyframe")

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-storyframe/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("StatePath", func(t *testing.T) {
		expected := "/tmp/test-storyframe/storyframe.db"
		if dir.StatePath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.StatePath())
		}
	})

	t.Run("ExportPath", func(t *testing.T) {
		expected := "/tmp/test-storyframe/exports/my-book.epub"
		if dir.ExportPath("my-book", ".epub") != expected {
			t.Errorf("expected %s, got %s", expected, dir.ExportPath("my-book", ".epub"))
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	dir, _ := New(filepath.Join(t.TempDir(), "sfhome"))

	if dir.Exists() {
		t.Fatal("directory should not exist yet")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory not created")
	}
	if _, err := os.Stat(dir.ExportsDir()); err != nil {
		t.Errorf("exports directory not created: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("config file should not exist")
	}
}
