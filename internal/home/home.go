// Package home resolves the storyframe home directory layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the storyframe home directory.
	DefaultDirName = ".storyframe"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// StateFileName is the default checkpoint database name.
	StateFileName = "storyframe.db"

	// ExportsDirName is the subdirectory for exported output (JSON, ePub).
	ExportsDirName = "exports"
)

// Dir represents the storyframe home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.storyframe).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// StatePath returns the path to the checkpoint database.
func (d *Dir) StatePath() string {
	return filepath.Join(d.path, StateFileName)
}

// ExportsDir returns the directory for exported files.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, ExportsDirName)
}

// ExportPath returns the path for a book's export file.
func (d *Dir) ExportPath(bookID, ext string) string {
	return filepath.Join(d.ExportsDir(), bookID+ext)
}

// EnsureExists creates the home directory and subdirectories if they don't
// exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ExportsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create exports directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
