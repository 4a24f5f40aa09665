// Package local persists results to the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// DefaultPath is the artifact written when no path is configured.
const DefaultPath = "scraped_data.json"

// Config captures the parameters for the local result file.
type Config struct {
	// Path is the JSON file overwritten on every persisted result.
	Path string `mapstructure:"path" yaml:"path"`
}

// record is the on-disk shape of a result.
type record struct {
	SourceURL string           `json:"source_url"`
	Data      []scrape.Summary `json:"data"`
}

// ResultFile writes the latest result as pretty-printed JSON.
type ResultFile struct {
	mu   sync.Mutex
	path string
}

// New creates a result file sink, making sure its directory is writable.
func New(cfg Config) (*ResultFile, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat result directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create result directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("result directory path is not a directory")
	}

	probe, err := os.CreateTemp(dir, ".writable_test")
	if err != nil {
		return nil, fmt.Errorf("result directory is not writable: %w", err)
	}
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close test file: %w", err)
	}
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ResultFile{path: path}, nil
}

// Path returns the artifact location.
func (f *ResultFile) Path() string {
	return f.path
}

// Write replaces the artifact with result. The file is written to a temporary
// sibling and renamed so readers never see a partial document.
func (f *ResultFile) Write(_ context.Context, result scrape.Result) error {
	data := result.Data
	if data == nil {
		data = []scrape.Summary{}
	}
	payload, err := json.MarshalIndent(record{SourceURL: result.SourceURL, Data: data}, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".scraped_data-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace result file: %w", err)
	}
	return nil
}
