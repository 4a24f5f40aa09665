package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// ResultStore keeps every persisted result in memory, keyed by source URL.
// A later write for the same source replaces the earlier one.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]scrape.Result
}

// NewResultStore creates a new in-memory result sink.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]scrape.Result),
	}
}

// Write stores a copy of result.
func (s *ResultStore) Write(_ context.Context, result scrape.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.SourceURL] = *result.Clone()
	return nil
}

// Lookup returns the last result written for sourceURL.
func (s *ResultStore) Lookup(sourceURL string) (scrape.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[sourceURL]
	if !ok {
		return scrape.Result{}, false
	}
	return *result.Clone(), true
}
