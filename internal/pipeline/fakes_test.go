package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

type fakeDiscoverer struct {
	mu    sync.Mutex
	links []string
	fails int
	err   error
	calls int
}

func (d *fakeDiscoverer) Discover(ctx context.Context, _ scrape.DiscoverRequest) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.calls <= d.fails {
		return nil, d.failure()
	}
	return append([]string(nil), d.links...), nil
}

func (d *fakeDiscoverer) failure() error {
	if d.err != nil {
		return d.err
	}
	return errors.New("discovery unavailable")
}

// fakeFetcher serves content by URL; unknown URLs are absent from the answer.
type fakeFetcher struct {
	mu      sync.Mutex
	content map[string]string
	fails   int
	calls   int
	batches [][]string
}

func (f *fakeFetcher) FetchBatch(_ context.Context, urls []string) ([]scrape.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), urls...))
	if f.calls <= f.fails {
		return nil, errors.New("fetch backend timed out")
	}
	pages := make([]scrape.Page, 0, len(urls))
	for _, u := range urls {
		if body, ok := f.content[u]; ok {
			pages = append(pages, scrape.Page{URL: u, Content: body})
		}
	}
	return pages, nil
}

// fakeSummarizer answers per content; failOnce lists contents whose first call
// fails.
type fakeSummarizer struct {
	mu       sync.Mutex
	answers  map[string]string
	fallback string
	failOnce map[string]bool
	inputs   []string
}

func (s *fakeSummarizer) Summarize(_ context.Context, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, content)
	if s.failOnce[content] {
		delete(s.failOnce, content)
		return "", errors.New("model overloaded")
	}
	if answer, ok := s.answers[content]; ok {
		return answer, nil
	}
	return s.fallback, nil
}

func (s *fakeSummarizer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

type fakeSink struct {
	mu      sync.Mutex
	results []scrape.Result
	err     error
}

func (s *fakeSink) Write(_ context.Context, result scrape.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}
