package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// discover asks the discovery capability for the seed's links and plans them
// into batches. No links means zero batches, not a fault.
func (p *Pipeline) discover(ctx context.Context, state *State) error {
	links, err := p.discoverer.Discover(ctx, scrape.DiscoverRequest{SeedURL: state.SeedURL, Limit: 1})
	if err != nil {
		return fmt.Errorf("discover links: %w", err)
	}
	valid := p.cfg.Origin.Filter(state.SeedURL, links)
	if len(valid) > p.cfg.MaxLinks {
		valid = valid[:p.cfg.MaxLinks]
	}
	batches, err := Plan(valid, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	state.URLBatches = batches
	p.logger.Debug("links discovered",
		zap.String("url", state.SeedURL),
		zap.Int("raw", len(links)),
		zap.Int("kept", len(valid)),
		zap.Int("batches", len(batches)))
	return nil
}

// fetchBatch fetches the head batch. The batch is consumed only when the
// capability call succeeds, even if it returned no pages.
func (p *Pipeline) fetchBatch(ctx context.Context, state *State) error {
	if !state.hasBatches() {
		state.FetchedPages = nil
		return nil
	}
	batch := state.URLBatches[0]
	pages, err := p.fetcher.FetchBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("fetch batch of %d urls: %w", len(batch), err)
	}
	fetched := make([]scrape.Page, 0, len(pages))
	for _, page := range pages {
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		fetched = append(fetched, page)
	}
	state.FetchedPages = fetched
	state.URLBatches = state.URLBatches[1:]
	return nil
}

// summarize produces one summary per fetched page. Summaries are appended only
// once every page of the batch went through, so a re-entry never duplicates.
func (p *Pipeline) summarize(ctx context.Context, state *State) error {
	batch := make([]scrape.Summary, 0, len(state.FetchedPages))
	for _, page := range state.FetchedPages {
		content := Truncate(page.Content, p.cfg.ContentMaxChars)
		if strings.TrimSpace(content) == "" {
			continue
		}
		answer, err := p.summarizer.Summarize(ctx, content)
		if err != nil {
			return fmt.Errorf("summarize %s: %w", page.URL, err)
		}
		digest, err := ParseDigest(answer)
		if err != nil {
			p.logger.Debug("summary unparsable, using fallback",
				zap.String("page", page.URL),
				zap.Error(err))
			digest = FallbackDigest(content, p.cfg.FallbackDescriptionChars)
		}
		batch = append(batch, scrape.Summary{URL: page.URL, Response: digest})
	}
	state.Summaries = append(state.Summaries, batch...)
	return nil
}

// persist writes the aggregated result. Without summaries it is a no-op and
// the run ends with no payload.
func (p *Pipeline) persist(ctx context.Context, state *State) error {
	if len(state.Summaries) == 0 || state.SeedURL == "" {
		return nil
	}
	data := make([]scrape.Summary, len(state.Summaries))
	copy(data, state.Summaries)
	result := scrape.Result{SourceURL: state.SeedURL, Data: data}
	if err := p.sink.Write(ctx, result); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	state.Result = &result
	return nil
}
