// Package firecrawl adapts the Firecrawl REST API to the discovery and fetch
// capabilities. Crawl and batch scrape are asynchronous on the Firecrawl side,
// so both calls start a job and poll it until it settles.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const (
	// DefaultEndpoint is the hosted Firecrawl API.
	DefaultEndpoint     = "https://api.firecrawl.dev"
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 60 * time.Second
)

// Config configures the client.
type Config struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client implements scrape.Discoverer and scrape.Fetcher.
type Client struct {
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

var (
	_ scrape.Discoverer = (*Client)(nil)
	_ scrape.Fetcher    = (*Client)(nil)
)

// New builds a client. An API key is required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("firecrawl api key is required: %w", scrape.ErrInvalidConfiguration)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:     endpoint,
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
	}, nil
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type batchScrapeRequest struct {
	URLs    []string `json:"urls"`
	Formats []string `json:"formats"`
}

type startResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type document struct {
	Markdown string   `json:"markdown"`
	Links    []string `json:"links"`
	Metadata struct {
		SourceURL  string `json:"sourceURL"`
		URL        string `json:"url"`
		StatusCode int    `json:"statusCode"`
	} `json:"metadata"`
}

type statusResponse struct {
	Status string     `json:"status"`
	Next   string     `json:"next"`
	Error  string     `json:"error"`
	Data   []document `json:"data"`
}

// Discover crawls the seed page only and returns the links Firecrawl saw on
// it. An empty crawl yields no links.
func (c *Client) Discover(ctx context.Context, req scrape.DiscoverRequest) ([]string, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	docs, err := c.runJob(ctx, "/v2/crawl", crawlRequest{
		URL:           req.SeedURL,
		Limit:         limit,
		ScrapeOptions: scrapeOptions{Formats: []string{"links"}},
	})
	if err != nil {
		return nil, fmt.Errorf("firecrawl crawl %s: %w", req.SeedURL, err)
	}
	if len(docs) == 0 {
		c.logger.Warn("firecrawl crawl returned no documents", zap.String("url", req.SeedURL))
		return nil, nil
	}
	return append([]string(nil), docs[0].Links...), nil
}

// FetchBatch scrapes urls as markdown. Documents are matched back to their
// request URL and returned in input order; documents without metadata or
// markdown are dropped.
func (c *Client) FetchBatch(ctx context.Context, urls []string) ([]scrape.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	docs, err := c.runJob(ctx, "/v2/batch/scrape", batchScrapeRequest{
		URLs:    urls,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, fmt.Errorf("firecrawl batch scrape: %w", err)
	}

	byURL := make(map[string]string, len(docs))
	for _, doc := range docs {
		source := doc.Metadata.SourceURL
		if source == "" {
			source = doc.Metadata.URL
		}
		if source == "" || strings.TrimSpace(doc.Markdown) == "" {
			continue
		}
		byURL[source] = doc.Markdown
	}
	pages := make([]scrape.Page, 0, len(urls))
	for _, u := range urls {
		content, ok := byURL[u]
		if !ok {
			metrics.ObservePageFetch(u, "error")
			continue
		}
		metrics.ObservePageFetch(u, "ok")
		pages = append(pages, scrape.Page{URL: u, Content: content})
	}
	return pages, nil
}

// runJob starts an asynchronous job at path and polls it until completion,
// following pagination links.
func (c *Client) runJob(ctx context.Context, path string, body any) ([]document, error) {
	var started startResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint+path, body, &started); err != nil {
		return nil, err
	}
	if !started.Success || started.ID == "" {
		return nil, fmt.Errorf("job not started: %s", nonEmpty(started.Error, "no job id returned"))
	}
	statusURL := c.endpoint + path + "/" + started.ID
	logger := c.logger.With(zap.String("firecrawl_job", started.ID))
	logger.Debug("firecrawl job started", zap.String("path", path))

	for {
		var status statusResponse
		if err := c.do(ctx, http.MethodGet, statusURL, nil, &status); err != nil {
			return nil, err
		}
		switch status.Status {
		case "completed":
			return c.collect(ctx, status)
		case "failed", "cancelled":
			return nil, fmt.Errorf("job %s %s: %s", started.ID, status.Status, nonEmpty(status.Error, "no details"))
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) collect(ctx context.Context, first statusResponse) ([]document, error) {
	docs := first.Data
	next := first.Next
	for next != "" {
		var page statusResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		docs = append(docs, page.Data...)
		next = page.Next
	}
	return docs, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal firecrawl payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("firecrawl error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode firecrawl response: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("poll canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
