// Package collyfetcher discovers links and fetches page text using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-summarizer/internal/fetcher/extract"
	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultParallelism = 4
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Parallelism bounds concurrent requests within one batch.
	Parallelism int
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements scrape.Discoverer and scrape.Fetcher with Colly.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Limiter
	logger        *zap.Logger
}

var (
	_ scrape.Discoverer = (*Fetcher)(nil)
	_ scrape.Fetcher    = (*Fetcher)(nil)
)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter and logger may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = newRobotsTransport(transport, logger)
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Discover visits the seed page and returns the absolute target of every
// anchor on it, in document order. Only the seed page is retrieved.
func (f *Fetcher) Discover(ctx context.Context, req scrape.DiscoverRequest) ([]string, error) {
	if err := f.wait(ctx, req.SeedURL); err != nil {
		return nil, err
	}
	collector := f.baseCollector.Clone()
	var (
		mu       sync.Mutex
		links    []string
		fetchErr error
	)
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" {
			return
		}
		if abs := e.Request.AbsoluteURL(href); abs != "" {
			mu.Lock()
			links = append(links, abs)
			mu.Unlock()
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, req.SeedURL, &fetchErr); err != nil {
		metrics.ObservePageFetch(req.SeedURL, "error")
		return nil, fmt.Errorf("discover %s: %w", req.SeedURL, err)
	}
	metrics.ObservePageFetch(req.SeedURL, "ok")
	f.logger.Debug("discovered links", zap.String("url", req.SeedURL), zap.Int("links", len(links)))
	return links, nil
}

// FetchBatch fetches every URL concurrently and returns one page per URL
// that answered, in input order. Individual failures are logged and left
// out, so a batch where every URL failed yields no pages and no error. The
// call fails only when ctx ends or the rate limiter refuses to pace.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string) ([]scrape.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	pages := make([]*scrape.Page, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Parallelism)
	for i, u := range urls {
		g.Go(func() error {
			if err := f.wait(gctx, u); err != nil {
				return err
			}
			content, err := f.fetchOne(gctx, u)
			if err != nil {
				errs[i] = err
				metrics.ObservePageFetch(u, "error")
				f.logger.Warn("page fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			metrics.ObservePageFetch(u, "ok")
			pages[i] = &scrape.Page{URL: u, Content: content}
			return nil
		})
	}
	waitErr := g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch batch canceled: %w", err)
	}
	if waitErr != nil {
		return nil, waitErr
	}
	out := make([]scrape.Page, 0, len(urls))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	if len(out) == 0 {
		f.logger.Warn("no page in batch could be fetched",
			zap.Int("urls", len(urls)), zap.Error(errors.Join(errs...)))
		return nil, nil
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (string, error) {
	collector := f.baseCollector.Clone()
	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	f.configureCollectorHooks(collector, &body, &contentType, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return "", err
	}
	return pageText(body, contentType)
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	body *[]byte,
	contentType *string,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			*contentType = r.Headers.Get("Content-Type")
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("wait for %s: %w", rawURL, err)
	}
	return nil
}

// pageText reduces a response body to readable text. Non-HTML bodies are
// returned as they are.
func pageText(body []byte, contentType string) (string, error) {
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return strings.TrimSpace(string(body)), nil
	}
	text, err := extract.Text(string(body))
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
