// Package headless fetches pages through headless Chrome so that content
// rendered by JavaScript reaches the summarizer.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-summarizer/internal/fetcher/extract"
	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds open browser tabs; zero means one tab per URL.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Headers           http.Header
}

// rendered is the outcome of one navigation.
type rendered struct {
	html     string
	finalURL string
	status   int
}

// Fetcher implements scrape.Discoverer and scrape.Fetcher with chromedp.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	render func(ctx context.Context, url string) (rendered, error)
}

var (
	_ scrape.Discoverer = (*Fetcher)(nil)
	_ scrape.Fetcher    = (*Fetcher)(nil)
)

// NewChromedp creates a headless fetcher backed by chromedp. Chrome is only
// started on the first navigation.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0: %w", scrape.ErrInvalidConfiguration)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	f.render = f.renderChrome
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// Closed reports whether Close has been called.
func (f *Fetcher) Closed() bool {
	return f.allocator.Err() != nil
}

// Discover renders the seed page and returns the targets of its anchors.
func (f *Fetcher) Discover(ctx context.Context, req scrape.DiscoverRequest) ([]string, error) {
	page, err := f.renderPage(ctx, req.SeedURL)
	if err != nil {
		metrics.ObservePageFetch(req.SeedURL, "error")
		return nil, fmt.Errorf("discover %s: %w", req.SeedURL, err)
	}
	metrics.ObservePageFetch(req.SeedURL, "ok")
	base := page.finalURL
	if base == "" {
		base = req.SeedURL
	}
	links, err := extract.Links(page.html, base)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", req.SeedURL, err)
	}
	return links, nil
}

// FetchBatch renders every URL and returns the visible text of those that
// loaded, in input order. Pages that fail to render are logged and skipped,
// so a batch of dead links yields no pages and no error. It fails only when
// ctx ends.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string) ([]scrape.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	pages := make([]*scrape.Page, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			page, err := f.renderPage(ctx, u)
			if err == nil {
				var text string
				text, err = extract.Text(page.html)
				if err == nil {
					pages[i] = &scrape.Page{URL: u, Content: text}
				}
			}
			if err != nil {
				errs[i] = err
				metrics.ObservePageFetch(u, "error")
				f.logger.Warn("headless fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			metrics.ObservePageFetch(u, "ok")
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("headless batch canceled: %w", err)
	}
	out := make([]scrape.Page, 0, len(urls))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	if len(out) == 0 {
		f.logger.Warn("no page in batch could be rendered",
			zap.Int("urls", len(urls)), zap.Error(errors.Join(errs...)))
		return nil, nil
	}
	return out, nil
}

func (f *Fetcher) renderPage(ctx context.Context, url string) (rendered, error) {
	if err := f.acquire(ctx); err != nil {
		return rendered{}, err
	}
	defer f.release()

	page, err := f.render(ctx, url)
	if err != nil {
		return rendered{}, err
	}
	if page.status >= http.StatusBadRequest {
		return rendered{}, fmt.Errorf("%s answered %d", url, page.status)
	}
	return page, nil
}

func (f *Fetcher) renderChrome(ctx context.Context, url string) (rendered, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html, finalURL string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return rendered{}, fmt.Errorf("chromedp run: %w", err)
	}
	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return rendered{html: html, finalURL: responseURL, status: status}, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
