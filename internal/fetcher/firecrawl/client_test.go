package firecrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL + "/", APIKey: "fc-test", PollInterval: time.Millisecond}, nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, scrape.ErrInvalidConfiguration)

	c, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint, c.endpoint)
	require.Equal(t, defaultPollInterval, c.pollInterval)
}

func TestDiscoverPollsCrawlUntilCompleted(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/crawl", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))
		var body crawlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://example.com", body.URL)
		require.Equal(t, 1, body.Limit)
		require.Equal(t, []string{"links"}, body.ScrapeOptions.Formats)
		fmt.Fprint(w, `{"success":true,"id":"crawl-1"}`)
	})
	mux.HandleFunc("GET /v2/crawl/crawl-1", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"status":"scraping","data":[]}`)
			return
		}
		fmt.Fprint(w, `{"status":"completed","data":[{"links":["https://example.com/a","https://example.com/b"],"metadata":{"sourceURL":"https://example.com"}}]}`)
	})
	c := newTestClient(t, mux)

	links, err := c.Discover(context.Background(), scrape.DiscoverRequest{SeedURL: "https://example.com", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, links)
	require.Equal(t, int32(3), polls.Load())
}

func TestDiscoverEmptyCrawl(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/crawl", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"id":"c"}`)
	})
	mux.HandleFunc("GET /v2/crawl/c", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"completed","data":[]}`)
	})
	c := newTestClient(t, mux)

	links, err := c.Discover(context.Background(), scrape.DiscoverRequest{SeedURL: "https://example.com"})
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestDiscoverFailedJob(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/crawl", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"id":"c"}`)
	})
	mux.HandleFunc("GET /v2/crawl/c", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"failed","error":"blocked"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.Discover(context.Background(), scrape.DiscoverRequest{SeedURL: "https://example.com"})
	require.ErrorContains(t, err, "blocked")
}

func TestErrorStatusIsReturned(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/batch/scrape", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"payment required"}`, http.StatusPaymentRequired)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchBatch(context.Background(), []string{"https://example.com/a"})
	require.ErrorContains(t, err, "402")
	require.ErrorContains(t, err, "payment required")
}

func TestFetchBatchMatchesDocumentsAndFollowsNext(t *testing.T) {
	t.Parallel()

	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/batch/scrape", func(w http.ResponseWriter, r *http.Request) {
		var body batchScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"markdown"}, body.Formats)
		fmt.Fprint(w, `{"success":true,"id":"b1"}`)
	})
	mux.HandleFunc("GET /v2/batch/scrape/b1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"completed","next":%q,"data":[
			{"markdown":"# C","metadata":{"sourceURL":"https://example.com/c"}},
			{"markdown":"","metadata":{"sourceURL":"https://example.com/b"}}
		]}`, base+"/v2/batch/scrape/b1/page2")
	})
	mux.HandleFunc("GET /v2/batch/scrape/b1/page2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"completed","data":[
			{"markdown":"# A","metadata":{"url":"https://example.com/a"}},
			{"markdown":"# orphan","metadata":{}}
		]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	base = srv.URL
	c, err := New(Config{Endpoint: srv.URL, APIKey: "fc-test", PollInterval: time.Millisecond}, nil)
	require.NoError(t, err)

	pages, err := c.FetchBatch(context.Background(), []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c",
	})
	require.NoError(t, err)
	require.Equal(t, []scrape.Page{
		{URL: "https://example.com/a", Content: "# A"},
		{URL: "https://example.com/c", Content: "# C"},
	}, pages)
}

func TestRunJobHonorsContext(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/batch/scrape", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"id":"slow"}`)
	})
	mux.HandleFunc("GET /v2/batch/scrape/slow", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"scraping"}`)
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.FetchBatch(ctx, []string{"https://example.com/a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobNotStarted(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/batch/scrape", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"invalid urls"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.FetchBatch(context.Background(), []string{"nope"})
	require.ErrorContains(t, err, "invalid urls")
}
