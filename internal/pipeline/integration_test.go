package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/site-summarizer/internal/fetcher/colly"
	"github.com/JakeFAU/site-summarizer/internal/llm"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// newLinkedSite serves a seed page linking to every path in links. Paths
// listed in pages answer with a small HTML page; the rest answer 404.
func newLinkedSite(t *testing.T, links []string, pages ...string) *httptest.Server {
	t.Helper()
	live := make(map[string]bool, len(pages))
	for _, p := range pages {
		live[p] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch {
		case r.URL.Path == "/":
			var b strings.Builder
			b.WriteString("<html><body>")
			for _, l := range links {
				fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
			}
			b.WriteString("</body></html>")
			fmt.Fprint(w, b.String())
		case live[r.URL.Path]:
			fmt.Fprintf(w, `<html><head><title>Page %s</title></head><body>content of %s</body></html>`, r.URL.Path, r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newGeminiModel answers every request with a fixed digest, except prompts
// mentioning silent, which get an answer without candidates.
func newGeminiModel(t *testing.T, silent string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if silent != "" && strings.Contains(string(body), silent) {
			fmt.Fprint(w, `{"candidates":[]}`)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"title\":\"T\",\"description\":\"D\"}"}]}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newLivePipeline(t *testing.T, cfg Config, modelURL string, sink scrape.ResultSink) *Pipeline {
	t.Helper()
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second, Parallelism: 2}, nil, nil)
	summarizer, err := llm.NewGeminiClient(llm.Config{Endpoint: modelURL, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	return newTestPipeline(t, cfg, fetcher, fetcher, summarizer, sink)
}

func TestRunSkipsDeadLinkInOwnBatch(t *testing.T) {
	t.Parallel()

	site := newLinkedSite(t, []string{"/a", "/dead"}, "/a")
	model := newGeminiModel(t, "")
	sink := &fakeSink{}
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	p := newLivePipeline(t, cfg, model.URL, sink)
	result, err := p.Run(context.Background(), Request{JobID: "dead-link", SeedURL: site.URL})
	require.NoError(t, err)
	require.Equal(t, &scrape.Result{
		SourceURL: site.URL,
		Data: []scrape.Summary{
			{URL: site.URL + "/a", Response: scrape.Digest{Title: "T", Description: "D"}},
		},
	}, result)
	require.Len(t, sink.results, 1)
}

func TestRunRecordsFallbackWhenModelAnswersNothing(t *testing.T) {
	t.Parallel()

	site := newLinkedSite(t, []string{"/a", "/b"}, "/a", "/b")
	model := newGeminiModel(t, "content of /b")
	sink := &fakeSink{}

	p := newLivePipeline(t, DefaultConfig(), model.URL, sink)
	result, err := p.Run(context.Background(), Request{JobID: "empty-answer", SeedURL: site.URL})
	require.NoError(t, err)
	require.Len(t, result.Data, 2)
	require.Equal(t, site.URL+"/a", result.Data[0].URL)
	require.Equal(t, "T", result.Data[0].Response.Title)
	require.Equal(t, site.URL+"/b", result.Data[1].URL)
	require.Equal(t, FallbackTitle, result.Data[1].Response.Title)
	require.Contains(t, result.Data[1].Response.Description, "content of /b")
}
