package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store := &ResultStore{
		bucket: "bucket",
		prefix: "results",
		now:    func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 8, time.UTC) },
	}
	require.Equal(t, "results/example.com/20250304T050607.000000008Z.json", store.objectName("https://Example.com/path"))

	store.prefix = ""
	require.Equal(t, "unknown/20250304T050607.000000008Z.json", store.objectName("::bad"))
}

func TestWriteUploadsJSON(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body string
		path string
	)
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				raw, _ := io.ReadAll(r.Body)
				mu.Lock()
				body = string(raw)
				path = r.URL.Path
				mu.Unlock()
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{"bucket":"results-bucket","name":"obj"}`)),
					Header:     http.Header{"Content-Type": {"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	store, err := New(client, Config{Bucket: "results-bucket", Prefix: "/summaries/"})
	require.NoError(t, err)

	err = store.Write(context.Background(), scrape.Result{
		SourceURL: "https://example.com",
		Data:      []scrape.Summary{{URL: "https://example.com/a", Response: scrape.Digest{Title: "T", Description: "D"}}},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/b/results-bucket/o")
	require.Contains(t, body, `"source_url":"https://example.com"`)
	require.Contains(t, body, "summaries/example.com/")
}
