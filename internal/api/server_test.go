package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/clock/system"
	"github.com/JakeFAU/site-summarizer/internal/id/uuid"
	"github.com/JakeFAU/site-summarizer/internal/jobs"
	"github.com/JakeFAU/site-summarizer/internal/pipeline"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
	"github.com/JakeFAU/site-summarizer/internal/storage/memory"
)

var sampleResult = &scrape.Result{
	SourceURL: "https://example.com",
	Data: []scrape.Summary{
		{URL: "https://example.com/a", Response: scrape.Digest{Title: "A", Description: "About A"}},
	},
}

func TestServer_RootAndProbes(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeJobService{}, Options{Version: "1.2.3"}, zap.NewNop())

	rec := serve(server, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Site Summarizer API","status":"running","version":"1.2.3"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz", "").Code)

	rec = serve(server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_SubmitJob(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeJobService{job: scrape.Job{ID: "job-1", Status: scrape.JobStatusPending, CreatedAt: created}}
	server := NewServer(svc, Options{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/scrape", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{
		"jobId":"job-1",
		"status":"pending",
		"message":"Scraping job created successfully",
		"createdAt":"2026-01-02T03:04:05Z"
	}`, rec.Body.String())
	require.Equal(t, []string{"https://example.com"}, svc.submitted)
}

func TestServer_SubmitJobErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "invalid json", body: `{invalid`, want: http.StatusBadRequest},
		{name: "invalid url", body: `{"url":"ftp://x"}`, err: fmt.Errorf("%w: bad scheme", scrape.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "shutting down", body: `{"url":"https://x.org"}`, err: jobs.ErrShuttingDown, want: http.StatusServiceUnavailable},
		{name: "store failure", body: `{"url":"https://x.org"}`, err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(&fakeJobService{err: tc.err}, Options{}, zap.NewNop())
			rec := serve(server, http.MethodPost, "/scrape", tc.body)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{job: scrape.Job{ID: "job-1", SourceURL: "https://example.com", Status: scrape.JobStatusRunning}}
	server := NewServer(svc, Options{}, zap.NewNop())

	rec := serve(server, http.MethodGet, "/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job scrape.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, scrape.JobStatusRunning, job.Status)

	svc.err = fmt.Errorf("get job x: %w", scrape.ErrNotFound)
	rec = serve(server, http.MethodGet, "/jobs/x", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Job not found"}`, rec.Body.String())
}

func TestServer_GetJobResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		result    *scrape.Result
		resultErr error
		want      int
		contains  string
	}{
		{name: "completed", result: sampleResult, want: http.StatusOK, contains: `"sourceUrl":"https://example.com"`},
		{name: "not ready", resultErr: scrape.ErrNotReady, want: http.StatusTooEarly, contains: "Job is still running"},
		{name: "failed", resultErr: &scrape.JobFailedError{JobID: "j", Message: "fetch batch of 1 urls: timeout"}, want: http.StatusInternalServerError, contains: "Job failed: fetch batch of 1 urls: timeout"},
		{name: "no result", resultErr: scrape.ErrNoResult, want: http.StatusNotFound, contains: "No result found"},
		{name: "unknown", resultErr: scrape.ErrNotFound, want: http.StatusNotFound, contains: "Job not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeJobService{
				job:       scrape.Job{ID: "j", Status: scrape.JobStatusRunning},
				result:    tc.result,
				resultErr: tc.resultErr,
			}
			server := NewServer(svc, Options{}, zap.NewNop())
			rec := serve(server, http.MethodGet, "/jobs/j/result", "")
			require.Equal(t, tc.want, rec.Code)
			require.Contains(t, rec.Body.String(), tc.contains)
		})
	}
}

func TestServer_ScrapeSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   *scrape.Result
		err      error
		want     int
		contains string
	}{
		{name: "ok", result: sampleResult, want: http.StatusOK, contains: "About A"},
		{name: "invalid", err: scrape.ErrInvalidInput, want: http.StatusBadRequest},
		{name: "no data", err: scrape.ErrNoResult, want: http.StatusInternalServerError, contains: noDataMessage},
		{name: "aborted", err: errors.New("summarize: quota"), want: http.StatusInternalServerError, contains: "Scraping failed: summarize: quota"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(&fakeJobService{result: tc.result, err: tc.err}, Options{}, zap.NewNop())
			rec := serve(server, http.MethodPost, "/scrape/sync", `{"url":"https://example.com"}`)
			require.Equal(t, tc.want, rec.Code)
			require.Contains(t, rec.Body.String(), tc.contains)
		})
	}
}

func TestServer_ScrapeSyncIgnoresRequestTimeout(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{result: sampleResult, delay: 50 * time.Millisecond}
	server := NewServer(svc, Options{RequestTimeout: 10 * time.Millisecond}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/scrape/sync", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodPost, "/scrape", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "request timed out")
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{list: []scrape.Job{{ID: "b"}, {ID: "a"}}}
	server := NewServer(svc, Options{}, zap.NewNop())

	rec := serve(server, http.MethodGet, "/jobs?status=completed&limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Jobs, 2)
	require.NotNil(t, svc.listOpts.Status)
	require.Equal(t, scrape.JobStatusCompleted, *svc.listOpts.Status)
	require.Equal(t, 500, svc.listOpts.Limit)

	require.Equal(t, http.StatusBadRequest, serve(server, http.MethodGet, "/jobs?status=done", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(server, http.MethodGet, "/jobs?limit=ten", "").Code)

	svc.list = nil
	rec = serve(server, http.MethodGet, "/jobs", "")
	require.JSONEq(t, `{"total":0,"jobs":[]}`, rec.Body.String())
}

func TestServer_DeleteJob(t *testing.T) {
	t.Parallel()

	svc := &fakeJobService{}
	server := NewServer(svc, Options{}, zap.NewNop())

	rec := serve(server, http.MethodDelete, "/jobs/job-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Job deleted successfully","jobId":"job-9"}`, rec.Body.String())
	require.Equal(t, []string{"job-9"}, svc.removed)

	svc.err = scrape.ErrNotFound
	require.Equal(t, http.StatusNotFound, serve(server, http.MethodDelete, "/jobs/job-9", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeJobService{}, Options{AuthEnabled: true, APIKey: "secret"}, zap.NewNop())

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, serve(server, http.MethodGet, "/jobs", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/jobs?api_key=secret", "").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeJobService{}, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodOptions, "/scrape", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeJobService{panicOnList: true}, Options{}, zap.NewNop())
	rec := serve(server, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeJobService{}, Options{}, zap.NewNop())
	rec := serve(server, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_JobLifecycleWithSupervisor(t *testing.T) {
	t.Parallel()

	runner := runnerFunc(func(_ context.Context, req pipeline.Request) (*scrape.Result, error) {
		return &scrape.Result{SourceURL: req.SeedURL, Data: sampleResult.Data}, nil
	})
	sup := jobs.NewSupervisor(memory.NewJobStore(), runner, nil, system.New(), uuid.New(), jobs.Config{}, zap.NewNop())
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	server := NewServer(sup, Options{}, zap.NewNop())

	rec := serve(server, http.MethodPost, "/scrape", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Equal(t, scrape.JobStatusPending, submitted.Status)

	require.Eventually(t, func() bool {
		return serve(server, http.MethodGet, "/jobs/"+submitted.JobID+"/result", "").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rec = serve(server, http.MethodGet, "/jobs/"+submitted.JobID, "")
	require.Contains(t, rec.Body.String(), `"status":"completed"`)

	require.Equal(t, http.StatusOK, serve(server, http.MethodDelete, "/jobs/"+submitted.JobID, "").Code)
	require.Equal(t, http.StatusNotFound, serve(server, http.MethodGet, "/jobs/"+submitted.JobID, "").Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func serve(server *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

type runnerFunc func(ctx context.Context, req pipeline.Request) (*scrape.Result, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) (*scrape.Result, error) {
	return f(ctx, req)
}

type fakeJobService struct {
	mu          sync.Mutex
	job         scrape.Job
	result      *scrape.Result
	resultErr   error
	list        []scrape.Job
	listOpts    jobs.ListOptions
	err         error
	delay       time.Duration
	panicOnList bool
	submitted   []string
	removed     []string
}

func (f *fakeJobService) Submit(ctx context.Context, rawURL string) (scrape.Job, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return scrape.Job{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return scrape.Job{}, f.err
	}
	f.submitted = append(f.submitted, rawURL)
	return f.job, nil
}

func (f *fakeJobService) Status(_ context.Context, _ string) (scrape.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return scrape.Job{}, f.err
	}
	return f.job, nil
}

func (f *fakeJobService) Result(_ context.Context, _ string) (*scrape.Result, error) {
	return f.result, f.resultErr
}

func (f *fakeJobService) List(_ context.Context, opts jobs.ListOptions) ([]scrape.Job, error) {
	if f.panicOnList {
		panic("list exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = opts
	return f.list, nil
}

func (f *fakeJobService) Remove(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, jobID)
	return nil
}

func (f *fakeJobService) RunSync(_ context.Context, _ string) (*scrape.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result, f.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
