package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/jobs"
	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const (
	defaultRequestTimeout = 60 * time.Second
	serviceName           = "Site Summarizer API"
	noDataMessage         = "Scraping completed but no data was returned"
)

// JobService is the job supervisor as seen by the HTTP layer.
type JobService interface {
	Submit(ctx context.Context, rawURL string) (scrape.Job, error)
	Status(ctx context.Context, jobID string) (scrape.Job, error)
	Result(ctx context.Context, jobID string) (*scrape.Result, error)
	List(ctx context.Context, opts jobs.ListOptions) ([]scrape.Job, error)
	Remove(ctx context.Context, jobID string) error
	RunSync(ctx context.Context, rawURL string) (*scrape.Result, error)
}

// Options configures the server.
type Options struct {
	Version        string
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job supervisor.
type Server struct {
	router chi.Router
	jobs   JobService
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc JobService, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		jobs:   svc,
		opts:   opts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Synchronous runs take as long as the whole pipeline.
		r.Post("/scrape/sync", s.scrapeSync)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Post("/scrape", s.submitJob)
			r.Get("/jobs", s.listJobs)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Get("/result", s.getJobResult)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	JobID     string           `json:"jobId"`
	Status    scrape.JobStatus `json:"status"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

type listResponse struct {
	Total int          `json:"total"`
	Jobs  []scrape.Job `json:"jobs"`
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	version := s.opts.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": serviceName,
		"status":  "running",
		"version": version,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeScrapeRequest(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Submit(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, scrape.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   "Scraping job created successfully",
		CreatedAt: job.CreatedAt,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	result, err := s.jobs.Result(r.Context(), jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	var failed *scrape.JobFailedError
	switch {
	case errors.Is(err, scrape.ErrNotReady):
		job, statusErr := s.jobs.Status(r.Context(), jobID)
		status := "running"
		if statusErr == nil {
			status = string(job.Status)
		}
		writeError(w, http.StatusTooEarly, fmt.Sprintf("Job is still %s. Please wait for completion.", status))
	case errors.As(err, &failed):
		writeError(w, http.StatusInternalServerError, "Job failed: "+nonEmpty(failed.Message, "Unknown error"))
	case errors.Is(err, scrape.ErrNoResult):
		writeError(w, http.StatusNotFound, "No result found for this job")
	default:
		s.writeLookupError(w, err)
	}
}

func (s *Server) scrapeSync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeScrapeRequest(w, r)
	if !ok {
		return
	}
	result, err := s.jobs.RunSync(r.Context(), req.URL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, scrape.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scrape.ErrNoResult):
		writeError(w, http.StatusInternalServerError, noDataMessage)
	default:
		s.logger.Error("sync scrape failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Scraping failed: "+err.Error())
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var opts jobs.ListOptions
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := scrape.ParseJobStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		opts.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		opts.Limit = limit
	}
	list, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []scrape.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Total: len(list), Jobs: list})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Remove(r.Context(), jobID); err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job deleted successfully",
		"jobId":   jobID,
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, scrape.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeScrapeRequest(w http.ResponseWriter, r *http.Request) (scrapeRequest, bool) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return scrapeRequest{}, false
	}
	return req, true
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
