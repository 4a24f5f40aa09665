// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// JobStatus represents the lifecycle state of a summarization job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ParseJobStatus converts a query value into a JobStatus.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch JobStatus(raw) {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return JobStatus(raw), true
	default:
		return "", false
	}
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents the metadata kept for each submitted seed URL.
type Job struct {
	ID          string     `json:"jobId"`
	SourceURL   string     `json:"url"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Page is the content fetched for one URL of a batch.
type Page struct {
	URL     string
	Content string
}

// Digest is the structured {title, description} pair produced for a page.
type Digest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Summary pairs a page URL with its digest.
type Summary struct {
	URL      string `json:"url"`
	Response Digest `json:"response"`
}

// Result is the aggregated output of one pipeline run.
type Result struct {
	SourceURL string    `json:"sourceUrl"`
	Data      []Summary `json:"data"`
}

// Clone returns a deep copy so callers cannot mutate stored results.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{SourceURL: r.SourceURL}
	if r.Data != nil {
		out.Data = make([]Summary, len(r.Data))
		copy(out.Data, r.Data)
	}
	return out
}

// DiscoverRequest asks a Discoverer for the links of a seed page.
type DiscoverRequest struct {
	SeedURL string
	// Limit bounds the number of documents retrieved; 1 means the seed page only.
	Limit int
}

// JobEvent is published once a job reaches a terminal status.
type JobEvent struct {
	JobID       string    `json:"jobId"`
	SourceURL   string    `json:"sourceUrl"`
	Status      JobStatus `json:"status"`
	Summaries   int       `json:"summaries"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}
