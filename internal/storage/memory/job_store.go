// Package memory keeps jobs and results in process memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// JobStore is the lock-guarded job table. Every read returns a copy so callers
// never observe a record mid-update.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]scrape.Job),
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return cloneJob(job), nil
}

// Update applies mutate to a copy of the job and stores it when mutate
// succeeds. The whole read-modify-write happens under the write lock.
func (s *JobStore) Update(_ context.Context, jobID string, mutate func(*scrape.Job) error) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	updated := cloneJob(job)
	if err := mutate(&updated); err != nil {
		return cloneJob(job), fmt.Errorf("update job %s: %w", jobID, err)
	}
	s.jobs[jobID] = updated
	return cloneJob(updated), nil
}

// List returns a snapshot of every job in no particular order.
func (s *JobStore) List(_ context.Context) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

// Delete removes a job regardless of its status.
func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return scrape.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func cloneJob(job scrape.Job) scrape.Job {
	out := job
	if job.StartedAt != nil {
		out.StartedAt = pointerTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = pointerTime(*job.CompletedAt)
	}
	out.Result = job.Result.Clone()
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
