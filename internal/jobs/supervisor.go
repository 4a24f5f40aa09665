// Package jobs runs pipeline executions in the background and tracks their
// lifecycle.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/pipeline"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const (
	// DefaultListLimit is used when ListOptions.Limit is zero.
	DefaultListLimit = 10
	// MaxListLimit caps ListOptions.Limit.
	MaxListLimit = 100
)

var (
	// ErrShuttingDown is returned by Submit after Shutdown started.
	ErrShuttingDown = errors.New("supervisor is shutting down")

	errIllegalTransition = errors.New("illegal status transition")
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*scrape.Result, error)
}

// Config tunes the supervisor.
type Config struct {
	// MaxConcurrent bounds simultaneously running jobs; zero means unbounded.
	// Jobs waiting for a slot stay pending.
	MaxConcurrent int
	// Topic is passed to the publisher with every job event.
	Topic string
}

// ListOptions filters List.
type ListOptions struct {
	Status *scrape.JobStatus
	Limit  int
}

// Supervisor owns the job store. Nothing else reads or writes job records.
type Supervisor struct {
	store     scrape.JobStore
	runner    Runner
	publisher scrape.Publisher
	clock     scrape.Clock
	ids       scrape.IDGenerator
	cfg       Config
	sem       *semaphore.Weighted
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	done   map[string]chan struct{}
	closed bool
}

// NewSupervisor wires a supervisor. publisher may be nil.
func NewSupervisor(
	store scrape.JobStore,
	runner Runner,
	publisher scrape.Publisher,
	clock scrape.Clock,
	ids scrape.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:     store,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
		cancel:    cancel,
		done:      make(map[string]chan struct{}),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return s
}

// Submit validates rawURL, records a pending job and starts its run in the
// background. It returns without waiting for the run.
func (s *Supervisor) Submit(ctx context.Context, rawURL string) (scrape.Job, error) {
	seed, err := scrape.ValidateSeedURL(rawURL)
	if err != nil {
		return scrape.Job{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scrape.Job{
		ID:        id,
		SourceURL: seed,
		Status:    scrape.JobStatusPending,
		CreatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scrape.Job{}, ErrShuttingDown
	}
	if err := s.store.Create(ctx, job); err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}
	done := make(chan struct{})
	s.done[id] = done
	s.wg.Add(1)
	go s.run(job, done)

	s.logger.Info("job submitted", zap.String("job_id", id), zap.String("url", seed))
	return job, nil
}

func (s *Supervisor) run(job scrape.Job, done chan struct{}) {
	defer s.wg.Done()
	defer s.release(job.ID, done)

	ctx := s.baseCtx
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("url", job.SourceURL))

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(ctx, logger, job.ID, nil, fmt.Errorf("wait for run slot: %w", err))
			return
		}
		defer s.sem.Release(1)
	}

	_, err := s.store.Update(ctx, job.ID, func(j *scrape.Job) error {
		if j.Status != scrape.JobStatusPending {
			return errIllegalTransition
		}
		now := s.clock.Now()
		j.Status = scrape.JobStatusRunning
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			logger.Info("job removed before it started")
			return
		}
		logger.Error("failed to mark job running", zap.Error(err))
		return
	}

	metrics.IncRunningJobs()
	result, runErr := s.runner.Run(ctx, pipeline.Request{JobID: job.ID, SeedURL: job.SourceURL})
	metrics.DecRunningJobs()

	s.finish(ctx, logger, job.ID, result, runErr)
}

// finish performs the single terminal transition of a job.
func (s *Supervisor) finish(ctx context.Context, logger *zap.Logger, jobID string, result *scrape.Result, runErr error) {
	updated, err := s.store.Update(ctx, jobID, func(j *scrape.Job) error {
		if j.Status.Terminal() {
			return errIllegalTransition
		}
		now := s.clock.Now()
		j.CompletedAt = &now
		if runErr != nil {
			j.Status = scrape.JobStatusFailed
			j.Error = runErr.Error()
			j.Result = nil
			return nil
		}
		j.Status = scrape.JobStatusCompleted
		j.Result = result.Clone()
		return nil
	})
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			logger.Debug("job removed during run, dropping outcome")
			return
		}
		logger.Error("failed to record job outcome", zap.Error(err))
		return
	}

	metrics.ObserveJob(string(updated.Status))
	if runErr != nil {
		logger.Error("job failed", zap.Error(runErr))
	} else {
		logger.Info("job completed", zap.Int("summaries", summaryCount(updated.Result)))
	}
	s.publish(ctx, logger, updated)
}

func (s *Supervisor) publish(ctx context.Context, logger *zap.Logger, job scrape.Job) {
	if s.publisher == nil {
		return
	}
	event := scrape.JobEvent{
		JobID:     job.ID,
		SourceURL: job.SourceURL,
		Status:    job.Status,
		Summaries: summaryCount(job.Result),
		Error:     job.Error,
	}
	if job.CompletedAt != nil {
		event.CompletedAt = *job.CompletedAt
	}
	msgID, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		logger.Warn("failed to publish job event", zap.Error(err))
		return
	}
	logger.Debug("job event published", zap.String("message_id", msgID))
}

// Status returns a snapshot of the job.
func (s *Supervisor) Status(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Result returns the result of a completed job. Pending and running jobs yield
// scrape.ErrNotReady, failed jobs a *scrape.JobFailedError and completed jobs
// without payload scrape.ErrNoResult.
func (s *Supervisor) Result(ctx context.Context, jobID string) (*scrape.Result, error) {
	job, err := s.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case scrape.JobStatusPending, scrape.JobStatusRunning:
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, scrape.ErrNotReady)
	case scrape.JobStatusFailed:
		return nil, &scrape.JobFailedError{JobID: jobID, Message: job.Error}
	}
	if job.Result == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, scrape.ErrNoResult)
	}
	return job.Result, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Supervisor) List(ctx context.Context, opts ListOptions) ([]scrape.Job, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := all[:0]
	for _, job := range all {
		if opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := clampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultListLimit
	case limit < 1:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// Remove deletes the job whatever its status. A running pipeline is not
// cancelled; its outcome is discarded.
func (s *Supervisor) Remove(ctx context.Context, jobID string) error {
	if err := s.store.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	s.mu.Lock()
	delete(s.done, jobID)
	s.mu.Unlock()
	s.logger.Info("job removed", zap.String("job_id", jobID))
	return nil
}

// RunSync runs the pipeline inline without creating a job. A run that
// produced nothing returns scrape.ErrNoResult.
func (s *Supervisor) RunSync(ctx context.Context, rawURL string) (*scrape.Result, error) {
	seed, err := scrape.ValidateSeedURL(rawURL)
	if err != nil {
		return nil, err
	}
	result, err := s.runner.Run(ctx, pipeline.Request{SeedURL: seed})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, scrape.ErrNoResult
	}
	return result, nil
}

// release wakes waiters and drops the job's completion channel. Later waiters
// read the terminal status from the store.
func (s *Supervisor) release(jobID string, done chan struct{}) {
	close(done)
	s.mu.Lock()
	if s.done[jobID] == done {
		delete(s.done, jobID)
	}
	s.mu.Unlock()
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (s *Supervisor) Wait(ctx context.Context, jobID string) (scrape.Job, error) {
	s.mu.Lock()
	done, ok := s.done[jobID]
	s.mu.Unlock()
	if !ok {
		return s.Status(ctx, jobID)
	}
	select {
	case <-done:
		return s.Status(ctx, jobID)
	case <-ctx.Done():
		return scrape.Job{}, ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for in-flight runs. When ctx ends
// first, running pipelines are cancelled and ctx's error is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-drained
		return ctx.Err()
	}
}

func summaryCount(result *scrape.Result) int {
	if result == nil {
		return 0
	}
	return len(result.Data)
}
