// Package pipeline sequences discovery, batched fetching, summarization and
// persistence for a single seed URL as a retry-bounded state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Config tunes a pipeline run.
type Config struct {
	MaxLinks                 int
	BatchSize                int
	ContentMaxChars          int
	FallbackDescriptionChars int
	Retry                    RetryPolicy
	Origin                   OriginPolicy
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		MaxLinks:                 10,
		BatchSize:                5,
		ContentMaxChars:          2000,
		FallbackDescriptionChars: 200,
		Retry:                    DefaultRetryPolicy(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxLinks <= 0:
		return fmt.Errorf("%w: max links must be > 0", scrape.ErrInvalidConfiguration)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be > 0", scrape.ErrInvalidConfiguration)
	case c.ContentMaxChars <= 0:
		return fmt.Errorf("%w: content max chars must be > 0", scrape.ErrInvalidConfiguration)
	case c.FallbackDescriptionChars < 0:
		return fmt.Errorf("%w: fallback description chars must be >= 0", scrape.ErrInvalidConfiguration)
	case c.Retry.Budget < 0:
		return fmt.Errorf("%w: retry budget must be >= 0", scrape.ErrInvalidConfiguration)
	}
	return nil
}

// Request identifies one run.
type Request struct {
	// JobID is used for log correlation only and may be empty.
	JobID   string
	SeedURL string
}

// AbortError is returned when a stage exhausted its retry budget or the run
// was cancelled. Its message is the last stage fault, verbatim.
type AbortError struct {
	Stage    StageID
	Attempts int
	Err      error
}

func (e *AbortError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the last stage fault.
func (e *AbortError) Unwrap() error {
	return e.Err
}

// Pipeline drives runs against injected capabilities. It holds no per-run
// state and is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	discoverer scrape.Discoverer
	fetcher    scrape.Fetcher
	summarizer scrape.Summarizer
	sink       scrape.ResultSink
	logger     *zap.Logger
	tracer     trace.Tracer
}

const tracerName = "github.com/JakeFAU/site-summarizer/internal/pipeline"

// New wires a pipeline.
func New(
	cfg Config,
	discoverer scrape.Discoverer,
	fetcher scrape.Fetcher,
	summarizer scrape.Summarizer,
	sink scrape.ResultSink,
	logger *zap.Logger,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if discoverer == nil || fetcher == nil || summarizer == nil || sink == nil {
		return nil, fmt.Errorf("%w: discoverer, fetcher, summarizer and sink are required", scrape.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		discoverer: discoverer,
		fetcher:    fetcher,
		summarizer: summarizer,
		sink:       sink,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Run executes the state machine to completion. A nil result with a nil error
// is a degenerate success: nothing was summarized.
func (p *Pipeline) Run(ctx context.Context, req Request) (*scrape.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("url.seed", req.SeedURL),
	))
	defer span.End()

	state := NewState(req.SeedURL)
	logger := p.logger.With(zap.String("job_id", req.JobID), zap.String("url", req.SeedURL))
	stage := StageInitialize
	for !stage.Terminal() {
		stage = p.step(ctx, logger, state, stage)
	}
	if stage == StageAborted {
		err := &AbortError{Stage: state.FailedStage, Attempts: state.RetryCount + 1, Err: state.lastErr}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(state.FailedStage))
		return nil, err
	}
	span.SetAttributes(attribute.Int("summaries", len(state.Summaries)))
	return state.Result, nil
}

func (p *Pipeline) step(ctx context.Context, logger *zap.Logger, state *State, stage StageID) StageID {
	switch stage {
	case StageInitialize:
		return StageDiscover
	case StageErrorHandler:
		return p.handleFault(ctx, logger, state)
	}

	stageCtx, span := p.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.Int("attempt", state.RetryCount+1),
	))
	start := time.Now()
	err := p.execute(stageCtx, stage, state)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		span.End()
		metrics.ObserveStage(string(stage), "fault", elapsed)
		logger.Warn("stage failed",
			zap.String("stage", string(stage)),
			zap.Int("attempt", state.RetryCount+1),
			zap.Error(err))
		state.fail(stage, err)
		return StageErrorHandler
	}
	span.End()
	metrics.ObserveStage(string(stage), "ok", elapsed)
	logger.Debug("stage completed",
		zap.String("stage", string(stage)),
		zap.Int("attempt", state.RetryCount+1),
		zap.Duration("elapsed", elapsed))
	state.clearFault()
	return transition(stage, state)
}

func (p *Pipeline) execute(ctx context.Context, stage StageID, state *State) error {
	switch stage {
	case StageDiscover:
		return p.discover(ctx, state)
	case StageFetchBatch:
		return p.fetchBatch(ctx, state)
	case StageSummarize:
		return p.summarize(ctx, state)
	case StagePersist:
		return p.persist(ctx, state)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func transition(stage StageID, state *State) StageID {
	switch stage {
	case StageDiscover, StageSummarize:
		if state.hasBatches() {
			return StageFetchBatch
		}
		return StagePersist
	case StageFetchBatch:
		return StageSummarize
	case StagePersist:
		return StageDone
	default:
		return StageAborted
	}
}

func (p *Pipeline) handleFault(ctx context.Context, logger *zap.Logger, state *State) StageID {
	if ctx.Err() != nil {
		if state.lastErr == nil || !errors.Is(state.lastErr, ctx.Err()) {
			state.lastErr = fmt.Errorf("%s: %w", state.LastError, ctx.Err())
			state.LastError = state.lastErr.Error()
		}
		logger.Warn("run cancelled", zap.String("stage", string(state.FailedStage)))
		return StageAborted
	}
	retry := state.RetryCount + 1
	if !p.cfg.Retry.ShouldRetry(state.lastErr, retry) {
		logger.Error("retry budget exhausted",
			zap.String("stage", string(state.FailedStage)),
			zap.Int("attempts", state.RetryCount+1),
			zap.String("error", state.LastError))
		return StageAborted
	}
	state.RetryCount = retry
	metrics.ObserveStageRetry(string(state.FailedStage))
	if err := sleepContext(ctx, p.cfg.Retry.Backoff(retry)); err != nil {
		state.lastErr = fmt.Errorf("%s: %w", state.LastError, err)
		state.LastError = state.lastErr.Error()
		return StageAborted
	}
	logger.Info("retrying stage",
		zap.String("stage", string(state.FailedStage)),
		zap.Int("attempt", retry+1))
	return state.FailedStage
}
