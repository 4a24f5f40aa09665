// Package storage fans persisted results out to every configured backend.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Named pairs a sink with the backend name used in logs and errors.
type Named struct {
	Name string
	Sink scrape.ResultSink
}

// MultiSink writes every result to all backends in order. A result counts as
// persisted only when every backend accepted it.
type MultiSink struct {
	sinks  []Named
	logger *zap.Logger
}

// NewMultiSink builds a fan-out sink; at least one backend is required.
func NewMultiSink(logger *zap.Logger, sinks ...Named) (*MultiSink, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one result sink is required")
	}
	for _, s := range sinks {
		if s.Sink == nil {
			return nil, fmt.Errorf("result sink %q is nil", s.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSink{sinks: sinks, logger: logger}, nil
}

// Write implements scrape.ResultSink.
func (m *MultiSink) Write(ctx context.Context, result scrape.Result) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Write(ctx, result); err != nil {
			m.logger.Warn("result sink failed", zap.String("sink", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		m.logger.Debug("result persisted",
			zap.String("sink", s.Name),
			zap.String("source_url", result.SourceURL),
			zap.Int("summaries", len(result.Data)))
	}
	return errors.Join(errs...)
}
