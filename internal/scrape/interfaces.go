package scrape

import (
	"context"
	"time"
)

// Discoverer returns the raw links found on a seed page. A nil or empty slice
// with a nil error means the capability returned no data.
type Discoverer interface {
	Discover(ctx context.Context, req DiscoverRequest) ([]string, error)
}

// Fetcher retrieves page content for every URL of a batch in one call. URLs
// that fail individually are simply absent from the returned pages.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string) ([]Page, error)
}

// Summarizer sends page content to a text-generation service and returns its
// raw textual answer.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// ResultSink persists the final result record of a run.
type ResultSink interface {
	Write(ctx context.Context, result Result) error
}

// JobStore keeps job records for the lifetime of the process.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	// Update applies mutate under the store lock. It returns ErrNotFound when
	// the job has been removed.
	Update(ctx context.Context, jobID string, mutate func(*Job) error) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, jobID string) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
