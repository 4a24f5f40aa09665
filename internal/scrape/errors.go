package scrape

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidInput marks a malformed seed URL or request body.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfiguration marks an unusable pipeline setting.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned while a job is pending or running.
	ErrNotReady = errors.New("job not finished")
	// ErrJobFailed is wrapped by JobFailedError.
	ErrJobFailed = errors.New("job failed")
	// ErrNoResult is returned when a run completed without a result payload.
	ErrNoResult = errors.New("no result")
)

// JobFailedError carries the error text stored on a failed job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Unwrap lets errors.Is match ErrJobFailed.
func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}

// ValidateSeedURL checks that raw is an absolute http(s) URL with a host.
func ValidateSeedURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme must be http or https", ErrInvalidInput)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url host is required", ErrInvalidInput)
	}
	return u.String(), nil
}
