package pipeline

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds how often a faulted stage is re-entered and how long the
// supervisor waits before each re-entry.
type RetryPolicy struct {
	// Budget is the number of re-entries allowed per stage before aborting.
	Budget int
	// BaseDelay is the first backoff; zero disables waiting.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy allows three re-entries without waiting.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Budget: 3, MaxDelay: 5 * time.Second}
}

// ShouldRetry reports whether the retryCount-th re-entry may happen for err.
// Cancellation of the run itself is checked by the caller.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if err == nil {
		return false
	}
	return retryCount <= p.Budget
}

// Backoff returns the wait before the given re-entry (1-based).
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if p.BaseDelay <= 0 || retryCount <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(retryCount-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
