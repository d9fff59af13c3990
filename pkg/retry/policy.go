// Package retry implements the single shared retry/backoff primitive
// referenced by the design notes: a policy of (base, cap, jitter,
// classifier) reused by the object-store client, the HTTP legal-hold
// source, the lock manager's Acquire, and the Table Orchestrator's
// batch retries. It never retries an error class the classifier marks
// permanent.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classifier reports whether err should be retried.
type Classifier func(err error) bool

// Policy is one configured retry primitive.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Classify    Classifier
}

// Default returns the standard retry policy: base 2s, cap 30s,
// at most 3 attempts per batch, retrying only transient errors.
func Default(classify Classifier) Policy {
	return Policy{
		Base:        2 * time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 3,
		Classify:    classify,
	}
}

func (p Policy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Cap
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock
	// Do applies full jitter itself.
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Do runs fn, retrying with exponential backoff and full jitter while
// the classifier reports the returned error as retryable and the
// attempt budget is not exhausted. The last error is returned if the
// budget runs out or the classifier reports a permanent error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := p.backoff()
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Classify != nil && !p.Classify(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			return lastErr
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return lastErr
		}
		wait = time.Duration(rand.Int63n(int64(wait) + 1))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
