package objectstore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PrefixLimiter is a per-prefix token bucket: the client
// rate-limits per destination prefix, not globally, so one hot table
// cannot starve another. Each distinct prefix gets its own
// *rate.Limiter, created lazily on first use.
//
// On an explicit slow-down response (classifyMinioErr's "SlowDown"
// case) the caller tells the limiter to halve its refill rate for a
// cool-down period via Throttle; the rate recovers to its configured
// value once the cool-down elapses.
type PrefixLimiter struct {
	baseRate float64
	burst    int
	cooldown time.Duration

	mu      sync.Mutex
	buckets map[string]*prefixBucket
}

type prefixBucket struct {
	limiter     *rate.Limiter
	throttledAt time.Time
}

// NewPrefixLimiter returns a limiter allowing ratePerSec requests per
// second per prefix, with the given burst, and a cooldown duration for
// the post-slow-down half-rate period.
func NewPrefixLimiter(ratePerSec float64, burst int, cooldown time.Duration) *PrefixLimiter {
	return &PrefixLimiter{
		baseRate: ratePerSec,
		burst:    burst,
		cooldown: cooldown,
		buckets:  make(map[string]*prefixBucket),
	}
}

// Wait blocks until prefix's bucket has a token free, or ctx is done.
func (l *PrefixLimiter) Wait(ctx context.Context, prefix string) error {
	return l.bucketFor(prefix).limiter.Wait(ctx)
}

// Throttle halves prefix's refill rate for the configured cooldown,
// called after the object store returns a slow-down response for a
// key under that prefix.
func (l *PrefixLimiter) Throttle(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketForLocked(prefix)
	b.throttledAt = time.Now()
	b.limiter.SetLimit(rate.Limit(l.baseRate / 2))
}

func (l *PrefixLimiter) bucketFor(prefix string) *prefixBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recoverLocked(l.bucketForLocked(prefix))
}

func (l *PrefixLimiter) bucketForLocked(prefix string) *prefixBucket {
	b, ok := l.buckets[prefix]
	if !ok {
		b = &prefixBucket{limiter: rate.NewLimiter(rate.Limit(l.baseRate), l.burst)}
		l.buckets[prefix] = b
	}
	return b
}

// recoverLocked restores a throttled bucket to its base rate once the
// cooldown has elapsed.
func (l *PrefixLimiter) recoverLocked(b *prefixBucket) *prefixBucket {
	if !b.throttledAt.IsZero() && time.Since(b.throttledAt) >= l.cooldown {
		b.limiter.SetLimit(rate.Limit(l.baseRate))
		b.throttledAt = time.Time{}
	}
	return b
}
