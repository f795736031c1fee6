// Package ratelimit implements per-(venue,scope) token-bucket rate limiting
// with continuous refill (rather than fixed-window bursts), so a caller
// spread across a window never gets clipped at the window boundary.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"arb-engine/pkg/types"
)

// Bucket is a token-bucket rate limiter with continuous refill. Callers
// either block in Acquire until tokens are available (or a deadline/context
// cancellation fires) or poll non-blockingly via TryAcquire.
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// Stats is a point-in-time snapshot of a bucket, taken after a just-in-time
// refill.
type Stats struct {
	Rate     float64
	Capacity float64
	Tokens   float64
}

// NewBucket creates a bucket with the given capacity and refill rate. Either
// value being non-positive is a configuration error, raised immediately
// rather than deferred to first use.
func NewBucket(capacity, ratePerSecond float64) (*Bucket, error) {
	if ratePerSecond <= 0 {
		return nil, types.NewConfigError("rate_per_sec must be > 0, got %v", ratePerSecond)
	}
	if capacity <= 0 {
		return nil, types.NewConfigError("capacity must be > 0, got %v", capacity)
	}
	return &Bucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}, nil
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastTime).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastTime = now
}

// Acquire blocks until n tokens are available, the optional timeout elapses,
// or ctx is cancelled. A zero timeout means "wait forever" (bounded only by
// ctx). Returns a ConfigError immediately if n exceeds capacity.
func (b *Bucket) Acquire(ctx context.Context, n float64, timeout time.Duration) error {
	b.mu.Lock()
	if n > b.capacity {
		cap := b.capacity
		b.mu.Unlock()
		return types.NewConfigError("requested %v tokens exceeds bucket capacity %v", n, cap)
	}
	b.mu.Unlock()

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		b.mu.Lock()
		now := time.Now()
		b.refillLocked(now)
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((n - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if hasDeadline {
			if remaining := time.Until(deadline); remaining <= 0 {
				return context.DeadlineExceeded
			} else if wait > remaining {
				wait = remaining
			}
		}
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire debits n tokens without waiting. Returns false if insufficient
// tokens are currently available.
func (b *Bucket) TryAcquire(n float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.capacity {
		return false, types.NewConfigError("requested %v tokens exceeds bucket capacity %v", n, b.capacity)
	}
	b.refillLocked(time.Now())
	if b.tokens >= n {
		b.tokens -= n
		return true, nil
	}
	return false, nil
}

// Stats returns a snapshot after a just-in-time refill.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return Stats{Rate: b.rate, Capacity: b.capacity, Tokens: b.tokens}
}
