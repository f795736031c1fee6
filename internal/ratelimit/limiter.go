package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arb-engine/pkg/types"
)

// Scope names the category of calls a bucket is rationed for.
type Scope string

const (
	ScopeMarketData Scope = "market_data"
	ScopeOrder      Scope = "order"
)

type bucketKey struct {
	Venue types.Venue
	Scope Scope
}

// Limiter is a registry of buckets keyed by (venue, scope).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*Bucket
}

// New creates an empty limiter. Buckets are added via Register.
func New() *Limiter {
	return &Limiter{buckets: make(map[bucketKey]*Bucket)}
}

// Register installs a bucket for (venue, scope). Registering the same key
// twice replaces the bucket.
func (l *Limiter) Register(venue types.Venue, scope Scope, capacity, ratePerSecond float64) error {
	b, err := NewBucket(capacity, ratePerSecond)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[bucketKey{venue, scope}] = b
	return nil
}

func (l *Limiter) find(venue types.Venue, scope Scope) (*Bucket, error) {
	l.mu.RLock()
	b, ok := l.buckets[bucketKey{venue, scope}]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ratelimit: no bucket registered for venue=%s scope=%s", venue, scope)
	}
	return b, nil
}

// Acquire blocks on the (venue, scope) bucket for up to timeout.
func (l *Limiter) Acquire(ctx context.Context, venue types.Venue, scope Scope, n float64, timeout time.Duration) error {
	b, err := l.find(venue, scope)
	if err != nil {
		return err
	}
	return b.Acquire(ctx, n, timeout)
}

// TryAcquire polls the (venue, scope) bucket without waiting.
func (l *Limiter) TryAcquire(venue types.Venue, scope Scope, n float64) (bool, error) {
	b, err := l.find(venue, scope)
	if err != nil {
		return false, err
	}
	return b.TryAcquire(n)
}

// Snapshot reports stats for every registered bucket, keyed venue -> scope.
func (l *Limiter) Snapshot() map[string]map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]map[string]Stats, len(l.buckets))
	for k, b := range l.buckets {
		venueMap, ok := out[string(k.Venue)]
		if !ok {
			venueMap = make(map[string]Stats)
			out[string(k.Venue)] = venueMap
		}
		venueMap[string(k.Scope)] = b.Stats()
	}
	return out
}
