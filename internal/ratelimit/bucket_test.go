package ratelimit

import (
	"context"
	"testing"
	"time"

	"arb-engine/pkg/types"
)

func TestNewBucketStartsFull(t *testing.T) {
	t.Parallel()
	b, err := NewBucket(10, 1)
	if err != nil {
		t.Fatalf("NewBucket() error = %v", err)
	}
	if b.tokens != 10 {
		t.Errorf("tokens = %v, want 10", b.tokens)
	}
}

func TestNewBucketRejectsNonPositive(t *testing.T) {
	t.Parallel()
	if _, err := NewBucket(0, 1); err == nil {
		t.Error("expected ConfigError for capacity=0")
	}
	if _, err := NewBucket(10, 0); err == nil {
		t.Error("expected ConfigError for rate=0")
	}
	_, err := NewBucket(-1, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*types.ConfigError); !ok {
		t.Errorf("error type = %T, want *types.ConfigError", err)
	}
}

func TestBucketAcquireImmediate(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(5, 1)

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := b.Acquire(context.Background(), 1, 0); err != nil {
			t.Fatalf("Acquire() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Acquire() took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestBucketAcquireBlocks(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(1, 10) // ~100ms per token

	if err := b.Acquire(context.Background(), 1, 0); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := b.Acquire(context.Background(), 1, 0); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected blocking ~100ms, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}
}

func TestBucketAcquireTimeout(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(1, 0.1) // very slow refill

	_ = b.Acquire(context.Background(), 1, 0)

	err := b.Acquire(context.Background(), 1, 50*time.Millisecond)
	if err == nil {
		t.Error("expected timeout error, got nil")
	}
}

func TestBucketAcquireContextCancelled(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(1, 0.1)
	_ = b.Acquire(context.Background(), 1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx, 1, 0); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestBucketAcquireRejectsOverCapacity(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(5, 1)
	if err := b.Acquire(context.Background(), 10, 0); err == nil {
		t.Error("expected ConfigError when n > capacity")
	}
}

func TestBucketTryAcquire(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(2, 1)

	ok, err := b.TryAcquire(1)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v; want true, nil", ok, err)
	}
	ok, err = b.TryAcquire(1)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v; want true, nil", ok, err)
	}
	ok, err = b.TryAcquire(1)
	if err != nil || ok {
		t.Fatalf("TryAcquire() = %v, %v; want false, nil (bucket drained)", ok, err)
	}
}

func TestBucketRefillBoundedByElapsedTime(t *testing.T) {
	t.Parallel()
	b, _ := NewBucket(10, 5) // 5/sec

	ok, _ := b.TryAcquire(10)
	if !ok {
		t.Fatal("expected to drain full bucket")
	}

	time.Sleep(200 * time.Millisecond)
	stats := b.Stats()
	// after ~0.2s at 5/sec, at most 1 token refilled
	if stats.Tokens > 1.5 {
		t.Errorf("tokens = %v, want <= ~1 after 200ms at rate 5/sec", stats.Tokens)
	}
}
