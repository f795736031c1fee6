package ratelimit

import (
	"context"
	"testing"

	"arb-engine/pkg/types"
)

func TestLimiterRegisterAndAcquire(t *testing.T) {
	t.Parallel()
	l := New()
	if err := l.Register(types.VenueA, ScopeOrder, 5, 5); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := l.Acquire(context.Background(), types.VenueA, ScopeOrder, 1, 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
}

func TestLimiterUnregisteredBucket(t *testing.T) {
	t.Parallel()
	l := New()
	if err := l.Acquire(context.Background(), types.VenueA, ScopeOrder, 1, 0); err == nil {
		t.Error("expected error for unregistered bucket")
	}
	if _, err := l.TryAcquire(types.VenueB, ScopeMarketData, 1); err == nil {
		t.Error("expected error for unregistered bucket")
	}
}

func TestLimiterSnapshotKeyedByVenueScope(t *testing.T) {
	t.Parallel()
	l := New()
	_ = l.Register(types.VenueA, ScopeOrder, 8, 8)
	_ = l.Register(types.VenueA, ScopeMarketData, 15, 15)
	_ = l.Register(types.VenueB, ScopeOrder, 8, 8)

	snap := l.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d venues, want 2", len(snap))
	}
	if len(snap[string(types.VenueA)]) != 2 {
		t.Errorf("venue_a has %d scopes, want 2", len(snap[string(types.VenueA)]))
	}
	if stats := snap[string(types.VenueA)][string(ScopeOrder)]; stats.Capacity != 8 {
		t.Errorf("capacity = %v, want 8", stats.Capacity)
	}
}
