package risk

import (
	"sync"
	"time"

	"arb-engine/pkg/types"
)

// HealthGuard tracks per-venue liveness with a cached re-check interval: a
// caller is allowed to probe a venue only once every cacheMs.
type HealthGuard struct {
	mu            sync.Mutex
	failThreshold int
	cacheMs       int64
	items         map[types.Venue]*types.HealthItem
}

// NewHealthGuard builds a guard with the given strike threshold and probe
// cache interval.
func NewHealthGuard(failThreshold int, cacheMs int64) *HealthGuard {
	return &HealthGuard{
		failThreshold: failThreshold,
		cacheMs:       cacheMs,
		items:         make(map[types.Venue]*types.HealthItem),
	}
}

// ShouldCheck reports whether venue is due for a probe: true if it has never
// been checked, or if cacheMs have elapsed since the last check.
func (g *HealthGuard) ShouldCheck(venue types.Venue) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.items[venue]
	if !ok {
		return true
	}
	return time.Now().UnixMilli()-item.LastCheckMs >= g.cacheMs
}

// Update records the outcome of a probe. On success, the failure counter
// resets and last_ok is stamped; on failure it increments. last_check is
// always stamped.
func (g *HealthGuard) Update(venue types.Venue, ok bool, message string) types.HealthItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, exists := g.items[venue]
	if !exists {
		item = &types.HealthItem{Venue: venue}
		g.items[venue] = item
	}
	now := time.Now().UnixMilli()
	item.LastCheckMs = now
	item.Message = message
	if ok {
		item.FailCount = 0
		item.LastOKMs = now
		item.OK = true
	} else {
		item.FailCount++
		item.OK = false
	}
	return *item
}

// CanOpen reports whether every registered venue has a failure count below
// threshold and its most recent probe was ok. False if no venue has been
// registered at all.
func (g *HealthGuard) CanOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.items) == 0 {
		return false
	}
	for _, item := range g.items {
		if item.FailCount >= g.failThreshold || !item.OK {
			return false
		}
	}
	return true
}

// Summary returns a copy of every tracked venue's health item.
func (g *HealthGuard) Summary() map[types.Venue]types.HealthItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[types.Venue]types.HealthItem, len(g.items))
	for v, item := range g.items {
		out[v] = *item
	}
	return out
}
