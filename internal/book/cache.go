// Package book is the local order-book cache (C2): it holds the latest WS
// and REST top-of-book per (venue, symbol) and answers staleness/effective-
// pair questions for the orchestrator.
package book

import (
	"sync"
	"time"

	"arb-engine/pkg/types"
)

type slotKey struct {
	Symbol string
	Venue  types.Venue
	Source types.QuoteSource
}

// Cache holds the 4-slot {A_ws, B_ws, A_rest, B_rest} BBO state per symbol.
// Updates overwrite unconditionally — there is no out-of-order detection
// here; time monotonicity is the adapter's responsibility.
type Cache struct {
	mu    sync.RWMutex
	slots map[slotKey]types.BBO
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{slots: make(map[slotKey]types.BBO)}
}

// UpdateWS overwrites the WS slot for (venue, symbol).
func (c *Cache) UpdateWS(venue types.Venue, symbol string, bbo types.BBO) {
	bbo.Source = types.SourceWS
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slotKey{symbol, venue, types.SourceWS}] = bbo
}

// UpdateREST overwrites the REST slot for (venue, symbol).
func (c *Cache) UpdateREST(venue types.Venue, symbol string, bbo types.BBO) {
	bbo.Source = types.SourceREST
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slotKey{symbol, venue, types.SourceREST}] = bbo
}

// WS returns the most recent WS BBO for (venue, symbol), if any.
func (c *Cache) WS(venue types.Venue, symbol string) (types.BBO, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.slots[slotKey{symbol, venue, types.SourceWS}]
	return b, ok
}

// REST returns the most recent REST BBO for (venue, symbol), if any.
func (c *Cache) REST(venue types.Venue, symbol string) (types.BBO, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.slots[slotKey{symbol, venue, types.SourceREST}]
	return b, ok
}

// EffectivePair returns the WS BBO for the venue if present, else the REST
// BBO, else false.
func (c *Cache) EffectivePair(venue types.Venue, symbol string) (types.BBO, bool) {
	if b, ok := c.WS(venue, symbol); ok {
		return b, true
	}
	return c.REST(venue, symbol)
}

// IsStale reports whether either venue's WS slot is missing for symbol, or
// either venue's WS slot is older than staleMs.
func (c *Cache) IsStale(symbol string, staleMs int64) bool {
	now := time.Now().UnixMilli()
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, v := range []types.Venue{types.VenueA, types.VenueB} {
		b, ok := c.slots[slotKey{symbol, v, types.SourceWS}]
		if !ok {
			return true
		}
		if now-b.TimestampMs > staleMs {
			return true
		}
	}
	return false
}
