package book

import "arb-engine/pkg/types"

// Manager is a thin facade the orchestrator drives each tick: it pushes WS
// and REST updates into the underlying Cache and answers the "give me both
// venues' effective pair" question in one call, so call sites don't reach
// into the cache's per-slot API directly.
type Manager struct {
	cache *Cache
}

// NewManager wraps a Cache.
func NewManager(cache *Cache) *Manager {
	return &Manager{cache: cache}
}

// UpdateWS records a WS BBO for (venue, symbol).
func (m *Manager) UpdateWS(venue types.Venue, symbol string, bbo types.BBO) {
	m.cache.UpdateWS(venue, symbol, bbo)
}

// UpdateREST records a REST BBO for (venue, symbol).
func (m *Manager) UpdateREST(venue types.Venue, symbol string, bbo types.BBO) {
	m.cache.UpdateREST(venue, symbol, bbo)
}

// EffectivePairs returns the effective (WS-preferred) BBOs for both venues.
// ok is false if either side is missing.
func (m *Manager) EffectivePairs(symbol string) (a, b types.BBO, ok bool) {
	a, okA := m.cache.EffectivePair(types.VenueA, symbol)
	b, okB := m.cache.EffectivePair(types.VenueB, symbol)
	return a, b, okA && okB
}

// RESTPairs returns the most recent REST BBOs for both venues.
func (m *Manager) RESTPairs(symbol string) (a, b types.BBO, ok bool) {
	a, okA := m.cache.REST(types.VenueA, symbol)
	b, okB := m.cache.REST(types.VenueB, symbol)
	return a, b, okA && okB
}

// WSPairs returns the most recent WS BBOs for both venues.
func (m *Manager) WSPairs(symbol string) (a, b types.BBO, ok bool) {
	a, okA := m.cache.WS(types.VenueA, symbol)
	b, okB := m.cache.WS(types.VenueB, symbol)
	return a, b, okA && okB
}

// WS returns the most recent WS BBO for (venue, symbol), if any.
func (m *Manager) WS(symbol string, venue types.Venue) (types.BBO, bool) {
	return m.cache.WS(venue, symbol)
}

// IsStale delegates to the underlying cache.
func (m *Manager) IsStale(symbol string, staleMs int64) bool {
	return m.cache.IsStale(symbol, staleMs)
}
