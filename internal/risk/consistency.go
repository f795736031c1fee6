// Package risk implements the Consistency Guard (C3), Health Guard (C4), and
// WS Supervisor (C5): the three liveness/quality gates the orchestrator
// consults before allowing an OPEN.
package risk

import (
	"sync"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// ConsistencyGuard compares WS vs REST quotes per symbol and strikes out a
// failure counter with hysteresis.
type ConsistencyGuard struct {
	mu           sync.Mutex
	toleranceBps decimal.Decimal
	maxFailures  int
	states       map[string]*types.ConsistencyState
}

// NewConsistencyGuard builds a guard with the given tolerance and strike
// threshold.
func NewConsistencyGuard(toleranceBps decimal.Decimal, maxFailures int) *ConsistencyGuard {
	return &ConsistencyGuard{
		toleranceBps: toleranceBps,
		maxFailures:  maxFailures,
		states:       make(map[string]*types.ConsistencyState),
	}
}

func diffBps(a, b decimal.Decimal) decimal.Decimal {
	if a.Sign() <= 0 || b.Sign() <= 0 {
		return decimal.Zero
	}
	base := a.Add(b).Div(decimal.NewFromInt(2))
	if base.Sign() <= 0 {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(base).Mul(decimal.NewFromInt(10000))
}

// Check compares WS vs REST quotes for one symbol across both venues and
// updates the failure counter. Missing any of the four BBOs counts as a
// failure. Returns the updated state.
func (g *ConsistencyGuard) Check(symbol string, aWS, aREST, bWS, bREST types.BBO) types.ConsistencyState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[symbol]
	if !ok {
		st = &types.ConsistencyState{Symbol: symbol, OK: true}
		g.states[symbol] = st
	}

	if !aWS.Valid() || !aREST.Valid() || !bWS.Valid() || !bREST.Valid() {
		st.FailedCount++
		st.LastReason = "missing bbo"
		st.OK = st.FailedCount < g.maxFailures
		return *st
	}

	max := diffBps(aWS.Bid, aREST.Bid)
	if d := diffBps(aWS.Ask, aREST.Ask); d.GreaterThan(max) {
		max = d
	}
	if d := diffBps(bWS.Bid, bREST.Bid); d.GreaterThan(max) {
		max = d
	}
	if d := diffBps(bWS.Ask, bREST.Ask); d.GreaterThan(max) {
		max = d
	}

	if max.GreaterThan(g.toleranceBps) {
		st.FailedCount++
		st.LastReason = "ws/rest diverge beyond tolerance"
	} else {
		st.FailedCount = 0
		st.LastReason = ""
	}
	st.OK = st.FailedCount < g.maxFailures
	return *st
}

// Snapshot returns the current state for symbol (zero value if never
// checked).
func (g *ConsistencyGuard) Snapshot(symbol string) types.ConsistencyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[symbol]; ok {
		return *st
	}
	return types.ConsistencyState{Symbol: symbol, OK: true}
}
