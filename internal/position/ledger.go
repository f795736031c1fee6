// Package position implements the dual-leg position ledger (C7): per-symbol
// leg state, imbalance/hard-breach detection, and the single-order rebalance
// planner.
package position

import (
	"sync"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// Ledger owns one PositionState per symbol.
type Ledger struct {
	mu    sync.RWMutex
	state map[string]*types.PositionState
}

// New builds an empty ledger.
func New() *Ledger {
	return &Ledger{state: make(map[string]*types.PositionState)}
}

func (l *Ledger) stateLocked(symbol string) *types.PositionState {
	st, ok := l.state[symbol]
	if !ok {
		st = &types.PositionState{Symbol: symbol}
		l.state[symbol] = st
	}
	return st
}

// ApplyFill adjusts the leg for fill.Venue by +qty (buy) or -qty (sell).
func (l *Ledger) ApplyFill(fill types.TradeFill) types.PositionState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateLocked(fill.Symbol)
	delta := fill.Quantity
	if fill.Side == types.Sell {
		delta = delta.Neg()
	}
	if fill.Venue == types.VenueA {
		st.LegA = st.LegA.Add(delta)
	} else {
		st.LegB = st.LegB.Add(delta)
	}
	return *st
}

// Snapshot returns a copy of symbol's position state.
func (l *Ledger) Snapshot(symbol string) types.PositionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.state[symbol]; ok {
		return *st
	}
	return types.PositionState{Symbol: symbol}
}

// SetLeg overwrites venue's leg directly from an adapter position refresh.
// Unlike ApplyFill, this is an authoritative overwrite, not a delta.
func (l *Ledger) SetLeg(symbol string, venue types.Venue, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(symbol)
	if venue == types.VenueA {
		st.LegA = qty
	} else {
		st.LegB = qty
	}
}

// SetTarget records the desired net exposure and active direction for
// symbol, used by the orchestrator to track an in-flight OPEN.
func (l *Ledger) SetTarget(symbol string, target decimal.Decimal, dir types.Direction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(symbol)
	st.TargetNet = target
	st.ActiveDirection = dir
}

// CanOpen reports whether both legs are within maxPos in absolute value.
func (l *Ledger) CanOpen(symbol string, maxPos decimal.Decimal) bool {
	st := l.Snapshot(symbol)
	return st.LegA.Abs().LessThanOrEqual(maxPos) && st.LegB.Abs().LessThanOrEqual(maxPos)
}

// IsImbalanced reports whether |net_exposure| exceeds tol.
func (l *Ledger) IsImbalanced(symbol string, tol decimal.Decimal) bool {
	st := l.Snapshot(symbol)
	return st.NetExposure().Abs().GreaterThan(tol)
}

// IsHardBreach reports whether |net_exposure| exceeds hard.
func (l *Ledger) IsHardBreach(symbol string, hard decimal.Decimal) bool {
	st := l.Snapshot(symbol)
	return st.NetExposure().Abs().GreaterThan(hard)
}

// PlanRebalance produces exactly one order that shrinks |net_exposure| by
// min(|net|, baseQty) on the leg with the larger signed position in the
// overshoot direction. Returns ok=false if net exposure is already zero.
func (l *Ledger) PlanRebalance(symbol string, baseQty decimal.Decimal) (types.RebalanceOrder, bool) {
	st := l.Snapshot(symbol)
	net := st.NetExposure()
	if net.IsZero() {
		return types.RebalanceOrder{}, false
	}

	qty := net.Abs()
	if qty.GreaterThan(baseQty) {
		qty = baseQty
	}

	var venue types.Venue
	var side types.Side
	if net.IsPositive() {
		// Too long: sell down the larger leg.
		if st.LegA.GreaterThanOrEqual(st.LegB) {
			venue = types.VenueA
		} else {
			venue = types.VenueB
		}
		side = types.Sell
	} else {
		// Too short: buy up the smaller (more negative) leg.
		if st.LegA.LessThanOrEqual(st.LegB) {
			venue = types.VenueA
		} else {
			venue = types.VenueB
		}
		side = types.Buy
	}

	return types.RebalanceOrder{
		Venue:    venue,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
	}, true
}
