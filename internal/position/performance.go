package position

import (
	"sync"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

type legKey struct {
	venue  types.Venue
	symbol string
}

type legState struct {
	qty      decimal.Decimal
	avgPrice decimal.Decimal
}

// PerformanceSnapshot is the dashboard-facing rollup of one run's PnL.
type PerformanceSnapshot struct {
	RunningSince     string
	RunRealizedPnL   decimal.Decimal
	RunUnrealizedPnL decimal.Decimal
	RunTotalPnL      decimal.Decimal
	RunPnLPct        decimal.Decimal
	RunTurnoverUSD   decimal.Decimal
	RunTradeCount    int
	EquityNow        decimal.Decimal
	EquityPeak       decimal.Decimal
	DrawdownPct      decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
}

// PerformanceTracker accumulates realized/unrealized PnL, turnover, and
// drawdown across both venue legs for the current run.
type PerformanceTracker struct {
	mu sync.Mutex

	runningSince   string
	initialEquity  decimal.Decimal
	realizedPnL    decimal.Decimal
	runTurnoverUSD decimal.Decimal
	runTradeCount  int
	equityNow      decimal.Decimal
	equityPeak     decimal.Decimal
	maxDrawdownPct decimal.Decimal

	legs  map[legKey]*legState
	marks map[legKey]decimal.Decimal
}

// NewPerformanceTracker builds a tracker reset to an empty run.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		legs:  make(map[legKey]*legState),
		marks: make(map[legKey]decimal.Decimal),
	}
}

// Reset starts a new run clock, seeding equity from initialEquity.
func (t *PerformanceTracker) Reset(startedAt string, initialEquity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runningSince = startedAt
	t.initialEquity = initialEquity
	t.realizedPnL = decimal.Zero
	t.runTurnoverUSD = decimal.Zero
	t.runTradeCount = 0
	t.equityNow = initialEquity
	t.equityPeak = initialEquity
	t.maxDrawdownPct = decimal.Zero
	t.legs = make(map[legKey]*legState)
	t.marks = make(map[legKey]decimal.Decimal)
	t.refreshEquityLocked()
}

// OnFill applies a trade fill to the per-venue leg state, realizing PnL on
// any reversal and updating turnover/trade-count counters.
func (t *PerformanceTracker) OnFill(fill types.TradeFill) {
	if !fill.Quantity.IsPositive() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.runTradeCount++
	t.runTurnoverUSD = t.runTurnoverUSD.Add(fill.Quantity.Mul(fill.Price).Abs())

	delta := fill.Quantity
	if fill.Side == types.Sell {
		delta = delta.Neg()
	}
	key := legKey{venue: fill.Venue, symbol: fill.Symbol}
	leg, ok := t.legs[key]
	if !ok {
		leg = &legState{}
		t.legs[key] = leg
	}
	t.realizedPnL = t.realizedPnL.Add(applyDelta(leg, delta, fill.Price))

	if _, marked := t.marks[key]; !marked {
		t.marks[key] = fill.Price
	}
	t.refreshEquityLocked()
}

// OnMark records a fresh mid-price mark for both venues' legs on symbol.
func (t *PerformanceTracker) OnMark(symbol string, aMid, bMid decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if aMid.IsPositive() {
		t.marks[legKey{venue: types.VenueA, symbol: symbol}] = aMid
	}
	if bMid.IsPositive() {
		t.marks[legKey{venue: types.VenueB, symbol: symbol}] = bMid
	}
	t.refreshEquityLocked()
}

// Snapshot returns the current run's performance rollup.
func (t *PerformanceTracker) Snapshot() PerformanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	unrealized := t.computeUnrealizedLocked()
	totalPnL := t.realizedPnL.Add(unrealized)

	drawdownPct := decimal.Zero
	if t.equityPeak.IsPositive() {
		d := t.equityPeak.Sub(t.equityNow).Div(t.equityPeak).Mul(decimal.NewFromInt(100))
		if d.IsPositive() {
			drawdownPct = d
		}
	}

	pnlPct := decimal.Zero
	if t.initialEquity.IsPositive() {
		pnlPct = totalPnL.Div(t.initialEquity).Mul(decimal.NewFromInt(100))
	}

	return PerformanceSnapshot{
		RunningSince:     t.runningSince,
		RunRealizedPnL:   t.realizedPnL,
		RunUnrealizedPnL: unrealized,
		RunTotalPnL:      totalPnL,
		RunPnLPct:        pnlPct,
		RunTurnoverUSD:   t.runTurnoverUSD,
		RunTradeCount:    t.runTradeCount,
		EquityNow:        t.equityNow,
		EquityPeak:       t.equityPeak,
		DrawdownPct:      drawdownPct,
		MaxDrawdownPct:   t.maxDrawdownPct,
	}
}

// applyDelta folds a signed quantity delta into leg, returning any realized
// PnL from closing or reversing the position.
func applyDelta(leg *legState, delta, price decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return decimal.Zero
	}

	current := leg.qty
	if current.IsZero() {
		leg.qty = delta
		leg.avgPrice = price
		return decimal.Zero
	}

	sameSign := current.Sign() == delta.Sign()
	if sameSign {
		next := current.Add(delta)
		weighted := current.Abs().Mul(leg.avgPrice).Add(delta.Abs().Mul(price))
		leg.avgPrice = weighted.Div(next.Abs())
		leg.qty = next
		return decimal.Zero
	}

	closeQty := decimal.Min(current.Abs(), delta.Abs())
	dirSign := decimal.NewFromInt(1)
	if current.IsNegative() {
		dirSign = decimal.NewFromInt(-1)
	}
	realized := price.Sub(leg.avgPrice).Mul(closeQty).Mul(dirSign)

	next := current.Add(delta)
	switch {
	case next.IsZero():
		leg.qty = decimal.Zero
		leg.avgPrice = decimal.Zero
	case current.Sign() == next.Sign():
		leg.qty = next
	default:
		// Crossed through flat and reversed: remainder opens at the fill price.
		leg.qty = next
		leg.avgPrice = price
	}
	return realized
}

func (t *PerformanceTracker) computeUnrealizedLocked() decimal.Decimal {
	unrealized := decimal.Zero
	for key, leg := range t.legs {
		mark, ok := t.marks[key]
		if !ok || leg.qty.IsZero() {
			continue
		}
		unrealized = unrealized.Add(mark.Sub(leg.avgPrice).Mul(leg.qty))
	}
	return unrealized
}

func (t *PerformanceTracker) refreshEquityLocked() {
	unrealized := t.computeUnrealizedLocked()
	totalPnL := t.realizedPnL.Add(unrealized)
	t.equityNow = t.initialEquity.Add(totalPnL)
	if t.equityNow.GreaterThan(t.equityPeak) {
		t.equityPeak = t.equityNow
	}
	if t.equityPeak.IsPositive() {
		drawdownPct := t.equityPeak.Sub(t.equityNow).Div(t.equityPeak).Mul(decimal.NewFromInt(100))
		if drawdownPct.IsPositive() && drawdownPct.GreaterThan(t.maxDrawdownPct) {
			t.maxDrawdownPct = drawdownPct
		}
	}
}
