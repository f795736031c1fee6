package spread

import (
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

var (
	pointSeven = decimal.RequireFromString("0.7")
	z23        = decimal.RequireFromString("2.3")
	z30        = decimal.RequireFromString("3.0")
)

var normalWeights = []decimal.Decimal{
	decimal.RequireFromString("1.0"),
	decimal.RequireFromString("0.7"),
	decimal.RequireFromString("0.5"),
}

var zeroWearWeights = []decimal.Decimal{
	decimal.RequireFromString("0.6"),
	decimal.RequireFromString("0.4"),
	decimal.RequireFromString("0.2"),
}

// thresholds resolves the z_entry / z_exit / min_edge_bps table for mode.
func thresholds(p types.StrategyParams, mode types.StrategyMode) (zEntry, zExit, minEdge decimal.Decimal) {
	if mode == types.ModeZeroWear {
		return p.ZZeroEntry, p.ZZeroExit, p.MinEdgeBps.Mul(pointSeven)
	}
	return p.ZEntry, p.ZExit, p.MinEdgeBps
}

// batchCount returns the number of batches for the given |z|.
func batchCount(absZ decimal.Decimal) int {
	switch {
	case absZ.LessThan(z23):
		return 1
	case absZ.LessThan(z30):
		return 2
	default:
		return 3
	}
}

func weightsFor(mode types.StrategyMode) []decimal.Decimal {
	if mode == types.ModeZeroWear {
		return zeroWearWeights
	}
	return normalWeights
}

// batchSchedule builds the ordered batch quantities for an OPEN signal.
func batchSchedule(p types.StrategyParams, mode types.StrategyMode, absZ decimal.Decimal) []decimal.Decimal {
	count := batchCount(absZ)
	weights := weightsFor(mode)[:count]

	out := make([]decimal.Decimal, 0, count)
	for _, w := range weights {
		if w.IsZero() {
			continue
		}
		qty := p.BaseOrderQty.Mul(w)
		if qty.GreaterThan(p.MaxBatchQty) {
			qty = p.MaxBatchQty
		}
		out = append(out, qty)
	}
	if len(out) == 0 {
		qty := p.BaseOrderQty
		if qty.GreaterThan(p.MaxBatchQty) {
			qty = p.MaxBatchQty
		}
		out = append(out, qty)
	}
	return out
}

// Signal derives a trading decision from metrics under the given mode and
// strategy parameters.
func Signal(metrics types.SpreadMetrics, mode types.StrategyMode, p types.StrategyParams, now time.Time) types.SpreadSignal {
	zEntry, zExit, minEdge := thresholds(p, mode)

	absEdge := metrics.SignedEdgeBps.Abs()
	absZ := metrics.ZScore.Abs()

	direction := types.LongBShortA
	if metrics.SignedEdgeBps.GreaterThanOrEqual(decimal.Zero) {
		direction = types.LongASHortB
	}

	sig := types.SpreadSignal{
		Direction:    direction,
		EdgeBps:      metrics.SignedEdgeBps,
		ZScore:       metrics.ZScore,
		ThresholdBps: minEdge,
		TimestampMs:  types.UtcMs(now),
	}

	switch {
	case absEdge.LessThan(minEdge):
		sig.Action = types.ActionHold
		sig.Reason = "insufficient edge"
	case absZ.GreaterThanOrEqual(zEntry):
		sig.Action = types.ActionOpen
		sig.Reason = "entry threshold reached"
		sig.Batches = batchSchedule(p, mode, absZ)
	case absZ.LessThanOrEqual(zExit):
		sig.Action = types.ActionClose
		sig.Reason = "exit threshold reached"
		sig.Batches = []decimal.Decimal{p.BaseOrderQty}
	default:
		sig.Action = types.ActionHold
		sig.Reason = "awaiting better spread"
	}

	return sig
}
