// Package execution implements the two-leg execution engine (C8): OPEN
// (taker-then-maker-hedge), CLOSE, REBALANCE, and FLATTEN, gated by the
// live-order switch, the risk guards, and the position ledger's max-position
// check.
package execution

import (
	"context"
	"sync/atomic"
	"time"

	"arb-engine/internal/position"
	"arb-engine/internal/ratelimit"
	"arb-engine/internal/venue"
	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

const orderAcquireTimeout = 800 * time.Millisecond

// Engine drives order submission for one process's worth of symbols. It
// holds no per-symbol state itself; all position truth lives in Ledger.
type Engine struct {
	adapters map[types.Venue]venue.Adapter
	limiter  *ratelimit.Limiter
	ledger   *position.Ledger
	onFill   func(types.TradeFill)

	liveEnabled atomic.Bool
}

// New builds an execution engine wired to the given adapters, rate limiter,
// and position ledger. onFill, if non-nil, is invoked synchronously after
// every recorded fill (e.g. to feed a PerformanceTracker); a panic in onFill
// is recovered and ignored so a reporting bug never blocks trading.
func New(adapters map[types.Venue]venue.Adapter, limiter *ratelimit.Limiter, ledger *position.Ledger, liveEnabled bool, onFill func(types.TradeFill)) *Engine {
	e := &Engine{adapters: adapters, limiter: limiter, ledger: ledger, onFill: onFill}
	e.liveEnabled.Store(liveEnabled)
	return e
}

// SetLiveEnabled flips the live-order gate at runtime.
func (e *Engine) SetLiveEnabled(enabled bool) {
	e.liveEnabled.Store(enabled)
}

func (e *Engine) LiveEnabled() bool {
	return e.liveEnabled.Load()
}

func blockedReport(signal types.SpreadSignal, message string) types.ExecutionReport {
	return types.ExecutionReport{Signal: signal, Message: message}
}

// ExecuteSignal carries out signal for symbol, given the effective BBOs of
// both venues and whether the risk gates currently allow opening.
func (e *Engine) ExecuteSignal(ctx context.Context, symbolCfg types.SymbolConfig, signal types.SpreadSignal, a, b types.BBO, canOpen bool, maxPosition decimal.Decimal) types.ExecutionReport {
	if (signal.Action == types.ActionOpen || signal.Action == types.ActionClose) && !e.liveEnabled.Load() {
		return blockedReport(signal, "live orders disabled")
	}

	switch signal.Action {
	case types.ActionHold:
		return types.ExecutionReport{Signal: signal, Message: signal.Reason}

	case types.ActionOpen:
		if !canOpen {
			return types.ExecutionReport{Signal: signal, AttemptedOrders: 0, FailedOrders: 1, Message: "risk gate denies open"}
		}
		if !e.ledger.CanOpen(symbolCfg.Symbol, maxPosition) {
			return types.ExecutionReport{Signal: signal, AttemptedOrders: 0, FailedOrders: 1, Message: "max position reached"}
		}
		return e.openBatches(ctx, symbolCfg, signal, a, b)

	case types.ActionClose:
		return e.closePosition(ctx, symbolCfg, signal)

	default:
		return types.ExecutionReport{Signal: signal, FailedOrders: 1, Message: "unknown signal action"}
	}
}

// resolveSides maps a direction to the (venue_a side, venue_b side) pair for
// the aggressor-first OPEN protocol.
func resolveSides(direction types.Direction) (aSide, bSide types.Side) {
	if direction == types.LongBShortA {
		return types.Sell, types.Buy
	}
	return types.Buy, types.Sell
}

func (e *Engine) openBatches(ctx context.Context, symbolCfg types.SymbolConfig, signal types.SpreadSignal, a, b types.BBO) types.ExecutionReport {
	report := types.ExecutionReport{Signal: signal, Message: "open execution complete"}

	aSide, bSide := resolveSides(signal.Direction)
	fallbackPrice := a.Ask
	if aSide == types.Sell {
		fallbackPrice = a.Bid
	}

	for _, qty := range signal.Batches {
		aReq := types.OrderRequest{
			Venue: types.VenueA, Symbol: symbolCfg.Symbol, Side: aSide,
			Quantity: qty, OrderType: types.OrderMarket, Tag: "open-taker",
		}
		report.AttemptedOrders++
		aAck, err := e.submit(ctx, aReq)
		if err != nil || !aAck.Success || !aAck.FilledQuantity.IsPositive() {
			report.FailedOrders++
			continue
		}
		report.SuccessOrders++
		report.OrderIDs = append(report.OrderIDs, aAck.OrderID)
		aPrice := aAck.AvgPrice
		if !aPrice.IsPositive() {
			aPrice = fallbackPrice
		}
		e.recordFill(types.TradeFill{
			Venue: types.VenueA, Symbol: symbolCfg.Symbol, Side: aAck.Side,
			Quantity: aAck.FilledQuantity, Price: aPrice, OrderID: aAck.OrderID, Tag: "open-taker",
		})

		hedgeQty := aAck.FilledQuantity
		hedgePrice := b.Bid
		if bSide == types.Sell {
			hedgePrice = b.Ask
		}
		bReq := types.OrderRequest{
			Venue: types.VenueB, Symbol: symbolCfg.Symbol, Side: bSide,
			Quantity: hedgeQty, OrderType: types.OrderLimit, Price: hedgePrice,
			PostOnly: true, Tag: "open-hedge",
		}
		report.AttemptedOrders++
		bAck, err := e.submit(ctx, bReq)
		if err != nil || !bAck.Success || !bAck.FilledQuantity.IsPositive() {
			report.FailedOrders++
			continue
		}
		report.SuccessOrders++
		report.OrderIDs = append(report.OrderIDs, bAck.OrderID)
		bPrice := bAck.AvgPrice
		if !bPrice.IsPositive() {
			bPrice = hedgePrice
		}
		e.recordFill(types.TradeFill{
			Venue: types.VenueB, Symbol: symbolCfg.Symbol, Side: bAck.Side,
			Quantity: bAck.FilledQuantity, Price: bPrice, OrderID: bAck.OrderID, Tag: "open-hedge",
		})
	}

	return report
}

func (e *Engine) closePosition(ctx context.Context, symbolCfg types.SymbolConfig, signal types.SpreadSignal) types.ExecutionReport {
	closeQty := sumBatches(signal.Batches)
	st := e.ledger.Snapshot(symbolCfg.Symbol)

	var orders []types.OrderRequest
	if req, ok := reduceOnlyLeg(types.VenueA, symbolCfg.Symbol, st.LegA, closeQty, "close"); ok {
		orders = append(orders, req)
	}
	if req, ok := reduceOnlyLeg(types.VenueB, symbolCfg.Symbol, st.LegB, closeQty, "close"); ok {
		orders = append(orders, req)
	}

	return e.executeReduceOnly(ctx, signal, orders)
}

// Rebalance executes the ledger's single-order rebalance plan as a
// reduce-only market order.
func (e *Engine) Rebalance(ctx context.Context, symbolCfg types.SymbolConfig, order types.RebalanceOrder) types.ExecutionReport {
	signal := types.SpreadSignal{Action: types.ActionRebalance, Reason: "position rebalance", Batches: []decimal.Decimal{order.Quantity}}
	req := types.OrderRequest{
		Venue: order.Venue, Symbol: order.Symbol, Side: order.Side,
		Quantity: order.Quantity, OrderType: types.OrderMarket, ReduceOnly: true, Tag: "rebalance",
	}
	return e.executeReduceOnly(ctx, signal, []types.OrderRequest{req})
}

// Flatten zeroes both legs for symbolCfg with reduce-only market orders.
// Unlike OPEN, this always fires when live_enabled regardless of the
// risk gate — it is the forced response to a hard breach.
func (e *Engine) Flatten(ctx context.Context, symbolCfg types.SymbolConfig) types.ExecutionReport {
	signal := types.SpreadSignal{Action: types.ActionRebalance, Reason: "forced flatten"}
	if !e.liveEnabled.Load() {
		return blockedReport(signal, "live orders disabled")
	}

	st := e.ledger.Snapshot(symbolCfg.Symbol)
	var orders []types.OrderRequest
	if req, ok := reduceOnlyLeg(types.VenueA, symbolCfg.Symbol, st.LegA, st.LegA.Abs(), "flatten"); ok {
		orders = append(orders, req)
	}
	if req, ok := reduceOnlyLeg(types.VenueB, symbolCfg.Symbol, st.LegB, st.LegB.Abs(), "flatten"); ok {
		orders = append(orders, req)
	}
	return e.executeReduceOnly(ctx, signal, orders)
}

func (e *Engine) executeReduceOnly(ctx context.Context, signal types.SpreadSignal, orders []types.OrderRequest) types.ExecutionReport {
	if !e.liveEnabled.Load() {
		return blockedReport(signal, "live orders disabled, not executed")
	}

	report := types.ExecutionReport{Signal: signal, Message: "rebalance complete"}
	for _, req := range orders {
		report.AttemptedOrders++
		ack, err := e.submit(ctx, req)
		if err != nil || !ack.Success || !ack.FilledQuantity.IsPositive() {
			report.FailedOrders++
			continue
		}
		report.SuccessOrders++
		report.OrderIDs = append(report.OrderIDs, ack.OrderID)
		price := ack.AvgPrice
		e.recordFill(types.TradeFill{
			Venue: req.Venue, Symbol: req.Symbol, Side: ack.Side,
			Quantity: ack.FilledQuantity, Price: price, OrderID: ack.OrderID, Tag: req.Tag,
		})
	}
	return report
}

// reduceOnlyLeg builds a reduce-only market order that shrinks leg by up to
// qty, or ok=false if leg is already flat.
func reduceOnlyLeg(v types.Venue, symbol string, leg, qty decimal.Decimal, tag string) (types.OrderRequest, bool) {
	if leg.IsZero() {
		return types.OrderRequest{}, false
	}
	amount := decimal.Min(leg.Abs(), qty)
	side := types.Sell
	if leg.IsNegative() {
		side = types.Buy
	}
	return types.OrderRequest{
		Venue: v, Symbol: symbol, Side: side, Quantity: amount,
		OrderType: types.OrderMarket, ReduceOnly: true, Tag: tag,
	}, true
}

func sumBatches(batches []decimal.Decimal) decimal.Decimal {
	if len(batches) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, b := range batches {
		sum = sum.Add(b)
	}
	return sum
}

// submit rate-limits, dispatches to the venue adapter, and patches a
// reported-zero market fill up to the requested quantity (the adapter
// contract guarantees synchronous market fills).
func (e *Engine) submit(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := e.limiter.Acquire(ctx, req.Venue, ratelimit.ScopeOrder, 1, orderAcquireTimeout); err != nil {
		return types.OrderAck{
			Success: false, Venue: req.Venue, Side: req.Side,
			RequestedQuantity: req.Quantity, Message: "rate limited",
		}, nil
	}

	adapter, ok := e.adapters[req.Venue]
	if !ok {
		return types.OrderAck{Success: false, Venue: req.Venue, Message: "no adapter registered"}, nil
	}

	ack, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		return ack, err
	}
	if ack.Success && !ack.FilledQuantity.IsPositive() && req.OrderType == types.OrderMarket {
		ack.FilledQuantity = req.Quantity
	}
	return ack, nil
}

func (e *Engine) recordFill(fill types.TradeFill) {
	e.ledger.ApplyFill(fill)
	if e.onFill == nil {
		return
	}
	defer func() { recover() }()
	e.onFill(fill)
}
