// Package engine is the central orchestrator (C9). It runs one long-lived
// loop per enabled symbol, fusing the order-book cache, consistency/health/WS
// guards, spread engine, position ledger, and execution engine into the
// strict per-tick ordering the system depends on for safety.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arb-engine/internal/book"
	"arb-engine/internal/execution"
	"arb-engine/internal/position"
	"arb-engine/internal/ratelimit"
	"arb-engine/internal/risk"
	"arb-engine/internal/spread"
	"arb-engine/internal/venue"
	"arb-engine/pkg/types"
)

// EventSink receives audit events and dashboard snapshots emitted by the
// per-symbol loops. Implementations must not block — Emit/Broadcast are
// called from the hot loop.
type EventSink interface {
	Emit(types.EventRecord)
	Broadcast(types.SymbolSnapshot)
}

// TradeSink persists fills for later audit/replay. Implementations must not
// block the execution path; a store-backed implementation should buffer or
// accept the append latency since fills are comparatively rare.
type TradeSink interface {
	AppendTrade(types.TradeFill) error
}

// Params bundles one symbol's strategy and risk configuration.
type Params struct {
	Symbol   types.SymbolConfig
	Strategy types.StrategyParams
	Risk     types.RiskParams
}

type symbolLoop struct {
	params Params
	cancel context.CancelFunc
}

// Engine owns the lifecycle of every per-symbol loop plus the shared
// components (book cache, guards, spread engine, ledger, execution engine).
type Engine struct {
	adapters map[types.Venue]venue.Adapter
	limiter  *ratelimit.Limiter

	books        *book.Manager
	consistency  *risk.ConsistencyGuard
	health       *risk.HealthGuard
	wsSupervisor *risk.WsSupervisor
	spreadEngine *spread.Engine
	modes        *spread.ModeController
	ledger       *position.Ledger
	exec         *execution.Engine
	perf         *position.PerformanceTracker

	sink      EventSink
	trades    TradeSink
	logger    *slog.Logger

	mu    sync.Mutex
	loops map[string]*symbolLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	status atomicStatus
}

// New wires a fresh orchestrator. adapters must contain an entry for both
// types.VenueA and types.VenueB.
func New(
	adapters map[types.Venue]venue.Adapter,
	limiter *ratelimit.Limiter,
	consistency *risk.ConsistencyGuard,
	health *risk.HealthGuard,
	wsSupervisor *risk.WsSupervisor,
	liveEnabled bool,
	sink EventSink,
	logger *slog.Logger,
) *Engine {
	ledger := position.New()
	perf := position.NewPerformanceTracker()

	e := &Engine{
		adapters:     adapters,
		limiter:      limiter,
		books:        book.NewManager(book.New()),
		consistency:  consistency,
		health:       health,
		wsSupervisor: wsSupervisor,
		spreadEngine: spread.New(),
		modes:        spread.NewModeController(),
		ledger:       ledger,
		perf:         perf,
		sink:         sink,
		logger:       logger.With("component", "engine"),
		loops:        make(map[string]*symbolLoop),
	}
	e.exec = execution.New(adapters, limiter, ledger, liveEnabled, func(fill types.TradeFill) {
		// Performance marks are refreshed by the per-symbol loop; the
		// tracker only needs the fill itself here.
		perf.OnFill(fill)
		if e.trades != nil {
			if err := e.trades.AppendTrade(fill); err != nil {
				e.logger.Error("persist trade failed", "err", err, "symbol", fill.Symbol)
			}
		}
	})
	e.status.set(types.StatusStopped)
	return e
}

// SetTradeSink wires a persistence sink for fills. Optional; nil is a valid
// no-op default for tests and simulated runs that don't need an audit log.
func (e *Engine) SetTradeSink(sink TradeSink) {
	e.trades = sink
}

// Ledger exposes the position ledger for dashboard reads.
func (e *Engine) Ledger() *position.Ledger { return e.ledger }

// Performance exposes the performance tracker for dashboard reads.
func (e *Engine) Performance() *position.PerformanceTracker { return e.perf }

// Modes exposes the mode controller for operator mode switches.
func (e *Engine) Modes() *spread.ModeController { return e.modes }

// SetLiveEnabled flips the live-order gate across all symbols.
func (e *Engine) SetLiveEnabled(enabled bool) { e.exec.SetLiveEnabled(enabled) }

// Status returns the orchestrator's own lifecycle state.
func (e *Engine) Status() types.EngineStatus { return e.status.get() }

// Start installs the book callback on every adapter and marks the engine
// running. It does not connect adapters: AddSymbol connects both venues for
// each symbol it starts.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.status.set(types.StatusStarting)

	for v, a := range e.adapters {
		venueID := v
		a.SetBookCallback(func(symbol string, bbo types.BBO) {
			e.onBookEvent(venueID, symbol, bbo)
		})
	}

	e.status.set(types.StatusRunning)
	return nil
}

// Stop cancels every per-symbol loop, disconnects adapters, and waits for
// goroutines to exit.
func (e *Engine) Stop() {
	e.status.set(types.StatusStopping)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	for _, a := range e.adapters {
		_ = a.Disconnect()
	}
	e.status.set(types.StatusStopped)
}

// AddSymbol registers params and starts its per-symbol loop.
func (e *Engine) AddSymbol(params Params) {
	e.spreadEngine.Register(params.Symbol.Symbol, params.Strategy)

	loopCtx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.loops[params.Symbol.Symbol] = &symbolLoop{params: params, cancel: cancel}
	e.mu.Unlock()

	for _, v := range []types.Venue{types.VenueA, types.VenueB} {
		if a, ok := e.adapters[v]; ok {
			if err := a.Connect(loopCtx, []string{params.Symbol.Symbol}); err != nil {
				e.logger.Error("adapter connect failed", "venue", v, "symbol", params.Symbol.Symbol, "error", err)
			}
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSymbolLoop(loopCtx, params)
	}()
}

// Flatten force-closes both legs of symbol via a reduce-only order pair,
// for operator-triggered emergency exits (the symbol.flatten RPC).
func (e *Engine) Flatten(ctx context.Context, symbol string) (types.ExecutionReport, error) {
	e.mu.Lock()
	loop, ok := e.loops[symbol]
	e.mu.Unlock()
	if !ok {
		return types.ExecutionReport{}, fmt.Errorf("symbol %q is not active", symbol)
	}
	return e.exec.Flatten(ctx, loop.params.Symbol), nil
}

// SymbolParams returns the active Params for symbol, if running.
func (e *Engine) SymbolParams(symbol string) (Params, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	loop, ok := e.loops[symbol]
	if !ok {
		return Params{}, false
	}
	return loop.params, true
}

// RemoveSymbol cancels a running symbol's loop.
func (e *Engine) RemoveSymbol(symbol string) {
	e.mu.Lock()
	loop, ok := e.loops[symbol]
	if ok {
		delete(e.loops, symbol)
	}
	e.mu.Unlock()
	if ok {
		loop.cancel()
	}
}

func (e *Engine) onBookEvent(v types.Venue, symbol string, bbo types.BBO) {
	e.books.UpdateWS(v, symbol, bbo)
	e.wsSupervisor.MarkMessage(v)
}

// runSymbolLoop implements the orchestrator's 11-step tick for one symbol.
func (e *Engine) runSymbolLoop(ctx context.Context, params Params) {
	symbol := params.Symbol.Symbol
	strategyP := params.Strategy
	riskP := params.Risk

	lastRestSync := time.Time{}
	lastPositionSync := time.Time{}

	interval := time.Duration(strategyP.LoopIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tickStart := time.Now()
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.emitEvent(types.LevelError, symbol, "panic recovered in symbol loop tick")
				}
			}()
			e.tick(ctx, symbol, params, riskP, strategyP, &lastRestSync, &lastPositionSync)
		}()

		elapsed := time.Since(tickStart)
		sleep := interval - elapsed
		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (e *Engine) tick(
	ctx context.Context,
	symbol string,
	params Params,
	riskP types.RiskParams,
	strategyP types.StrategyParams,
	lastRestSync, lastPositionSync *time.Time,
) {
	now := time.Now()

	// Step 2: periodic REST consistency sync.
	if now.Sub(*lastRestSync).Milliseconds() >= int64(strategyP.RestConsistencyMs) {
		e.syncRest(ctx, symbol)
		*lastRestSync = now
	}

	// Step 3: health checks.
	for _, v := range []types.Venue{types.VenueA, types.VenueB} {
		if e.health.ShouldCheck(v) {
			if a, ok := e.adapters[v]; ok {
				healthy := a.HealthCheck(ctx)
				e.health.Update(v, healthy, "")
			}
		}
	}

	// Step 4: periodic position sync.
	if now.Sub(*lastPositionSync).Milliseconds() >= int64(strategyP.PositionSyncMs) {
		e.syncPositions(ctx, symbol)
		*lastPositionSync = now
	}

	// Step 5: compute gates.
	stale := e.books.IsStale(symbol, riskP.StaleMs)
	wsOK := e.wsSupervisor.IsOK()
	healthOK := e.health.CanOpen()
	consistencyState := e.consistency.Snapshot(symbol)
	canOpen := !stale && wsOK && healthOK && consistencyState.OK

	riskState := types.RiskState{
		Stale: stale, ConsistencyOK: consistencyState.OK, HealthOK: healthOK, WsOK: wsOK, CanOpen: canOpen,
	}
	if !canOpen {
		riskState.Reason = gateReason(stale, wsOK, healthOK, consistencyState.OK)
	}

	// Step 6: hard breach check.
	hardLimit := strategyP.MaxPosition.Mul(riskP.HardNetLimitMultiplier)
	if e.ledger.IsHardBreach(symbol, hardLimit) {
		e.emitEvent(types.LevelWarn, symbol, "hard position breach, forcing flatten")
		e.exec.Flatten(ctx, params.Symbol)
	}

	// Step 7: spread metrics + signal.
	aPair, bPair, ok := e.books.EffectivePairs(symbol)
	ok = ok && aPair.Valid() && bPair.Valid()
	var signal types.SpreadSignal
	var metrics types.SpreadMetrics
	if !ok {
		signal = types.SpreadSignal{Action: types.ActionHold, Reason: "missing effective bbo", TimestampMs: types.UtcMs(now)}
	} else {
		metrics = e.spreadEngine.Update(symbol, aPair, bPair, now)
		mode := e.modes.Mode(symbol)
		signal = spread.Signal(metrics, mode, strategyP, now)
		e.perf.OnMark(symbol, aPair.Mid(), bPair.Mid())
	}

	// Step 8: imbalance-driven rebalance.
	netGuard := strategyP.MaxPosition.Mul(riskP.NetPosGuardMultiplier)
	if e.ledger.IsImbalanced(symbol, netGuard) {
		if order, planned := e.ledger.PlanRebalance(symbol, strategyP.BaseOrderQty); planned {
			e.exec.Rebalance(ctx, params.Symbol, order)
		}
	}

	// Step 9: execute the signal.
	var report types.ExecutionReport
	if ok {
		maxPos := strategyP.MaxPosition
		report = e.exec.ExecuteSignal(ctx, params.Symbol, signal, aPair, bPair, canOpen, maxPos)
		if report.FailedOrders > 0 {
			e.emitEvent(types.LevelWarn, symbol, report.Message)
		}
	}

	// Step 10: snapshots.
	posState := e.ledger.Snapshot(symbol)
	snap := types.SymbolSnapshot{
		Symbol: symbol, Risk: riskState,
		NetExposure: posState.NetExposure(), TargetNet: posState.TargetNet,
		LegA: posState.LegA, LegB: posState.LegB,
		SignedEdgeBps: metrics.SignedEdgeBps, ZScore: metrics.ZScore,
		UpdatedAt: types.UtcISO(now),
	}
	if ok {
		snap.VenueABid, snap.VenueAAsk, snap.VenueAMid = aPair.Bid, aPair.Ask, aPair.Mid()
		snap.VenueBBid, snap.VenueBAsk, snap.VenueBMid = bPair.Bid, bPair.Ask, bPair.Mid()
	}
	e.broadcastSnapshot(snap)
}

func gateReason(stale, wsOK, healthOK, consistencyOK bool) string {
	switch {
	case stale:
		return "order book stale"
	case !wsOK:
		return "ws supervisor not ok"
	case !healthOK:
		return "venue health gate failed"
	case !consistencyOK:
		return "ws/rest consistency check failed"
	default:
		return ""
	}
}

func (e *Engine) syncRest(ctx context.Context, symbol string) {
	var aBBO, bBBO types.BBO
	var aOK, bOK bool

	if a, ok := e.adapters[types.VenueA]; ok {
		if bbo, err := a.FetchRESTBBO(ctx, symbol); err == nil {
			e.books.UpdateREST(types.VenueA, symbol, bbo)
			aBBO, aOK = bbo, true
		}
	}
	if b, ok := e.adapters[types.VenueB]; ok {
		if bbo, err := b.FetchRESTBBO(ctx, symbol); err == nil {
			e.books.UpdateREST(types.VenueB, symbol, bbo)
			bBBO, bOK = bbo, true
		}
	}
	if !aOK || !bOK {
		return
	}

	aWS, _ := e.books.WS(symbol, types.VenueA)
	bWS, _ := e.books.WS(symbol, types.VenueB)
	e.consistency.Check(symbol, aWS, aBBO, bWS, bBBO)
}

func (e *Engine) syncPositions(ctx context.Context, symbol string) {
	for v, a := range e.adapters {
		qty, err := a.FetchPosition(ctx, symbol)
		if err != nil {
			continue
		}
		e.ledger.SetLeg(symbol, v, qty)
	}
}

func (e *Engine) emitEvent(level types.EventLevel, symbol, message string) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(types.EventRecord{
		Ts: types.UtcISO(time.Now()), Level: level, Source: symbol, Message: message,
	})
}

func (e *Engine) broadcastSnapshot(snap types.SymbolSnapshot) {
	if e.sink == nil {
		return
	}
	e.sink.Broadcast(snap)
}
