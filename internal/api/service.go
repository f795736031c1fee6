package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"arb-engine/internal/engine"
	"arb-engine/internal/market"
	"arb-engine/internal/risk"
	"arb-engine/pkg/types"
)

const maxEventBuffer = 500

// Service implements both ControlPlane (operator RPCs) and engine.EventSink
// (the hot-path callback the orchestrator uses to emit audit events and
// dashboard snapshots). It is the single source of truth the HTTP/WS
// surface reads from — the orchestrator never answers a read directly.
type Service struct {
	eng     *engine.Engine
	scanner *market.Scanner
	health  *risk.HealthGuard
	ws      *risk.WsSupervisor

	hub    *Hub
	logger *slog.Logger

	cfgSummary    ConfigSummary
	confirmPhrase string

	mu          sync.RWMutex
	snapshots   map[string]types.SymbolSnapshot
	events      []types.EventRecord
	selection   string
	liveOrderOn bool
	simulated   bool

	paramsMu sync.RWMutex
	params   map[string]engine.Params
}

// NewService wires a Service. params seeds the set of configured symbols;
// only entries with Symbol.Enabled are started by EngineStart.
func NewService(
	eng *engine.Engine,
	scanner *market.Scanner,
	health *risk.HealthGuard,
	ws *risk.WsSupervisor,
	cfgSummary ConfigSummary,
	params map[string]engine.Params,
	confirmPhrase string,
	simulated bool,
	logger *slog.Logger,
) *Service {
	return &Service{
		eng: eng, scanner: scanner, health: health, ws: ws,
		hub: NewHub(logger), logger: logger.With("component", "api_service"),
		cfgSummary: cfgSummary, confirmPhrase: confirmPhrase,
		snapshots: make(map[string]types.SymbolSnapshot),
		params:    params,
		simulated: simulated,
	}
}

// Hub exposes the broadcast hub for the HTTP layer's WS upgrade handler.
func (s *Service) Hub() *Hub { return s.hub }

// Emit implements engine.EventSink.
func (s *Service) Emit(rec types.EventRecord) {
	s.mu.Lock()
	s.events = append(s.events, rec)
	if len(s.events) > maxEventBuffer {
		s.events = s.events[len(s.events)-maxEventBuffer:]
	}
	s.mu.Unlock()
	s.hub.Broadcast(StreamMessage{Type: StreamEvent, Data: rec})
}

// Broadcast implements engine.EventSink.
func (s *Service) Broadcast(snap types.SymbolSnapshot) {
	s.mu.Lock()
	s.snapshots[snap.Symbol] = snap
	s.mu.Unlock()
	s.hub.Broadcast(StreamMessage{Type: StreamSymbol, Data: snap})
}

func (s *Service) Status(ctx context.Context) (StatusResponse, error) {
	s.mu.RLock()
	active := make([]string, 0, len(s.snapshots))
	for symbol := range s.snapshots {
		active = append(active, symbol)
	}
	liveOrderOn, simulated := s.liveOrderOn, s.simulated
	s.mu.RUnlock()

	return StatusResponse{
		Engine:        s.eng.Status(),
		LiveOrderOn:   liveOrderOn,
		SimulatedData: simulated,
		ActiveSymbols: active,
		VenueHealth:   s.health.Summary(),
		VenueWs:       s.ws.Snapshot(),
		Warmup:        s.scanner.WarmupStatus(),
	}, nil
}

func (s *Service) Symbols(ctx context.Context) ([]types.SymbolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.SymbolSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out, nil
}

func (s *Service) Events(ctx context.Context, limit int) ([]types.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	start := len(s.events) - limit
	out := make([]types.EventRecord, limit)
	copy(out, s.events[start:])
	return out, nil
}

func (s *Service) Config(ctx context.Context) (ConfigSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfgSummary
	cfg.Runtime.LiveOrderEnabled = s.liveOrderOn
	cfg.Runtime.SimulatedMarketData = s.simulated
	return cfg, nil
}

func (s *Service) MarketTopSpreads(ctx context.Context, limit int, forceRefresh bool) (types.ScanResultPayload, error) {
	payload := s.scanner.GetTopSpreads(ctx, limit, forceRefresh)
	s.hub.Broadcast(StreamMessage{Type: StreamMarketTopSpreads, Data: payload})
	return payload, nil
}

func (s *Service) TradeSelectionGet(ctx context.Context) (TradeSelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TradeSelection{Symbol: s.selection}, nil
}

func (s *Service) TradeSelectionSet(ctx context.Context, symbol string) error {
	s.paramsMu.RLock()
	_, known := s.params[symbol]
	s.paramsMu.RUnlock()
	if !known {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	s.mu.Lock()
	s.selection = symbol
	s.mu.Unlock()
	return nil
}

// RuntimeSetOrderExecution arms or disarms live order submission. Arming
// requires confirmText to match the configured confirmation phrase — a
// plain boolean flip is not enough to move real money.
func (s *Service) RuntimeSetOrderExecution(ctx context.Context, enabled bool, confirmText string) error {
	if enabled && (s.confirmPhrase == "" || confirmText != s.confirmPhrase) {
		return fmt.Errorf("live order execution requires the configured confirmation phrase")
	}
	s.eng.SetLiveEnabled(enabled)
	s.mu.Lock()
	s.liveOrderOn = enabled
	s.mu.Unlock()
	return nil
}

// RuntimeSetMarketDataMode flips the simulated/live market-data flag.
// Actually swapping venue adapters requires the orchestrator to be
// stopped and restarted by the process supervisor (cmd/arb-engine) since
// adapters are wired once at construction; this records operator intent
// and rejects the request while the engine is running.
func (s *Service) RuntimeSetMarketDataMode(ctx context.Context, simulated bool) error {
	if s.eng.Status() != types.StatusStopped {
		return fmt.Errorf("market data mode can only change while the engine is stopped")
	}
	s.mu.Lock()
	s.simulated = simulated
	s.mu.Unlock()
	return nil
}

func (s *Service) EngineStart(ctx context.Context) error {
	if err := s.eng.Start(ctx); err != nil {
		return err
	}
	s.paramsMu.RLock()
	defer s.paramsMu.RUnlock()
	for _, p := range s.params {
		if p.Symbol.Enabled {
			s.eng.AddSymbol(p)
		}
	}
	return nil
}

func (s *Service) EngineStop(ctx context.Context) error {
	s.eng.Stop()
	return nil
}

func (s *Service) ModeSet(ctx context.Context, symbol string, mode types.StrategyMode) error {
	s.paramsMu.RLock()
	_, known := s.params[symbol]
	s.paramsMu.RUnlock()
	if !known {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	s.eng.Modes().SetMode(symbol, mode)
	return nil
}

// SymbolParamsUpdate replaces symbol's strategy params. If the symbol's
// loop is currently running, it is restarted with the new params so the
// change takes effect immediately rather than on next engine.start.
func (s *Service) SymbolParamsUpdate(ctx context.Context, symbol string, strategy types.StrategyParams) error {
	s.paramsMu.Lock()
	p, known := s.params[symbol]
	if !known {
		s.paramsMu.Unlock()
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	p.Strategy = strategy
	s.params[symbol] = p
	s.paramsMu.Unlock()

	if _, running := s.eng.SymbolParams(symbol); running {
		s.eng.RemoveSymbol(symbol)
		s.eng.AddSymbol(p)
	}
	return nil
}

func (s *Service) SymbolFlatten(ctx context.Context, symbol string) error {
	report, err := s.eng.Flatten(ctx, symbol)
	if err != nil {
		return err
	}
	s.logger.Info("symbol flattened via operator RPC", "symbol", symbol, "message", report.Message)
	return nil
}
