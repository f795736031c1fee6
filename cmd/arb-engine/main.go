// Command arb-engine runs the cross-venue perpetual-futures arbitrage
// engine end to end: it loads configuration, wires venue adapters (real or
// simulated), builds the orchestrator and the universe scanner, starts the
// operator control plane, and waits for a shutdown signal.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/engine         — orchestrator: the per-symbol tick loop (C9)
//	internal/market         — universe scanner: ranks cross-venue pairs by tradable edge (C10)
//	internal/venue/rest     — live venue adapter: REST + WS against a generic perp venue
//	internal/venue/simulated — local mean-reverting BBO generator, no network
//	internal/store          — append-only JSONL + CSV audit log
//	internal/api            — operator control plane (HTTP + WS)
//	internal/risk           — consistency/health/ws-liveness gates
//	internal/ratelimit      — per-venue/scope token buckets
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arb-engine/internal/api"
	"arb-engine/internal/config"
	"arb-engine/internal/engine"
	"arb-engine/internal/market"
	"arb-engine/internal/ratelimit"
	"arb-engine/internal/risk"
	"arb-engine/internal/store"
	"arb-engine/internal/venue"
	"arb-engine/internal/venue/rest"
	"arb-engine/internal/venue/simulated"
	"arb-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "err", err, "dir", cfg.Store.DataDir)
		os.Exit(1)
	}
	defer st.Close()

	adapters := map[types.Venue]venue.Adapter{
		types.VenueA: buildAdapter(types.VenueA, cfg, cfg.VenueA, logger),
		types.VenueB: buildAdapter(types.VenueB, cfg, cfg.VenueB, logger),
	}

	limiter := ratelimit.New()
	for _, v := range []types.Venue{types.VenueA, types.VenueB} {
		name := string(v)
		rate, capacity := cfg.RateLimit(name, "market_data")
		if err := limiter.Register(v, ratelimit.ScopeMarketData, capacity, rate); err != nil {
			logger.Error("rate limit registration failed", "err", err, "venue", v, "scope", "market_data")
			os.Exit(1)
		}
		rate, capacity = cfg.RateLimit(name, "order")
		if err := limiter.Register(v, ratelimit.ScopeOrder, capacity, rate); err != nil {
			logger.Error("rate limit registration failed", "err", err, "venue", v, "scope", "order")
			os.Exit(1)
		}
	}

	riskParams, err := cfg.Risk.ToParams()
	if err != nil {
		logger.Error("invalid risk config", "err", err)
		os.Exit(1)
	}
	strategyParams, err := cfg.Strategy.ToParams()
	if err != nil {
		logger.Error("invalid strategy config", "err", err)
		os.Exit(1)
	}
	scannerParams, err := cfg.Scanner.ToParams()
	if err != nil {
		logger.Error("invalid scanner config", "err", err)
		os.Exit(1)
	}

	consistency := risk.NewConsistencyGuard(riskParams.ConsistencyToleranceBps, riskParams.ConsistencyMaxFailures)
	health := risk.NewHealthGuard(riskParams.HealthFailThreshold, riskParams.HealthCacheMs)
	wsSupervisor := risk.NewWsSupervisor(riskParams.WsIdleTimeoutSec)

	// The engine needs an EventSink at construction time, but the sink
	// (Service) needs the constructed *engine.Engine. sinkProxy breaks the
	// cycle: the engine is handed the proxy up front, and the proxy is
	// pointed at the real Service once it exists.
	proxy := &sinkProxy{}
	eng := engine.New(adapters, limiter, consistency, health, wsSupervisor, cfg.Runtime.LiveOrderEnabled, proxy, logger)
	eng.SetTradeSink(st)

	symbolParams := make(map[string]engine.Params, len(cfg.Symbols))
	for _, s := range cfg.SymbolConfigs() {
		symbolParams[s.Symbol] = engine.Params{Symbol: s, Strategy: strategyParams, Risk: riskParams}
	}

	venueSourceA, _ := adapters[types.VenueA].(market.VenueSource)
	venueSourceB, _ := adapters[types.VenueB].(market.VenueSource)
	scanner := market.NewScanner(venueSourceA, venueSourceB, st, scannerParams, logger)

	cfgSummary := api.ConfigSummary{
		Symbols: cfg.SymbolConfigs(), Strategy: strategyParams, Risk: riskParams, Scanner: scannerParams,
		Runtime: api.RuntimeSummary{
			SimulatedMarketData: cfg.Runtime.SimulatedMarketData,
			LiveOrderEnabled:    cfg.Runtime.LiveOrderEnabled,
			DefaultMode:         cfg.Runtime.DefaultMode,
		},
	}
	svc := api.NewService(eng, scanner, health, wsSupervisor, cfgSummary, symbolParams,
		cfg.Runtime.EnableLiveOrderConfirmText, cfg.Runtime.SimulatedMarketData, logger)
	proxy.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scanner.Run(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		apiServer = api.NewServer(addr, svc, svc.Hub(), cfg.API.AllowedOrigins, logger)
		go func() {
			if err := apiServer.Run(ctx); err != nil {
				logger.Error("api server failed", "err", err)
			}
		}()
		logger.Info("control plane started", "addr", addr)
	}

	if err := svc.EngineStart(ctx); err != nil {
		logger.Error("failed to start engine", "err", err)
		os.Exit(1)
	}

	if !cfg.Runtime.LiveOrderEnabled {
		logger.Warn("live order execution disabled — running in observe/simulated-fill mode")
	}
	logger.Info("arb-engine started",
		"symbols", len(cfg.Symbols),
		"simulated_market_data", cfg.Runtime.SimulatedMarketData,
		"live_order_enabled", cfg.Runtime.LiveOrderEnabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := svc.EngineStop(context.Background()); err != nil {
		logger.Error("error stopping engine", "err", err)
	}
}

// sinkProxy forwards engine.EventSink calls to a *api.Service that is
// constructed after the engine (the two depend on each other at wiring
// time). It is only ever accessed after svc is assigned, before any
// engine goroutine is started.
type sinkProxy struct {
	svc *api.Service
}

func (p *sinkProxy) Emit(rec types.EventRecord) {
	if p.svc != nil {
		p.svc.Emit(rec)
	}
}

func (p *sinkProxy) Broadcast(snap types.SymbolSnapshot) {
	if p.svc != nil {
		p.svc.Broadcast(snap)
	}
}

func buildAdapter(v types.Venue, cfg *config.Config, vc config.VenueConfig, logger *slog.Logger) venue.Adapter {
	if cfg.Runtime.SimulatedMarketData {
		return simulated.New(v, "sim-"+string(v))
	}
	markets := make(map[string]string, len(cfg.Symbols))
	for _, s := range cfg.SymbolConfigs() {
		if v == types.VenueA {
			markets[s.Symbol] = s.VenueAMarket
		} else {
			markets[s.Symbol] = s.VenueBMarket
		}
	}
	return rest.New(rest.Config{
		VenueID: v, BaseURL: vc.RESTURL, WSURL: vc.WSURL,
		APIKey: vc.Credentials.APIKey, APISecret: vc.Credentials.APISecret, Passphrase: vc.Credentials.Passphrase,
		Markets: markets,
		DryRun:  !cfg.Runtime.LiveOrderEnabled,
	}, logger)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
