package api

import (
	"arb-engine/pkg/types"
)

// StatusResponse is the `status` RPC payload: orchestrator lifecycle plus
// the gates that decide whether it can open new positions right now.
type StatusResponse struct {
	Engine         types.EngineStatus          `json:"engine"`
	LiveOrderOn    bool                        `json:"live_order_on"`
	SimulatedData  bool                        `json:"simulated_data"`
	ActiveSymbols  []string                    `json:"active_symbols"`
	VenueHealth    map[types.Venue]types.HealthItem `json:"venue_health"`
	VenueWs        map[types.Venue]types.WsState    `json:"venue_ws"`
	Warmup         types.WarmupStatus         `json:"warmup"`
}

// TradeSelection is the operator's currently-armed symbol, set via
// `trade.selection [get|set]`.
type TradeSelection struct {
	Symbol string `json:"symbol"`
}

// ConfigSummary is a read-only projection of the loaded configuration, safe
// to return over the `config` RPC (never includes credentials).
type ConfigSummary struct {
	Symbols  []types.SymbolConfig `json:"symbols"`
	Strategy types.StrategyParams `json:"strategy"`
	Risk     types.RiskParams     `json:"risk"`
	Scanner  types.ScannerConfig  `json:"scanner"`
	Runtime  RuntimeSummary       `json:"runtime"`
}

// RuntimeSummary mirrors config.RuntimeConfig without importing the config
// package (api stays a consumer, not a dependent, of config).
type RuntimeSummary struct {
	SimulatedMarketData bool   `json:"simulated_market_data"`
	LiveOrderEnabled    bool   `json:"live_order_enabled"`
	DefaultMode         string `json:"default_mode"`
}

// StreamEventType enumerates the `type` field of every message pushed over
// the streaming WebSocket channel.
type StreamEventType string

const (
	StreamSnapshot         StreamEventType = "snapshot"
	StreamSymbol           StreamEventType = "symbol"
	StreamEvent            StreamEventType = "event"
	StreamMarketTopSpreads StreamEventType = "market_top_spreads"
	StreamHeartbeat        StreamEventType = "heartbeat"
)

// StreamMessage is the envelope for every message sent to a connected
// dashboard/operator client.
type StreamMessage struct {
	Type StreamEventType `json:"type"`
	Data any             `json:"data,omitempty"`
}
