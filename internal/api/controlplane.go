package api

import (
	"context"

	"arb-engine/pkg/types"
)

// ControlPlane is the operator-facing RPC surface (spec.md §6). Service is
// the only implementation that ships; the interface is named and kept
// separate from the HTTP/WS transport (Server) so an alternate transport
// (gRPC, stdio) could host the same contract.
type ControlPlane interface {
	Status(ctx context.Context) (StatusResponse, error)
	Symbols(ctx context.Context) ([]types.SymbolSnapshot, error)
	Events(ctx context.Context, limit int) ([]types.EventRecord, error)
	Config(ctx context.Context) (ConfigSummary, error)

	MarketTopSpreads(ctx context.Context, limit int, forceRefresh bool) (types.ScanResultPayload, error)

	TradeSelectionGet(ctx context.Context) (TradeSelection, error)
	TradeSelectionSet(ctx context.Context, symbol string) error

	RuntimeSetOrderExecution(ctx context.Context, enabled bool, confirmText string) error
	RuntimeSetMarketDataMode(ctx context.Context, simulated bool) error

	EngineStart(ctx context.Context) error
	EngineStop(ctx context.Context) error

	ModeSet(ctx context.Context, symbol string, mode types.StrategyMode) error
	SymbolParamsUpdate(ctx context.Context, symbol string, strategy types.StrategyParams) error
	SymbolFlatten(ctx context.Context, symbol string) error
}
