package market

import (
	"context"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// VenueSource is the subset of a venue's market-data surface the universe
// scanner needs: instrument discovery, a shallow depth snapshot, and
// 1-minute candles for spread-history backfill. Concrete venue adapters
// implement this alongside the trading venue.Adapter interface.
type VenueSource interface {
	ListInstruments(ctx context.Context) ([]types.Instrument, error)
	FetchDepth(ctx context.Context, market string, depth int) (bid, ask decimal.Decimal, err error)
	FetchKlines(ctx context.Context, market string, intervalMin, limit int) ([]types.Kline, error)
}

// HistoryStore is the slice of the persistence port (C11) the scanner
// writes spread-history rows through.
type HistoryStore interface {
	AppendSpreadHistory(row types.SpreadHistoryRow) (inserted bool, err error)
	RecentSpreadHistory(symbol string, n int) ([]types.SpreadHistoryRow, error)
	TrimSpreadHistory(symbol string, keep int) error
}
