// Package venue defines the adapter port (C12) that every concrete venue
// integration implements: connect/disconnect, market-data pulls, position
// queries, and order submission.
package venue

import (
	"context"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// BookCallback is invoked whenever a venue's WS feed delivers a fresh BBO.
type BookCallback func(symbol string, bbo types.BBO)

// Adapter is the polymorphic venue integration surface the orchestrator and
// execution engine drive. Implementations: internal/venue/simulated (no
// network I/O, used in dry-run/backtest) and internal/venue/rest (resty +
// gorilla/websocket against a live venue).
type Adapter interface {
	Name() types.Venue

	// Connect subscribes to market data for symbols over WS. Connect must be
	// safe to call again after Disconnect.
	Connect(ctx context.Context, symbols []string) error
	Disconnect() error

	// SetBookCallback registers the handler invoked on each WS book update.
	SetBookCallback(cb BookCallback)

	// HealthCheck performs a cheap liveness probe (e.g. a REST ping).
	HealthCheck(ctx context.Context) bool

	// FetchBBO returns the best bid/offer from the adapter's own cached WS
	// state; ok is false if no WS update has arrived yet.
	FetchBBO(symbol string) (types.BBO, bool)

	// FetchRESTBBO polls the venue's REST book endpoint directly.
	FetchRESTBBO(ctx context.Context, symbol string) (types.BBO, error)

	// FetchPosition returns the adapter's view of current position for symbol.
	FetchPosition(ctx context.Context, symbol string) (decimal.Decimal, error)

	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
}
