package execution

import (
	"context"
	"sync"
	"testing"

	"arb-engine/internal/position"
	"arb-engine/internal/ratelimit"
	"arb-engine/internal/venue"
	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeAdapter fills every market order in full at a fixed price of 100 and
// every limit order in full at its limit price, recording every request it
// receives for assertions.
type fakeAdapter struct {
	mu       sync.Mutex
	venue    types.Venue
	requests []types.OrderRequest
	nextID   int
}

func newFakeAdapter(v types.Venue) *fakeAdapter { return &fakeAdapter{venue: v} }

func (f *fakeAdapter) Name() types.Venue { return f.venue }
func (f *fakeAdapter) Connect(ctx context.Context, symbols []string) error { return nil }
func (f *fakeAdapter) Disconnect() error                                   { return nil }
func (f *fakeAdapter) SetBookCallback(cb venue.BookCallback)               {}
func (f *fakeAdapter) HealthCheck(ctx context.Context) bool                { return true }
func (f *fakeAdapter) FetchBBO(symbol string) (types.BBO, bool)            { return types.BBO{}, false }
func (f *fakeAdapter) FetchRESTBBO(ctx context.Context, symbol string) (types.BBO, error) {
	return types.BBO{}, nil
}
func (f *fakeAdapter) FetchPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.nextID++

	price := req.Price
	if req.OrderType == types.OrderMarket {
		price = dec("100")
	}
	return types.OrderAck{
		Success: true, Venue: f.venue, OrderID: "ord-" + string(rune('0'+f.nextID)),
		Side: req.Side, RequestedQuantity: req.Quantity, FilledQuantity: req.Quantity, AvgPrice: price,
	}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return true, nil
}

func newTestEngine(t *testing.T, liveEnabled bool) (*Engine, *fakeAdapter, *fakeAdapter, *position.Ledger) {
	t.Helper()
	a := newFakeAdapter(types.VenueA)
	b := newFakeAdapter(types.VenueB)
	limiter := ratelimit.New()
	if err := limiter.Register(types.VenueA, ratelimit.ScopeOrder, 100, 100); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Register(types.VenueB, ratelimit.ScopeOrder, 100, 100); err != nil {
		t.Fatal(err)
	}
	ledger := position.New()
	eng := New(map[types.Venue]venue.Adapter{types.VenueA: a, types.VenueB: b}, limiter, ledger, liveEnabled, nil)
	return eng, a, b, ledger
}

func TestExecuteSignalHoldIsNoOp(t *testing.T) {
	t.Parallel()
	eng, a, _, _ := newTestEngine(t, true)
	signal := types.SpreadSignal{Action: types.ActionHold, Reason: "insufficient edge"}
	report := eng.ExecuteSignal(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"}, signal, types.BBO{}, types.BBO{}, true, dec("0.1"))
	if report.AttemptedOrders != 0 {
		t.Errorf("expected 0 attempted orders for HOLD, got %d", report.AttemptedOrders)
	}
	if len(a.requests) != 0 {
		t.Errorf("expected no adapter calls for HOLD")
	}
}

func TestExecuteSignalBlockedWhenLiveDisabled(t *testing.T) {
	t.Parallel()
	eng, a, b, _ := newTestEngine(t, false)
	signal := types.SpreadSignal{Action: types.ActionOpen, Direction: types.LongASHortB, Batches: []decimal.Decimal{dec("0.001")}}
	report := eng.ExecuteSignal(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"}, signal,
		types.BBO{Bid: dec("100"), Ask: dec("100.1")}, types.BBO{Bid: dec("99.9"), Ask: dec("100.2")}, true, dec("0.1"))
	if report.AttemptedOrders != 0 {
		t.Errorf("expected no attempts when live disabled, got %d", report.AttemptedOrders)
	}
	if len(a.requests) != 0 || len(b.requests) != 0 {
		t.Error("expected no adapter calls when live disabled")
	}
}

// S3 from the spec's testable-property list.
func TestOpenTwoLegBatchesFireTakerThenMakerHedge(t *testing.T) {
	t.Parallel()
	eng, a, b, ledger := newTestEngine(t, true)
	signal := types.SpreadSignal{
		Action: types.ActionOpen, Direction: types.LongASHortB,
		Batches: []decimal.Decimal{dec("0.001"), dec("0.002")},
	}
	aBBO := types.BBO{Bid: dec("100.0"), Ask: dec("100.1")}
	bBBO := types.BBO{Bid: dec("99.9"), Ask: dec("100.2")}

	report := eng.ExecuteSignal(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"}, signal, aBBO, bBBO, true, dec("0.1"))

	if report.AttemptedOrders != 4 || report.SuccessOrders != 4 {
		t.Fatalf("expected 4 attempted/success orders, got attempted=%d success=%d", report.AttemptedOrders, report.SuccessOrders)
	}
	if len(a.requests) != 2 || len(b.requests) != 2 {
		t.Fatalf("expected 2 orders per venue, got a=%d b=%d", len(a.requests), len(b.requests))
	}
	for _, req := range a.requests {
		if req.Side != types.Buy || req.OrderType != types.OrderMarket {
			t.Errorf("expected venue_a BUY market orders, got %s %s", req.Side, req.OrderType)
		}
	}
	for i, req := range b.requests {
		if req.Side != types.Sell || req.OrderType != types.OrderLimit || !req.PostOnly {
			t.Errorf("expected venue_b post-only SELL limit orders, got %s %s postOnly=%v", req.Side, req.OrderType, req.PostOnly)
		}
		if !req.Price.Equal(dec("100.2")) {
			t.Errorf("expected hedge priced at venue_b ask=100.2, got %s", req.Price)
		}
		if !req.Quantity.Equal(a.requests[i].Quantity) {
			t.Errorf("expected hedge quantity to match taker fill, got hedge=%s taker=%s", req.Quantity, a.requests[i].Quantity)
		}
	}

	st := ledger.Snapshot("BTC-PERP")
	if !st.LegA.Equal(dec("0.003")) {
		t.Errorf("expected leg_A=0.003, got %s", st.LegA)
	}
	if !st.LegB.Equal(dec("-0.003")) {
		t.Errorf("expected leg_B=-0.003, got %s", st.LegB)
	}
}

func TestExecuteSignalOpenDeniedByRiskGate(t *testing.T) {
	t.Parallel()
	eng, a, _, _ := newTestEngine(t, true)
	signal := types.SpreadSignal{Action: types.ActionOpen, Direction: types.LongASHortB, Batches: []decimal.Decimal{dec("0.001")}}
	report := eng.ExecuteSignal(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"}, signal, types.BBO{}, types.BBO{}, false, dec("0.1"))
	if report.FailedOrders != 1 || len(a.requests) != 0 {
		t.Errorf("expected denial with no adapter calls, got failed=%d calls=%d", report.FailedOrders, len(a.requests))
	}
}

func TestFlattenZeroesBothLegs(t *testing.T) {
	t.Parallel()
	eng, a, b, ledger := newTestEngine(t, true)
	ledger.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.01")})
	ledger.ApplyFill(types.TradeFill{Venue: types.VenueB, Symbol: "BTC-PERP", Side: types.Sell, Quantity: dec("0.01")})

	report := eng.Flatten(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"})
	if report.AttemptedOrders != 2 || report.SuccessOrders != 2 {
		t.Fatalf("expected 2 flatten orders, got attempted=%d success=%d", report.AttemptedOrders, report.SuccessOrders)
	}
	if len(a.requests) != 1 || a.requests[0].Side != types.Sell || !a.requests[0].ReduceOnly {
		t.Errorf("expected one reduce-only SELL on venue_a")
	}
	if len(b.requests) != 1 || b.requests[0].Side != types.Buy || !b.requests[0].ReduceOnly {
		t.Errorf("expected one reduce-only BUY on venue_b")
	}

	st := ledger.Snapshot("BTC-PERP")
	if !st.NetExposure().IsZero() {
		t.Errorf("expected flat ledger after flatten, got net=%s", st.NetExposure())
	}
}

func TestRebalanceExecutesSingleOrder(t *testing.T) {
	t.Parallel()
	eng, a, _, ledger := newTestEngine(t, true)
	ledger.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.02")})

	order := types.RebalanceOrder{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Sell, Quantity: dec("0.01")}
	report := eng.Rebalance(context.Background(), types.SymbolConfig{Symbol: "BTC-PERP"}, order)
	if report.SuccessOrders != 1 {
		t.Fatalf("expected 1 successful rebalance order, got %d", report.SuccessOrders)
	}
	if len(a.requests) != 1 || !a.requests[0].ReduceOnly {
		t.Errorf("expected one reduce-only order on venue_a")
	}
}
