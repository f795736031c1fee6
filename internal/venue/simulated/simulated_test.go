package simulated

import (
	"context"
	"testing"
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func TestConnectPublishesBookUpdates(t *testing.T) {
	t.Parallel()
	a := New(types.VenueA, "sim-a")

	received := make(chan types.BBO, 8)
	a.SetBookCallback(func(symbol string, bbo types.BBO) {
		received <- bbo
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Connect(ctx, []string{"BTC-PERP"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	select {
	case bbo := <-received:
		if !bbo.Valid() {
			t.Errorf("expected valid bbo, got %+v", bbo)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for simulated book update")
	}
}

func TestPlaceOrderUpdatesPosition(t *testing.T) {
	t.Parallel()
	a := New(types.VenueA, "sim-a")
	ctx := context.Background()
	if err := a.Connect(ctx, []string{"BTC-PERP"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Disconnect()

	ack, err := a.PlaceOrder(ctx, types.OrderRequest{
		Symbol: "BTC-PERP", Side: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !ack.Success || !ack.FilledQuantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected a fully filled simulated fill, got %+v", ack)
	}

	pos, err := a.FetchPosition(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("FetchPosition: %v", err)
	}
	if !pos.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected position 1 after a buy of 1, got %s", pos)
	}
}

func TestVenueBHasDifferentBiasThanVenueA(t *testing.T) {
	t.Parallel()
	a := defaultBias(types.VenueA)
	b := defaultBias(types.VenueB)
	if a.midMultiplier.Equal(b.midMultiplier) {
		t.Error("expected venue_a and venue_b to use different mid multipliers so their books never coincide")
	}
}

func TestListInstrumentsReturnsFixedUniverse(t *testing.T) {
	t.Parallel()
	a := New(types.VenueA, "sim-a")
	instruments, err := a.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(instruments) != len(simulatedUniverse) {
		t.Fatalf("expected %d instruments, got %d", len(simulatedUniverse), len(instruments))
	}
	for _, inst := range instruments {
		if inst.Market == "" || inst.BaseAsset == "" {
			t.Errorf("unexpected empty instrument fields: %+v", inst)
		}
	}
}

func TestFetchDepthReturnsBidBelowAsk(t *testing.T) {
	t.Parallel()
	a := New(types.VenueA, "sim-a")
	bid, ask, err := a.FetchDepth(context.Background(), "BTC-PERP", 5)
	if err != nil {
		t.Fatalf("FetchDepth: %v", err)
	}
	if !bid.LessThan(ask) {
		t.Errorf("expected bid < ask, got bid=%s ask=%s", bid, ask)
	}
}

func TestFetchKlinesReturnsRequestedLimit(t *testing.T) {
	t.Parallel()
	a := New(types.VenueA, "sim-a")
	klines, err := a.FetchKlines(context.Background(), "BTC-PERP", 1, 10)
	if err != nil {
		t.Fatalf("FetchKlines: %v", err)
	}
	if len(klines) != 10 {
		t.Fatalf("expected 10 klines, got %d", len(klines))
	}
	for _, k := range klines {
		if k.Close.IsZero() {
			t.Errorf("unexpected zero close price: %+v", k)
		}
	}
}
