package position

import (
	"testing"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerApplyFillAdjustsLeg(t *testing.T) {
	t.Parallel()
	l := New()
	l.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.01")})
	l.ApplyFill(types.TradeFill{Venue: types.VenueB, Symbol: "BTC-PERP", Side: types.Sell, Quantity: dec("0.01")})

	st := l.Snapshot("BTC-PERP")
	if !st.LegA.Equal(dec("0.01")) {
		t.Errorf("leg_A = %s, want 0.01", st.LegA)
	}
	if !st.LegB.Equal(dec("-0.01")) {
		t.Errorf("leg_B = %s, want -0.01", st.LegB)
	}
	if !st.NetExposure().IsZero() {
		t.Errorf("expected net exposure 0, got %s", st.NetExposure())
	}
}

func TestLedgerCanOpen(t *testing.T) {
	t.Parallel()
	l := New()
	l.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.05")})
	if !l.CanOpen("BTC-PERP", dec("0.1")) {
		t.Error("expected CanOpen true within max_position")
	}
	if l.CanOpen("BTC-PERP", dec("0.01")) {
		t.Error("expected CanOpen false once leg_A exceeds max_position")
	}
}

func TestLedgerImbalanceAndHardBreach(t *testing.T) {
	t.Parallel()
	l := New()
	l.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.02")})

	if !l.IsImbalanced("BTC-PERP", dec("0.01")) {
		t.Error("expected imbalanced at net=0.02 tol=0.01")
	}
	if l.IsHardBreach("BTC-PERP", dec("0.05")) {
		t.Error("expected no hard breach at net=0.02 hard=0.05")
	}
	if !l.IsHardBreach("BTC-PERP", dec("0.01")) {
		t.Error("expected hard breach at net=0.02 hard=0.01")
	}
}

func TestLedgerPlanRebalanceTooLong(t *testing.T) {
	t.Parallel()
	l := New()
	l.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.03")})
	l.ApplyFill(types.TradeFill{Venue: types.VenueB, Symbol: "BTC-PERP", Side: types.Buy, Quantity: dec("0.01")})
	// net = 0.04, leg_A=0.03 is larger.

	order, ok := l.PlanRebalance("BTC-PERP", dec("0.01"))
	if !ok {
		t.Fatal("expected a rebalance order")
	}
	if order.Venue != types.VenueA || order.Side != types.Sell {
		t.Errorf("expected SELL on venue_a, got %s %s", order.Venue, order.Side)
	}
	if !order.Quantity.Equal(dec("0.01")) {
		t.Errorf("expected quantity min(|net|,base_qty)=0.01, got %s", order.Quantity)
	}
}

func TestLedgerPlanRebalanceTooShort(t *testing.T) {
	t.Parallel()
	l := New()
	l.ApplyFill(types.TradeFill{Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Sell, Quantity: dec("0.03")})
	l.ApplyFill(types.TradeFill{Venue: types.VenueB, Symbol: "BTC-PERP", Side: types.Sell, Quantity: dec("0.01")})
	// net = -0.04, leg_A=-0.03 is the smaller (more negative).

	order, ok := l.PlanRebalance("BTC-PERP", dec("0.02"))
	if !ok {
		t.Fatal("expected a rebalance order")
	}
	if order.Venue != types.VenueA || order.Side != types.Buy {
		t.Errorf("expected BUY on venue_a, got %s %s", order.Venue, order.Side)
	}
	if !order.Quantity.Equal(dec("0.02")) {
		t.Errorf("expected quantity 0.02, got %s", order.Quantity)
	}
}

func TestLedgerPlanRebalanceNoOpWhenFlat(t *testing.T) {
	t.Parallel()
	l := New()
	_, ok := l.PlanRebalance("BTC-PERP", dec("0.01"))
	if ok {
		t.Error("expected no rebalance order when net exposure is zero")
	}
}
