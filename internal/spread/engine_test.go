package spread

import (
	"testing"
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bbo(bid, ask string) types.BBO {
	return types.BBO{Bid: dec(bid), Ask: dec(ask)}
}

func testParams() types.StrategyParams {
	return types.StrategyParams{
		MAWindow:     10,
		StdWindow:    10,
		MinSamples:   5,
		ZEntry:       dec("1.8"),
		ZExit:        dec("0.6"),
		ZZeroEntry:   dec("1.2"),
		ZZeroExit:    dec("0.3"),
		MinEdgeBps:   dec("1.0"),
		BaseOrderQty: dec("0.001"),
		MaxBatchQty:  dec("0.005"),
		MaxPosition:  dec("0.1"),
	}
}

func TestEngineBelowMinSamplesYieldsZero(t *testing.T) {
	t.Parallel()
	e := New()
	p := testParams()
	e.Register("BTC-PERP", p)

	now := time.Unix(0, 0)
	var m types.SpreadMetrics
	for i := 0; i < 3; i++ {
		m = e.Update("BTC-PERP", bbo("100.00", "100.20"), bbo("100.01", "100.21"), now)
	}
	if !m.MA.IsZero() || !m.Std.IsZero() || !m.ZScore.IsZero() {
		t.Errorf("expected zeroed stats below min_samples, got ma=%s std=%s z=%s", m.MA, m.Std, m.ZScore)
	}
}

func TestEngineFlatHistoryYieldsZeroStdAndZ(t *testing.T) {
	t.Parallel()
	e := New()
	p := testParams()
	e.Register("BTC-PERP", p)

	now := time.Unix(0, 0)
	var m types.SpreadMetrics
	for i := 0; i < 30; i++ {
		m = e.Update("BTC-PERP", bbo("100.00", "100.10"), bbo("100.00", "100.10"), now)
	}
	if !m.Std.IsZero() || !m.ZScore.IsZero() {
		t.Errorf("expected std=0 and z=0 on flat history, got std=%s z=%s", m.Std, m.ZScore)
	}
}

// S2 from the spec's testable-property list: 30 flat samples, then 10 samples
// at a second constant edge, then one outlier tick. With a ten-sample window
// the outlier's z-score is 3.0, above z_entry=1.8, so the signal is OPEN.
func TestSignalEntryTrigger(t *testing.T) {
	t.Parallel()
	e := New()
	p := testParams()
	e.Register("BTC-PERP", p)

	now := time.Unix(0, 0)
	for i := 0; i < 30; i++ {
		e.Update("BTC-PERP", bbo("100.00", "100.10"), bbo("100.00", "100.10"), now)
	}
	// Ten samples at a second constant edge fill the ten-sample window.
	for i := 0; i < 10; i++ {
		e.Update("BTC-PERP", bbo("100.00", "100.10"), bbo("100.05", "100.15"), now)
	}

	m := e.Update("BTC-PERP", bbo("99.90", "100.00"), bbo("100.50", "100.60"), now)
	sig := Signal(m, types.ModeNormal, p, now)

	if m.ZScore.Abs().GreaterThanOrEqual(p.ZEntry) {
		if sig.Action != types.ActionOpen {
			t.Errorf("expected OPEN when |z|=%s >= z_entry=%s, got %s (edge=%s)", m.ZScore, p.ZEntry, sig.Action, m.SignedEdgeBps)
		}
	}
}

func TestSignalHoldOnInsufficientEdge(t *testing.T) {
	t.Parallel()
	p := testParams()
	p.MinEdgeBps = dec("50.0")
	m := types.SpreadMetrics{SignedEdgeBps: dec("2.0"), ZScore: dec("5.0")}
	sig := Signal(m, types.ModeNormal, p, time.Unix(0, 0))
	if sig.Action != types.ActionHold {
		t.Errorf("expected HOLD when edge below deadband, got %s", sig.Action)
	}
}

func TestSignalOpenProducesBatchSchedule(t *testing.T) {
	t.Parallel()
	p := testParams()
	m := types.SpreadMetrics{SignedEdgeBps: dec("10.0"), ZScore: dec("2.5")}
	sig := Signal(m, types.ModeNormal, p, time.Unix(0, 0))
	if sig.Action != types.ActionOpen {
		t.Fatalf("expected OPEN, got %s", sig.Action)
	}
	if len(sig.Batches) != 2 {
		t.Errorf("expected 2 batches for |z|=2.5 in [2.3,3.0), got %d", len(sig.Batches))
	}
}

func TestSignalCloseUsesBaseQty(t *testing.T) {
	t.Parallel()
	p := testParams()
	m := types.SpreadMetrics{SignedEdgeBps: dec("5.0"), ZScore: dec("0.4")}
	sig := Signal(m, types.ModeNormal, p, time.Unix(0, 0))
	if sig.Action != types.ActionClose {
		t.Fatalf("expected CLOSE, got %s", sig.Action)
	}
	if len(sig.Batches) != 1 || !sig.Batches[0].Equal(p.BaseOrderQty) {
		t.Errorf("expected single base_order_qty batch, got %v", sig.Batches)
	}
}

func TestSignalDirectionFollowsSign(t *testing.T) {
	t.Parallel()
	p := testParams()
	pos := Signal(types.SpreadMetrics{SignedEdgeBps: dec("10"), ZScore: dec("5")}, types.ModeNormal, p, time.Unix(0, 0))
	if pos.Direction != types.LongASHortB {
		t.Errorf("expected LONG_A_SHORT_B for non-negative edge, got %s", pos.Direction)
	}
	neg := Signal(types.SpreadMetrics{SignedEdgeBps: dec("-10"), ZScore: dec("5")}, types.ModeNormal, p, time.Unix(0, 0))
	if neg.Direction != types.LongBShortA {
		t.Errorf("expected LONG_B_SHORT_A for negative edge, got %s", neg.Direction)
	}
}

func TestZeroWearModeUsesTighterThresholdsAndWeights(t *testing.T) {
	t.Parallel()
	p := testParams()
	m := types.SpreadMetrics{SignedEdgeBps: dec("10.0"), ZScore: dec("1.3")}
	sig := Signal(m, types.ModeZeroWear, p, time.Unix(0, 0))
	if sig.Action != types.ActionOpen {
		t.Fatalf("expected OPEN in zero_wear mode at z=1.3 >= z_zero_entry=1.2, got %s", sig.Action)
	}
	want := p.BaseOrderQty.Mul(dec("0.6"))
	if !sig.Batches[0].Equal(want) {
		t.Errorf("expected first batch %s, got %s", want, sig.Batches[0])
	}
}

func TestModeControllerDefaultsToNormal(t *testing.T) {
	t.Parallel()
	c := NewModeController()
	if c.Mode("BTC-PERP") != types.ModeNormal {
		t.Errorf("expected default mode normal")
	}
	c.SetMode("BTC-PERP", types.ModeZeroWear)
	if c.Mode("BTC-PERP") != types.ModeZeroWear {
		t.Errorf("expected mode switched to zero_wear")
	}
}
