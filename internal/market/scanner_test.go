package market

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSource struct {
	instruments []types.Instrument
	bid, ask    decimal.Decimal
	depthErr    error
	klines      []types.Kline
}

func (f *fakeSource) ListInstruments(ctx context.Context) ([]types.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeSource) FetchDepth(ctx context.Context, market string, depth int) (decimal.Decimal, decimal.Decimal, error) {
	if f.depthErr != nil {
		return decimal.Zero, decimal.Zero, f.depthErr
	}
	return f.bid, f.ask, nil
}

func (f *fakeSource) FetchKlines(ctx context.Context, market string, intervalMin, limit int) ([]types.Kline, error) {
	return f.klines, nil
}

type memHistory struct {
	mu   sync.Mutex
	rows map[string][]types.SpreadHistoryRow
}

func newMemHistory() *memHistory {
	return &memHistory{rows: make(map[string][]types.SpreadHistoryRow)}
}

func (m *memHistory) AppendSpreadHistory(row types.SpreadHistoryRow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.Symbol] = append(m.rows[row.Symbol], row)
	return true, nil
}

func (m *memHistory) RecentSpreadHistory(symbol string, n int) ([]types.SpreadHistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[symbol]
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	out := make([]types.SpreadHistoryRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *memHistory) TrimSpreadHistory(symbol string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[symbol]
	if len(rows) > keep {
		m.rows[symbol] = rows[len(rows)-keep:]
	}
	return nil
}

func testScannerConfig() types.ScannerConfig {
	return types.ScannerConfig{
		ScanIntervalSec: 60, DefaultLimit: 10, MinEffectiveLev: dec("50"),
		FeeATakerBps: dec("2"), FeeBMakerBps: dec("2"),
		MinSamples: 5, HistoryRetention: 100, BackfillLimit: 100,
	}
}

func btcInstruments() (types.Instrument, types.Instrument) {
	a := types.Instrument{BaseAsset: "BTC", Market: "BTC/USD:USDC", QuoteAsset: "USDC", MaxLeverage: dec("100")}
	b := types.Instrument{BaseAsset: "BTC", Market: "BTC_USDT_Perp", QuoteAsset: "USDT", MaxLeverage: dec("100")}
	return a, b
}

func TestFetchPairRowRejectsLowEffectiveLeverage(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	a.MaxLeverage = dec("20")
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("101")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("103"), ask: dec("104")}

	s := NewScanner(aSrc, bSrc, newMemHistory(), testScannerConfig(), slog.Default())
	row := s.fetchPairRow(context.Background(), "BTC", a, b)

	if row.SkipReason != skipLeverageBelowTarget {
		t.Errorf("expected leverage skip, got %q", row.SkipReason)
	}
}

func TestFetchPairRowKeepsFiftyXEffectiveLeverage(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	a.MaxLeverage = dec("50")
	b.MaxLeverage = dec("100")
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("101")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("103"), ask: dec("104")}

	s := NewScanner(aSrc, bSrc, newMemHistory(), testScannerConfig(), slog.Default())
	row := s.fetchPairRow(context.Background(), "BTC", a, b)

	if row.SkipReason != "" {
		t.Fatalf("expected no skip, got %q", row.SkipReason)
	}
	if !row.EffectiveLev.Equal(dec("50")) {
		t.Errorf("expected effective_leverage=50, got %s", row.EffectiveLev)
	}
	if row.Symbol != "BTC-PERP" {
		t.Errorf("expected symbol BTC-PERP, got %s", row.Symbol)
	}
}

func TestFetchPairRowSkipsNonPositiveEdge(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("101")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("100.2"), ask: dec("100.8")}

	s := NewScanner(aSrc, bSrc, newMemHistory(), testScannerConfig(), slog.Default())
	row := s.fetchPairRow(context.Background(), "BTC", a, b)

	if row.SkipReason != skipEdgeNotPositive {
		t.Errorf("expected edge_not_positive skip, got %q", row.SkipReason)
	}
}

func TestFetchPairRowRecordsHistoryAndZScore(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("100.1")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("103"), ask: dec("103.1")}

	history := newMemHistory()
	s := NewScanner(aSrc, bSrc, history, testScannerConfig(), slog.Default())

	var last types.ScanRow
	for i := 0; i < 6; i++ {
		last = s.fetchPairRow(context.Background(), "BTC", a, b)
	}

	if last.SampleCount < 5 {
		t.Errorf("expected at least 5 samples recorded, got %d", last.SampleCount)
	}
	if last.ZScoreStatus != "ready" {
		t.Errorf("expected zscore status ready, got %s", last.ZScoreStatus)
	}
}

func TestBestByBasePrefersHighestPriorityQuote(t *testing.T) {
	t.Parallel()
	instruments := []types.Instrument{
		{BaseAsset: "ETH", Market: "ETH/USD", QuoteAsset: "USD"},
		{BaseAsset: "ETH", Market: "ETH/USDC", QuoteAsset: "USDC"},
	}
	best := bestByBase(instruments, venueAQuotePriority)
	if best["ETH"].QuoteAsset != "USDC" {
		t.Errorf("expected USDC to win for venue_a, got %s", best["ETH"].QuoteAsset)
	}
}

func TestWarmupStatusTracksReadySymbols(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("100.1")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("103"), ask: dec("103.1")}

	cfg := testScannerConfig()
	cfg.MinSamples = 3
	s := NewScanner(aSrc, bSrc, newMemHistory(), cfg, slog.Default())
	for i := 0; i < 3; i++ {
		s.fetchPairRow(context.Background(), "BTC", a, b)
	}

	status := s.WarmupStatus()
	if !status.Done {
		t.Error("expected warmup done once min_samples reached")
	}
	if status.SampleCounts["BTC-PERP"] < 3 {
		t.Errorf("expected sample count >= 3, got %d", status.SampleCounts["BTC-PERP"])
	}
}

func TestSpeedRingReportsZeroUntilTwoSamples(t *testing.T) {
	t.Parallel()
	r := newSpeedRing(10)
	speed, vol, n := r.speedAndVolatility()
	if !speed.IsZero() || !vol.IsZero() || n != 0 {
		t.Errorf("expected zero speed/vol with no samples, got speed=%s vol=%s n=%d", speed, vol, n)
	}

	r.push(time.Now(), dec("0.10"))
	speed, vol, n = r.speedAndVolatility()
	if !speed.IsZero() || n != 1 {
		t.Errorf("expected zero speed with 1 sample, got speed=%s n=%d", speed, n)
	}

	r.push(time.Now().Add(time.Second), dec("0.30"))
	speed, _, n = r.speedAndVolatility()
	if speed.IsZero() || n != 2 {
		t.Errorf("expected nonzero speed with 2 samples, got speed=%s n=%d", speed, n)
	}
}

func TestGetTopSpreadsSortsByAbsZScore(t *testing.T) {
	t.Parallel()
	a, b := btcInstruments()
	aSrc := &fakeSource{instruments: []types.Instrument{a}, bid: dec("100"), ask: dec("100.1")}
	bSrc := &fakeSource{instruments: []types.Instrument{b}, bid: dec("103"), ask: dec("103.1")}

	s := NewScanner(aSrc, bSrc, newMemHistory(), testScannerConfig(), slog.Default())
	s.rows = []types.ScanRow{
		{Symbol: "AAA-PERP", ZScore: dec("0.4")},
		{Symbol: "BBB-PERP", ZScore: dec("-3.2")},
		{Symbol: "CCC-PERP", ZScore: dec("2.1")},
	}
	s.updatedAt = types.UtcISO(time.Now())
	s.lastRefreshMono = time.Now()

	payload := s.GetTopSpreads(context.Background(), 3, false)
	if len(payload.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(payload.Rows))
	}
	if payload.Rows[0].Symbol != "BBB-PERP" || payload.Rows[1].Symbol != "CCC-PERP" || payload.Rows[2].Symbol != "AAA-PERP" {
		t.Errorf("expected sort by |zscore| desc, got order %s,%s,%s",
			payload.Rows[0].Symbol, payload.Rows[1].Symbol, payload.Rows[2].Symbol)
	}
}
