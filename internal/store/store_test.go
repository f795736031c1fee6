package store

import (
	"testing"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func TestAppendAndRecentEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ev := types.EventRecord{ID: "1", Ts: "2026-01-01T00:00:00Z", Level: types.EventLevel("info"), Source: "test", Message: "hello"}
	if err := s.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	recent, err := s.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 1 || recent[0].Message != "hello" {
		t.Errorf("expected 1 event with message hello, got %+v", recent)
	}
}

func TestAppendTradeRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fill := types.TradeFill{
		Venue: types.VenueA, Symbol: "BTC-PERP", Side: types.Side("buy"),
		Quantity: decimal.RequireFromString("1.5"), Price: decimal.RequireFromString("100.25"),
		OrderID: "ord-1", TimestampMs: 1234,
	}
	if err := s.AppendTrade(fill); err != nil {
		t.Fatalf("AppendTrade: %v", err)
	}

	trades, err := s.RecentTrades(5)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 || !trades[0].Quantity.Equal(fill.Quantity) {
		t.Errorf("expected 1 trade matching quantity %s, got %+v", fill.Quantity, trades)
	}
}

func TestLatestSnapshotsKeepsMostRecentPerSymbol(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.AppendSnapshot(types.SymbolSnapshot{Symbol: "BTC-PERP", UpdatedAt: "t1", ZScore: decimal.NewFromInt(1)})
	_ = s.AppendSnapshot(types.SymbolSnapshot{Symbol: "BTC-PERP", UpdatedAt: "t2", ZScore: decimal.NewFromInt(2)})
	_ = s.AppendSnapshot(types.SymbolSnapshot{Symbol: "ETH-PERP", UpdatedAt: "t1", ZScore: decimal.NewFromInt(3)})

	latest, err := s.LatestSnapshots()
	if err != nil {
		t.Fatalf("LatestSnapshots: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(latest))
	}
	for _, snap := range latest {
		if snap.Symbol == "BTC-PERP" && !snap.ZScore.Equal(decimal.NewFromInt(2)) {
			t.Errorf("expected latest BTC-PERP snapshot to have zscore 2, got %s", snap.ZScore)
		}
	}
}

func TestAppendSpreadHistoryDedupsByKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	row := types.SpreadHistoryRow{Ts: "t1", Symbol: "BTC-PERP", SignedEdgeBps: "10", Source: "scan"}

	inserted, err := s.AppendSpreadHistory(row)
	if err != nil || !inserted {
		t.Fatalf("expected first insert to succeed, got inserted=%v err=%v", inserted, err)
	}

	inserted, err = s.AppendSpreadHistory(row)
	if err != nil {
		t.Fatalf("AppendSpreadHistory (dup): %v", err)
	}
	if inserted {
		t.Error("expected duplicate (symbol,ts,source) to be rejected")
	}

	rows, err := s.RecentSpreadHistory("BTC-PERP", 10)
	if err != nil {
		t.Fatalf("RecentSpreadHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly 1 row after dedup, got %d", len(rows))
	}
}

func TestAppendSpreadHistorySurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	row := types.SpreadHistoryRow{Ts: "t1", Symbol: "BTC-PERP", SignedEdgeBps: "10", Source: "scan"}
	if _, err := s.AppendSpreadHistory(row); err != nil {
		t.Fatalf("AppendSpreadHistory: %v", err)
	}
	s.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	inserted, err := reopened.AppendSpreadHistory(row)
	if err != nil {
		t.Fatalf("AppendSpreadHistory after reopen: %v", err)
	}
	if inserted {
		t.Error("expected dedup index to survive reopen and reject the same row")
	}
}

func TestTrimSpreadHistoryKeepsOnlyMostRecent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		row := types.SpreadHistoryRow{Ts: string(rune('a' + i)), Symbol: "BTC-PERP", SignedEdgeBps: "1", Source: "scan"}
		if _, err := s.AppendSpreadHistory(row); err != nil {
			t.Fatalf("AppendSpreadHistory: %v", err)
		}
	}

	if err := s.TrimSpreadHistory("BTC-PERP", 2); err != nil {
		t.Fatalf("TrimSpreadHistory: %v", err)
	}

	rows, err := s.RecentSpreadHistory("BTC-PERP", 10)
	if err != nil {
		t.Fatalf("RecentSpreadHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows after trim, got %d", len(rows))
	}
	if rows[len(rows)-1].Ts != string(rune('a'+4)) {
		t.Errorf("expected newest row retained, got %+v", rows)
	}
}
