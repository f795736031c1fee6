// Package market implements the universe scanner (C10): it periodically
// enumerates every base asset listed on both venues, ranks them by a fee-
// and leverage-adjusted tradable edge, and persists spread-history samples
// that back the z-score used to judge how rich the current edge is relative
// to its own recent past.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

const (
	maxConcurrentPairFetches = 6
	speedRingCapacity        = 30
	historyTrimEvery         = 20
)

const (
	skipVenueAOrderbookError = "venue_a_orderbook_error"
	skipVenueBOrderbookError = "venue_b_orderbook_error"
	skipLeverageUnavailable  = "leverage_unavailable"
	skipLeverageBelowTarget  = "effective_leverage_below_target"
	skipEdgeNotPositive      = "edge_not_positive"
	skipNetSpreadNotPositive = "net_spread_not_positive"
)

// ScanResult is one completed scan, delivered on the Results() channel.
type ScanResult struct {
	Rows      []types.ScanRow
	ScannedAt time.Time
}

// Scanner periodically ranks cross-venue pairs by tradable edge. Refresh is
// serialized by refreshMu, held across the whole scan; the cache-valid check
// is re-performed after acquiring it so concurrent callers never trigger a
// duplicate refresh.
type Scanner struct {
	a, b    VenueSource
	history HistoryStore
	cfg     types.ScannerConfig
	logger  *slog.Logger

	refreshMu        sync.Mutex
	mu               sync.Mutex
	rows             []types.ScanRow
	updatedAt        string
	lastRefreshMono  time.Time
	lastError        string
	sampleCounts     map[string]int
	speedRings       map[string]*speedRing
	appendsSinceTrim map[string]int

	resultCh chan ScanResult
}

// NewScanner builds a scanner over two venue sources and a history store.
func NewScanner(a, b VenueSource, history HistoryStore, cfg types.ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.ScanIntervalSec < 60 {
		cfg.ScanIntervalSec = 60
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 5000
	}
	if cfg.BackfillLimit <= 0 || cfg.BackfillLimit > 720 {
		cfg.BackfillLimit = 720
	}
	return &Scanner{
		a: a, b: b, history: history, cfg: cfg,
		logger:           logger.With("component", "scanner"),
		sampleCounts:     make(map[string]int),
		speedRings:       make(map[string]*speedRing),
		appendsSinceTrim: make(map[string]int),
		resultCh:         make(chan ScanResult, 1),
	}
}

// Results returns the channel the engine/dashboard reads ranked scans from.
func (s *Scanner) Results() <-chan ScanResult { return s.resultCh }

// Run polls on scan_interval_sec until ctx is cancelled, scanning immediately
// on startup.
func (s *Scanner) Run(ctx context.Context) {
	s.refresh(ctx, true)

	ticker := time.NewTicker(time.Duration(s.cfg.ScanIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, true)
		}
	}
}

// GetTopSpreads returns the top `limit` rows by |z-score| descending,
// refreshing the cache first if it is stale or forceRefresh is set.
func (s *Scanner) GetTopSpreads(ctx context.Context, limit int, forceRefresh bool) types.ScanResultPayload {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	s.ensureCache(ctx, forceRefresh)

	s.mu.Lock()
	rows := make([]types.ScanRow, len(s.rows))
	copy(rows, s.rows)
	updatedAt, lastErr := s.updatedAt, s.lastError
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ZScore.Abs().GreaterThan(rows[j].ZScore.Abs())
	})

	total := len(rows)
	executable := 0
	for _, r := range rows {
		if r.SkipReason == "" {
			executable++
		}
	}
	if limit < len(rows) {
		rows = rows[:limit]
	}

	return types.ScanResultPayload{
		UpdatedAt: updatedAt, ScanIntervalSec: s.cfg.ScanIntervalSec, Limit: limit,
		TotalSymbols: total, ExecutableSymbols: executable, LastError: lastErr, Rows: rows,
	}
}

// WarmupStatus reports sample-count progress per tracked symbol.
func (s *Scanner) WarmupStatus() types.WarmupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.sampleCounts))
	ready, pending := 0, 0
	for sym, n := range s.sampleCounts {
		counts[sym] = n
		if n >= s.cfg.MinSamples {
			ready++
		} else {
			pending++
		}
	}
	return types.WarmupStatus{
		Done: pending == 0 && len(counts) > 0, RequiredSamples: s.cfg.MinSamples,
		SymbolsTotal: len(counts), SymbolsReady: ready, SymbolsPending: pending,
		SampleCounts: counts, LastError: s.lastError,
	}
}

// WarmupUntilReady forces refreshes on poll until every tracked symbol has
// min_samples or timeout elapses.
func (s *Scanner) WarmupUntilReady(ctx context.Context, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		s.refresh(ctx, true)
		if status := s.WarmupStatus(); status.Done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("warmup deadline exceeded after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (s *Scanner) ensureCache(ctx context.Context, forceRefresh bool) {
	s.mu.Lock()
	fresh := !forceRefresh && len(s.rows) > 0 && time.Since(s.lastRefreshMono) < time.Duration(s.cfg.ScanIntervalSec)*time.Second
	s.mu.Unlock()
	if fresh {
		return
	}
	s.refresh(ctx, forceRefresh)
}

func (s *Scanner) refresh(ctx context.Context, forceRefresh bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if !forceRefresh && len(s.rows) > 0 && time.Since(s.lastRefreshMono) < time.Duration(s.cfg.ScanIntervalSec)*time.Second {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	rows, err := s.scanAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRefreshMono = time.Now()
	if err != nil {
		s.lastError = err.Error()
		s.logger.Error("scan failed", "error", err)
		return
	}
	s.rows = rows
	s.updatedAt = types.UtcISO(time.Now())
	s.lastError = ""

	result := ScanResult{Rows: rows, ScannedAt: s.lastRefreshMono}
	select {
	case s.resultCh <- result:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- result
	}
}

func (s *Scanner) scanAll(ctx context.Context) ([]types.ScanRow, error) {
	aInstruments, err := s.a.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venue_a instruments: %w", err)
	}
	bInstruments, err := s.b.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venue_b instruments: %w", err)
	}

	aByBase := bestByBase(aInstruments, venueAQuotePriority)
	bByBase := bestByBase(bInstruments, venueBQuotePriority)

	var shared []string
	for base := range aByBase {
		if _, ok := bByBase[base]; ok {
			shared = append(shared, base)
		}
	}
	sort.Strings(shared)

	sem := make(chan struct{}, maxConcurrentPairFetches)
	var wg sync.WaitGroup
	rows := make([]types.ScanRow, len(shared))
	for i, base := range shared {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, base string) {
			defer wg.Done()
			defer func() { <-sem }()
			rows[i] = s.fetchPairRow(ctx, base, aByBase[base], bByBase[base])
		}(i, base)
	}
	wg.Wait()

	return rows, nil
}

func (s *Scanner) fetchPairRow(ctx context.Context, base string, a, b types.Instrument) types.ScanRow {
	symbol := base + "-PERP"
	now := time.Now()
	row := types.ScanRow{
		Symbol: symbol, BaseAsset: base, AMarket: a.Market, BMarket: b.Market,
		ALeverage: a.MaxLeverage, BLeverage: b.MaxLeverage,
		UpdatedAt: types.UtcISO(now),
	}

	if a.MaxLeverage.IsZero() || b.MaxLeverage.IsZero() {
		row.SkipReason = skipLeverageUnavailable
		return row
	}
	aLev := clampLeverage(a.MaxLeverage)
	bLev := clampLeverage(b.MaxLeverage)
	effLev := decimal.Min(aLev, bLev)
	row.ALeverage, row.BLeverage, row.EffectiveLev = aLev, bLev, effLev
	row.ALeverageSource = leverageSource(a.MaxLeverage)
	row.BLeverageSource = leverageSource(b.MaxLeverage)
	if effLev.LessThan(s.cfg.MinEffectiveLev) {
		row.SkipReason = skipLeverageBelowTarget
		return row
	}

	aBid, aAsk, err := s.a.FetchDepth(ctx, a.Market, 5)
	if err != nil {
		row.SkipReason = skipVenueAOrderbookError
		return row
	}
	bBid, bAsk, err := s.b.FetchDepth(ctx, b.Market, 10)
	if err != nil {
		row.SkipReason = skipVenueBOrderbookError
		return row
	}
	if !validQuotes(aBid, aAsk) || !validQuotes(bBid, bAsk) {
		row.SkipReason = skipVenueAOrderbookError
		return row
	}

	aMid := aBid.Add(aAsk).Div(decimal.NewFromInt(2))
	bMid := bBid.Add(bAsk).Div(decimal.NewFromInt(2))
	refMid := aMid.Add(bMid).Div(decimal.NewFromInt(2))
	row.ABid, row.AAsk, row.AMid = aBid, aAsk, aMid
	row.BBid, row.BAsk, row.BMid = bBid, bAsk, bMid

	edgeAtoB := toBps(bBid.Sub(aAsk), refMid)
	edgeBtoA := toBps(aBid.Sub(bAsk), refMid)
	if edgeAtoB.GreaterThanOrEqual(edgeBtoA) {
		row.SignedEdgeBps, row.Direction = edgeAtoB, "a_to_b"
	} else {
		row.SignedEdgeBps, row.Direction = edgeBtoA.Neg(), "b_to_a"
	}

	edgeSellABuyB := aBid.Sub(bBid)
	edgeBuyASellB := bAsk.Sub(aAsk)
	tradableEdge := decimal.Max(edgeSellABuyB, edgeBuyASellB)
	if !tradableEdge.IsPositive() {
		row.SkipReason = skipEdgeNotPositive
		return row
	}
	row.TradableEdgePrice = tradableEdge
	row.TradableEdgeBps = toBps(tradableEdge, refMid)

	totalFeeRate := s.cfg.FeeATakerBps.Add(s.cfg.FeeBMakerBps)
	if totalFeeRate.IsZero() {
		totalFeeRate = decimal.NewFromFloat(4) // 2bps + 2bps official fallback
	}
	grossNominal := tradableEdge.Mul(effLev)
	feeCost := refMid.Mul(effLev).Mul(totalFeeRate).Div(decimal.NewFromInt(10000))
	netNominal := grossNominal.Sub(feeCost)
	row.GrossNominalSpread, row.FeeCost, row.NetNominalSpread = grossNominal, feeCost, netNominal
	if !netNominal.IsPositive() {
		row.SkipReason = skipNetSpreadNotPositive
		return row
	}

	s.recordHistory(symbol, row.SignedEdgeBps, row.TradableEdgeBps, "scanner")
	z, status, n := s.computeZScore(symbol)
	row.ZScore, row.ZScoreStatus, row.SampleCount = z, status, n
	if n < s.cfg.MinSamples {
		s.backfillFromKlines(ctx, symbol, a.Market, b.Market)
	}

	speed, vol := s.recordSpeed(symbol, tradableEdge, now)
	row.SpreadSpeed, row.SpreadVolatility = speed, vol

	return row
}

func (s *Scanner) recordHistory(symbol string, signedEdgeBps, tradableEdgeBps decimal.Decimal, source string) {
	if s.history == nil {
		s.mu.Lock()
		s.sampleCounts[symbol]++
		s.mu.Unlock()
		return
	}
	inserted, err := s.history.AppendSpreadHistory(types.SpreadHistoryRow{
		Ts: types.UtcISO(time.Now()), Symbol: symbol,
		SignedEdgeBps: signedEdgeBps.String(), TradableEdgePct: tradableEdgeBps.Div(decimal.NewFromInt(100)).String(),
		Source: source,
	})
	if err != nil || !inserted {
		return
	}
	s.mu.Lock()
	s.sampleCounts[symbol]++
	s.appendsSinceTrim[symbol]++
	trim := s.appendsSinceTrim[symbol] >= historyTrimEvery
	if trim {
		s.appendsSinceTrim[symbol] = 0
	}
	s.mu.Unlock()
	if trim {
		_ = s.history.TrimSpreadHistory(symbol, s.cfg.HistoryRetention)
	}
}

func (s *Scanner) computeZScore(symbol string) (decimal.Decimal, string, int) {
	if s.history == nil {
		return decimal.Zero, "insufficient_samples", 0
	}
	rows, err := s.history.RecentSpreadHistory(symbol, s.cfg.HistoryRetention)
	if err != nil || len(rows) < s.cfg.MinSamples {
		return decimal.Zero, "insufficient_samples", len(rows)
	}

	samples := make([]decimal.Decimal, 0, len(rows))
	for _, r := range rows {
		if v, err := decimal.NewFromString(r.SignedEdgeBps); err == nil {
			samples = append(samples, v)
		}
	}
	if len(samples) < s.cfg.MinSamples {
		return decimal.Zero, "insufficient_samples", len(samples)
	}

	ma := meanOf(samples)
	std := stdevOf(samples, ma)
	current := samples[len(samples)-1]
	if std.IsZero() {
		return decimal.Zero, "ready", len(samples)
	}
	return current.Sub(ma).Div(std), "ready", len(samples)
}

func (s *Scanner) backfillFromKlines(ctx context.Context, symbol, aMarket, bMarket string) {
	aKlines, err := s.a.FetchKlines(ctx, aMarket, 1, s.cfg.BackfillLimit)
	if err != nil {
		return
	}
	bKlines, err := s.b.FetchKlines(ctx, bMarket, 1, s.cfg.BackfillLimit)
	if err != nil {
		return
	}

	byMinute := make(map[int64]decimal.Decimal, len(bKlines))
	for _, k := range bKlines {
		byMinute[k.TimestampMs/60000] = k.Close
	}
	for _, ak := range aKlines {
		bucket := ak.TimestampMs / 60000
		bClose, ok := byMinute[bucket]
		if !ok || ak.Close.IsZero() {
			continue
		}
		refMid := ak.Close.Add(bClose).Div(decimal.NewFromInt(2))
		if refMid.IsZero() {
			continue
		}
		signedEdgeBps := toBps(bClose.Sub(ak.Close), refMid)
		s.recordHistoryAt(symbol, signedEdgeBps, ak.TimestampMs, "ohlcv_backfill")
	}
}

func (s *Scanner) recordHistoryAt(symbol string, signedEdgeBps decimal.Decimal, tsMs int64, source string) {
	if s.history == nil {
		return
	}
	inserted, err := s.history.AppendSpreadHistory(types.SpreadHistoryRow{
		Ts: types.UtcISO(time.UnixMilli(tsMs)), Symbol: symbol,
		SignedEdgeBps: signedEdgeBps.String(), TradableEdgePct: "0", Source: source,
	})
	if err == nil && inserted {
		s.mu.Lock()
		s.sampleCounts[symbol]++
		s.mu.Unlock()
	}
}

func (s *Scanner) recordSpeed(symbol string, tradableEdge decimal.Decimal, now time.Time) (decimal.Decimal, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.speedRings[symbol]
	if !ok {
		ring = newSpeedRing(speedRingCapacity)
		s.speedRings[symbol] = ring
	}
	ring.push(now, tradableEdge)
	speed, vol, _ := ring.speedAndVolatility()
	return speed, vol
}

func bestByBase(instruments []types.Instrument, priority func(quote string) int) map[string]types.Instrument {
	best := make(map[string]types.Instrument)
	bestPriority := make(map[string]int)
	for _, inst := range instruments {
		p := priority(strings.ToUpper(inst.QuoteAsset))
		if p <= 0 {
			continue
		}
		if cur, ok := bestPriority[inst.BaseAsset]; !ok || p > cur {
			best[inst.BaseAsset] = inst
			bestPriority[inst.BaseAsset] = p
		}
	}
	return best
}

func venueAQuotePriority(quote string) int {
	switch quote {
	case "USDC":
		return 2
	case "USD":
		return 1
	default:
		return 0
	}
}

func venueBQuotePriority(quote string) int {
	switch quote {
	case "USDT":
		return 3
	case "USDC":
		return 2
	case "USD":
		return 1
	default:
		return 0
	}
}

func clampLeverage(lev decimal.Decimal) decimal.Decimal {
	if lev.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if lev.GreaterThan(decimal.NewFromInt(200)) {
		return decimal.NewFromInt(200)
	}
	return lev
}

func leverageSource(lev decimal.Decimal) string {
	if lev.IsPositive() {
		return "market"
	}
	return "fallback"
}

func validQuotes(bid, ask decimal.Decimal) bool {
	return bid.IsPositive() && ask.IsPositive() && bid.LessThan(ask)
}

func toBps(x, baseMid decimal.Decimal) decimal.Decimal {
	if baseMid.IsZero() {
		return decimal.Zero
	}
	return x.Div(baseMid).Mul(decimal.NewFromInt(10000))
}

func meanOf(samples []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range samples {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}

func stdevOf(samples []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	sumSq := decimal.Zero
	for _, v := range samples {
		d := v.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(samples))))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}
