// Package simulated is a no-network venue adapter: it generates a mean-
// reverting random-walk mid price per symbol and fills orders synchronously
// against it. Used for dry-run and backtest runs where
// runtime.simulated_market_data is true.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"arb-engine/internal/venue"
	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

var (
	half      = decimal.NewFromInt(2)
	spreadMin = decimal.NewFromFloat(0.5)
	hundred   = decimal.NewFromInt(100)
)

// bias is the per-venue offset applied to simulated mids and spreads so two
// simulated venues never quote byte-identical books — without it the
// consistency guard and edge engine would see a permanently zero spread.
type bias struct {
	midMultiplier  decimal.Decimal
	spreadBps      decimal.Decimal
	restOffsetSign decimal.Decimal
}

// Adapter is a venue.Adapter backed entirely by in-process simulated quotes.
type Adapter struct {
	venueID types.Venue
	bias    bias
	orderIDPrefix string

	mu       sync.Mutex
	mids     map[string]decimal.Decimal
	positions map[string]decimal.Decimal
	connected bool

	cb     venue.BookCallback
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rng *rand.Rand
}

// New builds a simulated adapter for venueID. Its bias comes from
// defaultBias: venue_b quotes use mid multiplier 1.00015 and a 2.2 bps
// spread, every other venue 1 and 2 bps, so the two venues never trade
// identically, mirroring the teacher's two hand-tuned simulate_bbo profiles.
func New(venueID types.Venue, orderIDPrefix string) *Adapter {
	return &Adapter{
		venueID:       venueID,
		orderIDPrefix: orderIDPrefix,
		bias: defaultBias(venueID),
		mids:      make(map[string]decimal.Decimal),
		positions: make(map[string]decimal.Decimal),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func defaultBias(venueID types.Venue) bias {
	if venueID == types.VenueB {
		return bias{
			midMultiplier:  decimal.RequireFromString("1.00015"),
			spreadBps:      decimal.RequireFromString("2.2"),
			restOffsetSign: decimal.NewFromInt(1),
		}
	}
	return bias{
		midMultiplier:  decimal.NewFromInt(1),
		spreadBps:      decimal.NewFromInt(2),
		restOffsetSign: decimal.NewFromInt(-1),
	}
}

func (a *Adapter) Name() types.Venue { return a.venueID }

// anchorMid infers a plausible base price from the symbol name so dry-run
// spreads stay in a realistic range instead of drifting arbitrarily.
func anchorMid(symbol string) decimal.Decimal {
	switch {
	case len(symbol) >= 3 && symbol[:3] == "BTC":
		return decimal.NewFromInt(50000)
	case len(symbol) >= 3 && symbol[:3] == "ETH":
		return decimal.NewFromInt(2500)
	case len(symbol) >= 3 && symbol[:3] == "SOL":
		return decimal.NewFromInt(150)
	default:
		return decimal.NewFromInt(1000)
	}
}

func (a *Adapter) Connect(ctx context.Context, symbols []string) error {
	a.mu.Lock()
	for _, sym := range symbols {
		if _, ok := a.mids[sym]; !ok {
			a.mids[sym] = anchorMid(sym).Mul(a.bias.midMultiplier)
		}
		if _, ok := a.positions[sym]; !ok {
			a.positions[sym] = decimal.Zero
		}
	}
	a.connected = true
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.pushLoop(runCtx, symbols)
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	return nil
}

func (a *Adapter) SetBookCallback(cb venue.BookCallback) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

// pushLoop emits a fresh simulated WS book every 250ms per symbol, the same
// cadence the teacher's dry-run loop uses to drive its own UI.
func (a *Adapter) pushLoop(ctx context.Context, symbols []string) {
	defer a.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range symbols {
				bbo := a.simulateBBO(sym, types.SourceWS)
				a.mu.Lock()
				cb := a.cb
				a.mu.Unlock()
				if cb != nil {
					cb(sym, bbo)
				}
			}
		}
	}
}

// simulateBBO advances symbol's mid with a small random drift plus mean
// reversion toward its anchor, then derives bid/ask from a bps spread.
func (a *Adapter) simulateBBO(symbol string, source types.QuoteSource) types.BBO {
	a.mu.Lock()
	defer a.mu.Unlock()

	anchor := anchorMid(symbol).Mul(a.bias.midMultiplier)
	mid, ok := a.mids[symbol]
	if !ok {
		mid = anchor
	}

	drift := decimal.NewFromFloat(a.rng.Float64()*0.0001 - 0.00005)
	mid = mid.Mul(decimal.NewFromInt(1).Add(drift))
	mid = mid.Add(anchor.Sub(mid).Mul(decimal.RequireFromString("0.03")))
	if mid.LessThan(decimal.NewFromInt(1)) {
		mid = decimal.NewFromInt(1)
	}
	a.mids[symbol] = mid

	spread := mid.Mul(a.bias.spreadBps).Div(hundred).Div(hundred)
	if spread.LessThan(spreadMin) {
		spread = spreadMin
	}
	bid := mid.Sub(spread.Div(half))
	ask := mid.Add(spread.Div(half))

	if source == types.SourceREST {
		bias := mid.Mul(decimal.RequireFromString("0.0002")).Mul(a.bias.restOffsetSign)
		bid = bid.Add(bias)
		ask = ask.Add(bias)
	}

	return types.BBO{Bid: bid, Ask: ask, TimestampMs: types.UtcMs(time.Now()), Source: source}
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) FetchBBO(symbol string) (types.BBO, bool) {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return types.BBO{}, false
	}
	return a.simulateBBO(symbol, types.SourceWS), true
}

func (a *Adapter) FetchRESTBBO(ctx context.Context, symbol string) (types.BBO, error) {
	return a.simulateBBO(symbol, types.SourceREST), nil
}

func (a *Adapter) FetchPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol], nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	bbo := a.simulateBBO(req.Symbol, types.SourceWS)
	price := req.Price
	if price.IsZero() {
		price = bbo.Mid()
	}

	a.mu.Lock()
	pos := a.positions[req.Symbol]
	if req.Side == types.Buy {
		pos = pos.Add(req.Quantity)
	} else {
		pos = pos.Sub(req.Quantity)
	}
	a.positions[req.Symbol] = pos
	a.mu.Unlock()

	return types.OrderAck{
		Success:           true,
		Venue:             a.venueID,
		OrderID:           fmt.Sprintf("%s-%x", a.orderIDPrefix, a.rng.Int63()),
		Side:              req.Side,
		RequestedQuantity: req.Quantity,
		FilledQuantity:    req.Quantity,
		AvgPrice:          price,
		Message:           "simulated fill",
		TimestampMs:       types.UtcMs(time.Now()),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return true, nil
}

// simulatedUniverse is the fixed instrument set a simulated adapter reports
// to the universe scanner in dry-run mode, keyed by the same symbol prefixes
// anchorMid recognizes.
var simulatedUniverse = []string{"BTC-PERP", "ETH-PERP", "SOL-PERP"}

// ListInstruments implements market.VenueSource with a small fixed universe
// so the scanner has something to rank in simulated-market-data mode; market
// name equals symbol since there is no real exchange listing to resolve.
func (a *Adapter) ListInstruments(ctx context.Context) ([]types.Instrument, error) {
	out := make([]types.Instrument, 0, len(simulatedUniverse))
	for _, sym := range simulatedUniverse {
		base := sym
		if idx := indexOfDash(sym); idx >= 0 {
			base = sym[:idx]
		}
		out = append(out, types.Instrument{
			BaseAsset: base, Market: sym, QuoteAsset: "USD",
			MaxLeverage: decimal.NewFromInt(10), LeverageSource: "fallback",
		})
	}
	return out, nil
}

func indexOfDash(s string) int {
	for i, r := range s {
		if r == '-' {
			return i
		}
	}
	return -1
}

// FetchDepth implements market.VenueSource by reusing the REST-flavored
// simulated quote as both the bid and ask depth snapshot.
func (a *Adapter) FetchDepth(ctx context.Context, market string, depth int) (decimal.Decimal, decimal.Decimal, error) {
	bbo := a.simulateBBO(market, types.SourceREST)
	return bbo.Bid, bbo.Ask, nil
}

// FetchKlines implements market.VenueSource by synthesizing limit candles
// from the simulated mid-price walk, most recent first input order.
func (a *Adapter) FetchKlines(ctx context.Context, market string, intervalMin, limit int) ([]types.Kline, error) {
	out := make([]types.Kline, 0, limit)
	now := time.Now()
	for i := 0; i < limit; i++ {
		bbo := a.simulateBBO(market, types.SourceREST)
		ts := now.Add(-time.Duration(i*intervalMin) * time.Minute)
		out = append(out, types.Kline{TimestampMs: types.UtcMs(ts), Close: bbo.Mid()})
	}
	return out, nil
}
