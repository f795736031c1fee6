// Package rest is the live venue adapter: a resty REST client for
// instrument discovery, depth, klines, positions, and order submission, plus
// a gorilla/websocket book feed. It implements both venue.Adapter (trading)
// and market.VenueSource (scanner discovery) against a single generic perp
// venue's HTTP surface, configured per venue via Config.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arb-engine/internal/venue"
	"arb-engine/pkg/types"
)

// Config wires one venue's REST/WS endpoints, credentials, and symbol-to-
// market mapping. DryRun is stored with the rest of the config, but no
// Adapter method reads it: PlaceOrder and CancelOrder always call the venue.
type Config struct {
	VenueID    types.Venue
	BaseURL    string
	WSURL      string
	APIKey     string
	APISecret  string
	Passphrase string
	// Markets maps a symbol (e.g. "BTC-PERP") to this venue's market/
	// instrument identifier (e.g. "BTC-USD-PERP").
	Markets map[string]string
	DryRun  bool
}

func (c Config) market(symbol string) string {
	if m, ok := c.Markets[symbol]; ok {
		return m
	}
	return symbol
}

// Adapter is a venue.Adapter and market.VenueSource backed by a real venue's
// REST API and WS book feed.
type Adapter struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger

	ws *wsFeed

	mu   sync.RWMutex
	book map[string]types.BBO
	cb   venue.BookCallback
}

// New builds a REST adapter for cfg.VenueID. Connect must be called before
// FetchBBO returns anything meaningful.
func New(cfg Config, logger *slog.Logger) *Adapter {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Adapter{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "rest_adapter", "venue", cfg.VenueID),
		book:   make(map[string]types.BBO),
	}
}

func (a *Adapter) Name() types.Venue { return a.cfg.VenueID }

func (a *Adapter) signedHeaders(method, path, body string) (map[string]string, error) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	sig, err := buildHMAC(a.cfg.APISecret, timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"X-API-KEY":    a.cfg.APIKey,
		"X-SIGNATURE":  sig,
		"X-TIMESTAMP":  timestamp,
		"X-PASSPHRASE": a.cfg.Passphrase,
	}, nil
}

// Connect starts the WS book feed and subscribes to symbols' venue markets.
func (a *Adapter) Connect(ctx context.Context, symbols []string) error {
	markets := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		m := a.cfg.market(sym)
		markets = append(markets, m)
		bySymbol[m] = sym
	}

	a.ws = newWSFeed(a.cfg.WSURL, bySymbol, a.logger)
	go func() {
		if err := a.ws.run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("ws feed exited", "err", err)
		}
	}()
	go a.pumpBookEvents(ctx)

	return a.ws.subscribe(markets)
}

func (a *Adapter) pumpBookEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.ws.bookCh:
			if !ok {
				return
			}
			bbo := types.BBO{Bid: evt.bid, Ask: evt.ask, TimestampMs: types.UtcMs(time.Now()), Source: types.SourceWS}
			a.mu.Lock()
			a.book[evt.symbol] = bbo
			cb := a.cb
			a.mu.Unlock()
			if cb != nil {
				cb(evt.symbol, bbo)
			}
		}
	}
}

func (a *Adapter) Disconnect() error {
	if a.ws != nil {
		return a.ws.close()
	}
	return nil
}

func (a *Adapter) SetBookCallback(cb venue.BookCallback) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	resp, err := a.http.R().SetContext(ctx).Get("/time")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (a *Adapter) FetchBBO(symbol string) (types.BBO, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bbo, ok := a.book[symbol]
	return bbo, ok
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (a *Adapter) fetchDepth(ctx context.Context, market string, depth int) (decimal.Decimal, decimal.Decimal, error) {
	var result depthResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"market": market, "depth": fmt.Sprintf("%d", depth)}).
		SetResult(&result).
		Get("/orderbook")
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch depth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch depth: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Bids) == 0 || len(result.Asks) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch depth: empty book for %s", market)
	}
	bid, err := decimal.NewFromString(result.Bids[0][0])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(result.Asks[0][0])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse ask: %w", err)
	}
	return bid, ask, nil
}

func (a *Adapter) FetchRESTBBO(ctx context.Context, symbol string) (types.BBO, error) {
	bid, ask, err := a.fetchDepth(ctx, a.cfg.market(symbol), 5)
	if err != nil {
		return types.BBO{}, err
	}
	return types.BBO{Bid: bid, Ask: ask, TimestampMs: types.UtcMs(time.Now()), Source: types.SourceREST}, nil
}

// FetchDepth implements market.VenueSource.
func (a *Adapter) FetchDepth(ctx context.Context, market string, depth int) (decimal.Decimal, decimal.Decimal, error) {
	return a.fetchDepth(ctx, market, depth)
}

type positionResponse struct {
	Size string `json:"size"`
	Side string `json:"side"`
}

func (a *Adapter) FetchPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var results []positionResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("market", a.cfg.market(symbol)).
		SetResult(&results).
		Get("/positions")
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch position: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(results) == 0 {
		return decimal.Zero, nil
	}
	qty, err := decimal.NewFromString(results[0].Size)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse position size: %w", err)
	}
	if results[0].Side == "short" {
		qty = qty.Abs().Neg()
	}
	return qty, nil
}

type orderRequestBody struct {
	Market     string `json:"market"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price,omitempty"`
	PostOnly   bool   `json:"post_only,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

type orderResponseBody struct {
	OrderID string `json:"order_id"`
	Filled  string `json:"filled"`
	Average string `json:"average"`
}

func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	body := orderRequestBody{
		Market:     a.cfg.market(req.Symbol),
		Side:       string(req.Side),
		Type:       string(req.OrderType),
		Quantity:   req.Quantity.String(),
		PostOnly:   req.PostOnly,
		ReduceOnly: req.ReduceOnly,
	}
	if !req.Price.IsZero() {
		body.Price = req.Price.String()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := a.signedHeaders(http.MethodPost, "/orders", string(payload))
	if err != nil {
		return types.OrderAck{}, err
	}

	var result orderResponseBody
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderAck{
			Venue: a.cfg.VenueID, Side: req.Side, RequestedQuantity: req.Quantity,
			Message: fmt.Sprintf("place order failed: %v", err),
		}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderAck{
			Venue: a.cfg.VenueID, Side: req.Side, RequestedQuantity: req.Quantity,
			Message: fmt.Sprintf("place order: status %d: %s", resp.StatusCode(), resp.String()),
		}, nil
	}

	filled, _ := decimal.NewFromString(result.Filled)
	avgPrice := req.Price
	if result.Average != "" {
		if parsed, err := decimal.NewFromString(result.Average); err == nil {
			avgPrice = parsed
		}
	}
	return types.OrderAck{
		Success:           true,
		Venue:             a.cfg.VenueID,
		OrderID:           result.OrderID,
		Side:              req.Side,
		RequestedQuantity: req.Quantity,
		FilledQuantity:    filled,
		AvgPrice:          avgPrice,
		Message:           "submitted",
		TimestampMs:       types.UtcMs(time.Now()),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	path := "/orders/" + orderID
	headers, err := a.signedHeaders(http.MethodDelete, path, "")
	if err != nil {
		return false, err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("market", a.cfg.market(symbol)).
		Delete(path)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return resp.StatusCode() == http.StatusOK, nil
}

type instrumentResponse struct {
	BaseAsset   string `json:"base_asset"`
	Market      string `json:"market"`
	QuoteAsset  string `json:"quote_asset"`
	MaxLeverage string `json:"max_leverage"`
}

// ListInstruments implements market.VenueSource.
func (a *Adapter) ListInstruments(ctx context.Context) ([]types.Instrument, error) {
	var results []instrumentResponse
	resp, err := a.http.R().SetContext(ctx).SetResult(&results).Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list instruments: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Instrument, 0, len(results))
	for _, r := range results {
		lev, err := decimal.NewFromString(r.MaxLeverage)
		if err != nil {
			lev = decimal.NewFromInt(1)
		}
		out = append(out, types.Instrument{
			BaseAsset: r.BaseAsset, Market: r.Market, QuoteAsset: r.QuoteAsset,
			MaxLeverage: lev, LeverageSource: "market",
		})
	}
	return out, nil
}

type klineResponse struct {
	Ts    int64  `json:"ts"`
	Close string `json:"close"`
}

// FetchKlines implements market.VenueSource.
func (a *Adapter) FetchKlines(ctx context.Context, market string, intervalMin, limit int) ([]types.Kline, error) {
	var results []klineResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market": market, "interval": fmt.Sprintf("%dm", intervalMin), "limit": fmt.Sprintf("%d", limit),
		}).
		SetResult(&results).
		Get("/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Kline, 0, len(results))
	for _, r := range results {
		close, err := decimal.NewFromString(r.Close)
		if err != nil {
			continue
		}
		out = append(out, types.Kline{TimestampMs: r.Ts, Close: close})
	}
	return out, nil
}
