// Package types defines the shared data structures used across all packages:
// venues, quotes, positions, orders, signals, and dashboard snapshots. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the two trading venues this engine arbitrages
// between.
type Venue string

const (
	VenueA Venue = "venue_a"
	VenueB Venue = "venue_b"
)

// Other returns the opposite venue.
func (v Venue) Other() Venue {
	if v == VenueA {
		return VenueB
	}
	return VenueA
}

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes the taker and maker legs of the two-leg protocol.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// QuoteSource identifies whether a BBO came from the WS feed or a REST poll.
type QuoteSource string

const (
	SourceWS   QuoteSource = "ws"
	SourceREST QuoteSource = "rest"
)

// SignalAction is the decision the spread statistics engine emits each tick.
type SignalAction string

const (
	ActionHold      SignalAction = "HOLD"
	ActionOpen      SignalAction = "OPEN"
	ActionClose     SignalAction = "CLOSE"
	ActionRebalance SignalAction = "REBALANCE"
)

// Direction names which venue is long and which is short in a two-leg
// position.
type Direction string

const (
	DirectionNone        Direction = ""
	LongASHortB          Direction = "LONG_A_SHORT_B"
	LongBShortA          Direction = "LONG_B_SHORT_A"
)

// StrategyMode selects which z-score thresholds and batch weights the
// spread engine uses.
type StrategyMode string

const (
	ModeNormal   StrategyMode = "normal"
	ModeZeroWear StrategyMode = "zero_wear"
)

// EventLevel is the severity of an EventRecord.
type EventLevel string

const (
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

// EngineStatus tracks the orchestrator's own lifecycle state.
type EngineStatus string

const (
	StatusStopped  EngineStatus = "STOPPED"
	StatusStarting EngineStatus = "STARTING"
	StatusRunning  EngineStatus = "RUNNING"
	StatusStopping EngineStatus = "STOPPING"
	StatusError    EngineStatus = "ERROR"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// BBO is a best-bid/offer snapshot from one venue.
//
// Invariant: Valid() is true iff bid>0, ask>0, and bid<ask; callers must
// treat an invalid BBO as absent.
type BBO struct {
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	TimestampMs int64
	Source      QuoteSource
}

// Valid reports whether this BBO may be used for pricing decisions.
func (b BBO) Valid() bool {
	return b.Bid.IsPositive() && b.Ask.IsPositive() && b.Bid.LessThan(b.Ask)
}

// Mid returns the midpoint price.
func (b BBO) Mid() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// SymbolConfig names the tradable pair and its per-venue market identifiers.
// Immutable after load.
type SymbolConfig struct {
	Symbol       string
	VenueAMarket string
	VenueBMarket string
	Enabled      bool
}

// StrategyParams holds the runtime-tunable knobs from spec.md §6. One
// instance exists per symbol, defaulted from global config and overridable
// via the symbol.params.update RPC.
type StrategyParams struct {
	MAWindow   int
	StdWindow  int
	MinSamples int

	ZEntry     decimal.Decimal
	ZExit      decimal.Decimal
	ZZeroEntry decimal.Decimal
	ZZeroExit  decimal.Decimal
	MinEdgeBps decimal.Decimal

	BaseOrderQty decimal.Decimal
	MaxBatchQty  decimal.Decimal
	MaxPosition  decimal.Decimal

	LoopIntervalMs    int
	PositionSyncMs    int
	RestConsistencyMs int
}

// RiskParams holds the gating thresholds from spec.md §6.
type RiskParams struct {
	StaleMs                 int64
	ConsistencyToleranceBps decimal.Decimal
	ConsistencyMaxFailures  int
	WsIdleTimeoutSec        int
	HealthFailThreshold     int
	HealthCacheMs           int64
	NetPosGuardMultiplier   decimal.Decimal
	HardNetLimitMultiplier  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Spread statistics
// ————————————————————————————————————————————————————————————————————————

// SpreadMetrics is the per-tick output of the spread statistics engine.
type SpreadMetrics struct {
	Symbol        string
	EdgeAtoBBps   decimal.Decimal
	EdgeBtoABps   decimal.Decimal
	SignedEdgeBps decimal.Decimal
	MA            decimal.Decimal
	Std           decimal.Decimal
	ZScore        decimal.Decimal
	TimestampMs   int64
}

// SpreadSignal is the trading decision derived from SpreadMetrics.
type SpreadSignal struct {
	Action       SignalAction
	Direction    Direction
	EdgeBps      decimal.Decimal
	ZScore       decimal.Decimal
	ThresholdBps decimal.Decimal
	Reason       string
	Batches      []decimal.Decimal
	TimestampMs  int64
}

// ————————————————————————————————————————————————————————————————————————
// Orders, fills, positions
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is submitted to a venue adapter.
type OrderRequest struct {
	Venue       Venue
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	OrderType   OrderType
	Price       decimal.Decimal // zero value means "no limit price" for market orders
	ReduceOnly  bool
	PostOnly    bool
	Tag         string
}

// OrderAck is the adapter's response to an OrderRequest.
type OrderAck struct {
	Success           bool
	Venue             Venue
	OrderID           string
	Side              Side
	RequestedQuantity decimal.Decimal
	FilledQuantity    decimal.Decimal
	AvgPrice          decimal.Decimal
	Message           string
	TimestampMs       int64
}

// TradeFill records one leg of an executed order for the position ledger and
// the persistence layer.
type TradeFill struct {
	Venue       Venue
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	OrderID     string
	Tag         string
	TimestampMs int64
}

// PositionState is the dual-leg position for one symbol.
type PositionState struct {
	Symbol          string
	LegA            decimal.Decimal
	LegB            decimal.Decimal
	TargetNet       decimal.Decimal
	ActiveDirection Direction
}

// NetExposure is leg_A + leg_B.
func (p PositionState) NetExposure() decimal.Decimal {
	return p.LegA.Add(p.LegB)
}

// RebalanceOrder is one leg of a rebalance plan.
type RebalanceOrder struct {
	Venue    Venue
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
}

// ExecutionReport summarizes the outcome of executing a signal, rebalance,
// or flatten.
type ExecutionReport struct {
	Signal          SpreadSignal
	AttemptedOrders int
	SuccessOrders   int
	FailedOrders    int
	Message         string
	OrderIDs        []string
	TimestampMs     int64
}

// ————————————————————————————————————————————————————————————————————————
// Risk / liveness state
// ————————————————————————————————————————————————————————————————————————

// HealthItem tracks per-venue liveness for the Health Guard.
type HealthItem struct {
	Venue       Venue
	OK          bool
	FailCount   int
	LastOKMs    int64
	LastCheckMs int64
	Message     string
}

// ConsistencyState tracks the WS/REST agreement hysteresis for one symbol.
type ConsistencyState struct {
	Symbol      string
	FailedCount int
	OK          bool
	LastReason  string
}

// WsState tracks connectivity for one venue's WS feed.
type WsState struct {
	Venue            Venue
	Connected        bool
	ReconnectCount   int
	LastMessageMs    int64
	LastDisconnectMs int64
}

// RiskState is the gating summary the orchestrator computes each tick.
type RiskState struct {
	Stale          bool
	ConsistencyOK  bool
	HealthOK       bool
	WsOK           bool
	CanOpen        bool
	Reason         string
}

// ————————————————————————————————————————————————————————————————————————
// Persistence / dashboard
// ————————————————————————————————————————————————————————————————————————

// SpreadHistoryRow is one sample in the market_spread_history table. The
// tuple (Symbol, Ts, Source) is unique.
type SpreadHistoryRow struct {
	Ts              string
	Symbol          string
	SignedEdgeBps   string
	TradableEdgePct string
	Source          string
}

// EventRecord is an audit-log entry surfaced to operators.
type EventRecord struct {
	ID      string
	Ts      string
	Level   EventLevel
	Source  string
	Message string
	Data    map[string]any
}

// SymbolSnapshot is the dashboard-facing rollup for one symbol.
type SymbolSnapshot struct {
	Symbol        string
	VenueABid     decimal.Decimal
	VenueAAsk     decimal.Decimal
	VenueAMid     decimal.Decimal
	VenueBBid     decimal.Decimal
	VenueBAsk     decimal.Decimal
	VenueBMid     decimal.Decimal
	SignedEdgeBps decimal.Decimal
	ZScore        decimal.Decimal
	NetExposure   decimal.Decimal
	TargetNet     decimal.Decimal
	LegA          decimal.Decimal
	LegB          decimal.Decimal
	Risk          RiskState
	UpdatedAt     string
}

// ToDict flattens a SymbolSnapshot to JSON-friendly primitives (money fields
// as decimal strings), matching the persisted/broadcast wire shape.
func (s SymbolSnapshot) ToDict() map[string]any {
	return map[string]any{
		"symbol":          s.Symbol,
		"venue_a_bid":     s.VenueABid.String(),
		"venue_a_ask":     s.VenueAAsk.String(),
		"venue_a_mid":     s.VenueAMid.String(),
		"venue_b_bid":     s.VenueBBid.String(),
		"venue_b_ask":     s.VenueBAsk.String(),
		"venue_b_mid":     s.VenueBMid.String(),
		"signed_edge_bps": s.SignedEdgeBps.String(),
		"zscore":          s.ZScore.String(),
		"net_exposure":    s.NetExposure.String(),
		"target_net":      s.TargetNet.String(),
		"leg_a":           s.LegA.String(),
		"leg_b":           s.LegB.String(),
		"stale":           s.Risk.Stale,
		"consistency_ok":  s.Risk.ConsistencyOK,
		"health_ok":       s.Risk.HealthOK,
		"ws_ok":           s.Risk.WsOK,
		"can_open":        s.Risk.CanOpen,
		"updated_at":      s.UpdatedAt,
	}
}

// UtcMs returns t in milliseconds since the Unix epoch.
func UtcMs(t time.Time) int64 {
	return t.UnixMilli()
}

// UtcISO returns t formatted as UTC ISO-8601.
func UtcISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket wire shapes (venue REST/WS adapter)
// ————————————————————————————————————————————————————————————————————————

// WSSubscribeMsg is a {type, symbols} subscription message shape. The rest
// adapter's feed does not use it; it subscribes with
// {"op":"subscribe","markets":[...]}.
type WSSubscribeMsg struct {
	Type    string   `json:"type"` // "book"
	Symbols []string `json:"symbols"`
}

// WSBookEvent is a flat top-of-book update shape. The rest adapter's feed
// does not use it; it decodes a market/bids/asks message instead.
type WSBookEvent struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Ts     int64  `json:"ts"`
}

// ————————————————————————————————————————————————————————————————————————
// Universe scanner (C10)
// ————————————————————————————————————————————————————————————————————————

// ScannerConfig holds the universe scanner's thresholds and cadence.
type ScannerConfig struct {
	ScanIntervalSec  int
	DefaultLimit     int
	MinEffectiveLev  decimal.Decimal
	FeeATakerBps     decimal.Decimal
	FeeBMakerBps     decimal.Decimal
	MinSamples       int
	HistoryRetention int
	BackfillLimit    int
}

// Instrument is one base asset's listing on a single venue, as discovered by
// the universe scanner's market enumeration.
type Instrument struct {
	BaseAsset      string
	Market         string
	QuoteAsset     string
	MaxLeverage    decimal.Decimal // zero if unknown
	LeverageSource string          // "market" or "fallback"
}

// Kline is one OHLC candle used for spread-history backfill.
type Kline struct {
	TimestampMs int64
	Close       decimal.Decimal
}

// ScanRow is one candidate pair's computed edge, as ranked by the universe
// scanner.
type ScanRow struct {
	Symbol    string
	BaseAsset string
	AMarket   string
	BMarket   string

	ABid, AAsk, AMid decimal.Decimal
	BBid, BAsk, BMid decimal.Decimal

	SignedEdgeBps     decimal.Decimal
	TradableEdgePrice decimal.Decimal
	TradableEdgeBps   decimal.Decimal
	Direction         string // "a_to_b" or "b_to_a"

	ALeverage       decimal.Decimal
	BLeverage       decimal.Decimal
	ALeverageSource string
	BLeverageSource string
	EffectiveLev    decimal.Decimal

	GrossNominalSpread decimal.Decimal
	FeeCost            decimal.Decimal
	NetNominalSpread   decimal.Decimal

	ZScore       decimal.Decimal
	ZScoreStatus string // "ready" or "insufficient_samples"
	SampleCount  int

	SpreadSpeed      decimal.Decimal
	SpreadVolatility decimal.Decimal

	SkipReason string
	UpdatedAt  string
}

// WarmupStatus reports how many scanner-tracked symbols have reached
// min_samples.
type WarmupStatus struct {
	Done            bool
	RequiredSamples int
	SymbolsTotal    int
	SymbolsReady    int
	SymbolsPending  int
	SampleCounts    map[string]int
	LastError       string
}

// ScanResultPayload is the dashboard-facing response to a get_top_spreads
// request.
type ScanResultPayload struct {
	UpdatedAt         string
	ScanIntervalSec   int
	Limit             int
	TotalSymbols      int
	ExecutableSymbols int
	LastError         string
	Rows              []ScanRow
}
