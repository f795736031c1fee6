// Package config loads the arbitrage engine's configuration from a YAML
// file (default: configs/config.yaml) with sensitive fields overridable via
// ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// VenueCredentials holds the secrets a live venue adapter signs requests
// with. Not every field applies to every venue (a HMAC venue needs
// api_key/api_secret/passphrase; a wallet-keyed venue needs private_key and
// trading_account_id) — unused fields are left empty.
type VenueCredentials struct {
	APIKey           string `mapstructure:"api_key"`
	APISecret        string `mapstructure:"api_secret"`
	Passphrase       string `mapstructure:"passphrase"`
	PrivateKey       string `mapstructure:"private_key"`
	TradingAccountID string `mapstructure:"trading_account_id"`
}

// VenueConfig is one venue's connection and credential configuration.
type VenueConfig struct {
	Name        string           `mapstructure:"name"`
	Environment string           `mapstructure:"environment"`
	RESTURL     string           `mapstructure:"rest_url"`
	WSURL       string           `mapstructure:"ws_url"`
	Credentials VenueCredentials `mapstructure:"credentials"`
}

// SymbolEntry configures one tradable pair across both venues.
type SymbolEntry struct {
	Symbol       string `mapstructure:"symbol"`
	VenueAMarket string `mapstructure:"venue_a_market"`
	VenueBMarket string `mapstructure:"venue_b_market"`
	Enabled      bool   `mapstructure:"enabled"`
}

func (s SymbolEntry) toConfig() types.SymbolConfig {
	return types.SymbolConfig{
		Symbol: s.Symbol, VenueAMarket: s.VenueAMarket, VenueBMarket: s.VenueBMarket, Enabled: s.Enabled,
	}
}

// StrategyConfig holds the default strategy knobs applied to every symbol
// unless overridden via the symbol.params.update RPC. Decimal-valued knobs
// are read as strings (YAML/env don't carry arbitrary precision) and parsed
// in ToParams.
type StrategyConfig struct {
	MAWindow   int `mapstructure:"ma_window"`
	StdWindow  int `mapstructure:"std_window"`
	MinSamples int `mapstructure:"min_samples"`

	ZEntry     string `mapstructure:"z_entry"`
	ZExit      string `mapstructure:"z_exit"`
	ZZeroEntry string `mapstructure:"z_zero_entry"`
	ZZeroExit  string `mapstructure:"z_zero_exit"`
	MinEdgeBps string `mapstructure:"min_edge_bps"`

	BaseOrderQty string `mapstructure:"base_order_qty"`
	MaxBatchQty  string `mapstructure:"max_batch_qty"`
	MaxPosition  string `mapstructure:"max_position"`

	LoopIntervalMs    int `mapstructure:"loop_interval_ms"`
	PositionSyncMs    int `mapstructure:"position_sync_ms"`
	RestConsistencyMs int `mapstructure:"rest_consistency_ms"`
}

// ToParams converts the loaded strategy knobs into the decimal-typed
// runtime form the engine consumes.
func (s StrategyConfig) ToParams() (types.StrategyParams, error) {
	parsed, err := parseDecimals(map[string]string{
		"z_entry": s.ZEntry, "z_exit": s.ZExit, "z_zero_entry": s.ZZeroEntry, "z_zero_exit": s.ZZeroExit,
		"min_edge_bps": s.MinEdgeBps, "base_order_qty": s.BaseOrderQty, "max_batch_qty": s.MaxBatchQty,
		"max_position": s.MaxPosition,
	})
	if err != nil {
		return types.StrategyParams{}, err
	}
	return types.StrategyParams{
		MAWindow: s.MAWindow, StdWindow: s.StdWindow, MinSamples: s.MinSamples,
		ZEntry: parsed["z_entry"], ZExit: parsed["z_exit"],
		ZZeroEntry: parsed["z_zero_entry"], ZZeroExit: parsed["z_zero_exit"],
		MinEdgeBps:   parsed["min_edge_bps"],
		BaseOrderQty: parsed["base_order_qty"], MaxBatchQty: parsed["max_batch_qty"], MaxPosition: parsed["max_position"],
		LoopIntervalMs: s.LoopIntervalMs, PositionSyncMs: s.PositionSyncMs, RestConsistencyMs: s.RestConsistencyMs,
	}, nil
}

// RiskConfig holds the default gating thresholds applied to every symbol.
type RiskConfig struct {
	StaleMs                 int64  `mapstructure:"stale_ms"`
	ConsistencyToleranceBps string `mapstructure:"consistency_tolerance_bps"`
	ConsistencyMaxFailures  int    `mapstructure:"consistency_max_failures"`
	WsIdleTimeoutSec        int    `mapstructure:"ws_idle_timeout_sec"`
	HealthFailThreshold     int    `mapstructure:"health_fail_threshold"`
	HealthCacheMs           int64  `mapstructure:"health_cache_ms"`
	NetPosGuardMultiplier   string `mapstructure:"net_pos_guard_multiplier"`
	HardNetLimitMultiplier  string `mapstructure:"hard_net_limit_multiplier"`
}

// ToParams converts the loaded risk knobs into the decimal-typed runtime form.
func (r RiskConfig) ToParams() (types.RiskParams, error) {
	parsed, err := parseDecimals(map[string]string{
		"consistency_tolerance_bps": r.ConsistencyToleranceBps,
		"net_pos_guard_multiplier":  r.NetPosGuardMultiplier,
		"hard_net_limit_multiplier": r.HardNetLimitMultiplier,
	})
	if err != nil {
		return types.RiskParams{}, err
	}
	return types.RiskParams{
		StaleMs:                 r.StaleMs,
		ConsistencyToleranceBps: parsed["consistency_tolerance_bps"],
		ConsistencyMaxFailures:  r.ConsistencyMaxFailures,
		WsIdleTimeoutSec:        r.WsIdleTimeoutSec,
		HealthFailThreshold:     r.HealthFailThreshold,
		HealthCacheMs:           r.HealthCacheMs,
		NetPosGuardMultiplier:   parsed["net_pos_guard_multiplier"],
		HardNetLimitMultiplier:  parsed["hard_net_limit_multiplier"],
	}, nil
}

// ScannerConfig holds the universe scanner's cadence and filter knobs.
type ScannerConfig struct {
	ScanIntervalSec  int    `mapstructure:"scan_interval_sec"`
	DefaultLimit     int    `mapstructure:"default_limit"`
	MinEffectiveLev  string `mapstructure:"min_effective_leverage"`
	FeeATakerBps     string `mapstructure:"fee_a_taker_bps"`
	FeeBMakerBps     string `mapstructure:"fee_b_maker_bps"`
	MinSamples       int    `mapstructure:"min_samples"`
	HistoryRetention int    `mapstructure:"history_retention"`
	BackfillLimit    int    `mapstructure:"backfill_limit"`
}

// ToParams converts the loaded scanner knobs into the decimal-typed runtime form.
func (s ScannerConfig) ToParams() (types.ScannerConfig, error) {
	parsed, err := parseDecimals(map[string]string{
		"min_effective_leverage": s.MinEffectiveLev, "fee_a_taker_bps": s.FeeATakerBps, "fee_b_maker_bps": s.FeeBMakerBps,
	})
	if err != nil {
		return types.ScannerConfig{}, err
	}
	return types.ScannerConfig{
		ScanIntervalSec: s.ScanIntervalSec, DefaultLimit: s.DefaultLimit,
		MinEffectiveLev: parsed["min_effective_leverage"],
		FeeATakerBps:    parsed["fee_a_taker_bps"], FeeBMakerBps: parsed["fee_b_maker_bps"],
		MinSamples: s.MinSamples, HistoryRetention: s.HistoryRetention, BackfillLimit: s.BackfillLimit,
	}, nil
}

func parseDecimals(fields map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(fields))
	for name, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, types.NewConfigError("%s: invalid decimal %q: %v", name, raw, err)
		}
		out[name] = d
	}
	return out, nil
}

// StoreConfig sets where the audit log is persisted (JSONL + CSV files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the control-plane HTTP/WS host.
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RuntimeConfig toggles simulated vs live market data and live order
// submission, mirroring the teacher's dry_run switch generalized to a
// two-venue arbitrage engine (spec.md's live-order gate requires an
// explicit confirmation phrase, not just a boolean, to arm trading).
type RuntimeConfig struct {
	SimulatedMarketData        bool   `mapstructure:"simulated_market_data"`
	LiveOrderEnabled           bool   `mapstructure:"live_order_enabled"`
	EnableLiveOrderConfirmText string `mapstructure:"enable_live_order_confirm_text"`
	DefaultMode                string `mapstructure:"default_mode"`
}

// RateLimitPair is a (rate-per-second, capacity) token-bucket pair for one
// venue/scope combination.
type RateLimitPair struct {
	Rate     float64 `mapstructure:"rate"`
	Capacity float64 `mapstructure:"capacity"`
}

// RateLimits maps venue name ("venue_a"/"venue_b") to scope
// ("market_data"/"order") to its bucket parameters.
type RateLimits map[string]map[string]RateLimitPair

// Config is the top-level configuration, maps directly to the YAML file.
type Config struct {
	Symbols    []SymbolEntry `mapstructure:"symbols"`
	VenueA     VenueConfig   `mapstructure:"venue_a"`
	VenueB     VenueConfig   `mapstructure:"venue_b"`
	Strategy   StrategyConfig `mapstructure:"strategy"`
	Risk       RiskConfig     `mapstructure:"risk"`
	Scanner    ScannerConfig  `mapstructure:"scanner"`
	RateLimits RateLimits     `mapstructure:"rate_limits"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
}

// RateLimit returns the configured (rate, capacity) pair for venue/scope,
// falling back to a conservative default (8 req/s, burst 12) when unset.
func (c *Config) RateLimit(venue, scope string) (rate, capacity float64) {
	if scopes, ok := c.RateLimits[venue]; ok {
		if pair, ok := scopes[scope]; ok {
			return pair.Rate, pair.Capacity
		}
	}
	return 8, 12
}

// SymbolConfigs converts the loaded symbol entries to the engine's runtime type.
func (c *Config) SymbolConfigs() []types.SymbolConfig {
	out := make([]types.SymbolConfig, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		out = append(out, s.toConfig())
	}
	return out
}

// Load reads config from a YAML file with ARB_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_VENUE_A_API_SECRET"); key != "" {
		cfg.VenueA.Credentials.APISecret = key
	}
	if key := os.Getenv("ARB_VENUE_A_PRIVATE_KEY"); key != "" {
		cfg.VenueA.Credentials.PrivateKey = key
	}
	if key := os.Getenv("ARB_VENUE_B_API_SECRET"); key != "" {
		cfg.VenueB.Credentials.APISecret = key
	}
	if key := os.Getenv("ARB_VENUE_B_PRIVATE_KEY"); key != "" {
		cfg.VenueB.Credentials.PrivateKey = key
	}
	if os.Getenv("ARB_SIMULATED_MARKET_DATA") == "false" || os.Getenv("ARB_SIMULATED_MARKET_DATA") == "0" {
		cfg.Runtime.SimulatedMarketData = false
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges, returning a
// *types.ConfigError on the first problem found.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return types.NewConfigError("symbols: at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if s.Symbol == "" || s.VenueAMarket == "" || s.VenueBMarket == "" {
			return types.NewConfigError("symbols: each entry needs symbol/venue_a_market/venue_b_market")
		}
	}
	if !c.Runtime.SimulatedMarketData {
		if c.VenueA.RESTURL == "" || c.VenueB.RESTURL == "" {
			return types.NewConfigError("venue_a/venue_b rest_url required when runtime.simulated_market_data is false")
		}
	}
	if c.Runtime.LiveOrderEnabled && c.Runtime.EnableLiveOrderConfirmText == "" {
		return types.NewConfigError("runtime.enable_live_order_confirm_text is required when live_order_enabled is true")
	}
	if c.Strategy.MAWindow <= 0 || c.Strategy.StdWindow <= 0 {
		return types.NewConfigError("strategy.ma_window/std_window must be > 0")
	}
	if _, err := c.Strategy.ToParams(); err != nil {
		return err
	}
	if _, err := c.Risk.ToParams(); err != nil {
		return err
	}
	if _, err := c.Scanner.ToParams(); err != nil {
		return err
	}
	if c.Store.DataDir == "" {
		return types.NewConfigError("store.data_dir is required")
	}
	return nil
}
