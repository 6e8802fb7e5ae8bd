// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	ChainID     int64           `toml:"chain_id"`
	RPC         RPCConfig       `toml:"rpc"`
	Redis       RedisConfig     `toml:"redis"`
	Tokens      TokensConfig    `toml:"tokens"`
	Routing     RoutingConfig   `toml:"routing"`
	ZScore      ZScoreConfig    `toml:"zscore"`
	Economics   EconomicsConfig `toml:"economics"`
	Scanner     ScannerConfig   `toml:"scanner"`
	MEV         MEVConfig       `toml:"mev"`
	Alerts      AlertsConfig    `toml:"alerts"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Engine      EngineConfig    `toml:"engine"`
	APILimits   map[string]APILimit `toml:"api_rate_limits"`
	TestMode    bool            `toml:"test_mode"`
	LogLevel    string          `toml:"log_level"`
}

// RPCConfig holds chain transport knobs.
type RPCConfig struct {
	Nodes                 []string `toml:"nodes"`
	WSNodes               []string `toml:"ws_nodes"`
	MaxRequestsPerSecond  int      `toml:"max_requests_per_second"`
	MaxRequestsPerMinute  int      `toml:"max_requests_per_minute"`
	RequestTimeoutMs      int      `toml:"request_timeout_ms"`
	HealthCheckIntervalMs int      `toml:"health_check_interval_ms"`
	UnhealthyTimeoutMs    int      `toml:"unhealthy_timeout_ms"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// TokensConfig describes the base-token universe and discovery limits.
type TokensConfig struct {
	// Base is the ordered list of flash-loan eligible assets; the first is
	// the numeraire used for price sampling.
	Base            []TokenEntry `toml:"base"`
	DiscoverTopN    int          `toml:"discover_top_n"`
	MinLiquidityUSD float64      `toml:"min_liquidity_usd"`
	PairsAPIHost    string       `toml:"pairs_api_host"`
	MarketsAPIHost  string       `toml:"markets_api_host"`
	SecurityAPIHost string       `toml:"security_api_host"`
}

// TokenEntry is one statically configured token.
type TokenEntry struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
	IsStable bool   `toml:"is_stable"`
}

// RoutingConfig names the DEX routers and HTTP aggregators the scanner may
// route through, in priority order.
type RoutingConfig struct {
	MonitoredDexes     []string          `toml:"monitored_dexes"`
	AggregatorPriority []string          `toml:"aggregator_priority"`
	FeeTiers           []int64           `toml:"fee_tiers"`
	SlippageBps        map[string]int    `toml:"slippage_bps"`
	AggregatorHosts    map[string]string `toml:"aggregator_hosts"`
	QuoteTTLMs         int               `toml:"quote_ttl_ms"`
}

// ZScoreConfig holds statistical-arbitrage knobs.
type ZScoreConfig struct {
	WindowSize      int     `toml:"window_size"`
	EntryThreshold  float64 `toml:"entry_threshold"`
	ExitThreshold   float64 `toml:"exit_threshold"`
	Lookback        int     `toml:"lookback"`
	SampleIntervalS int     `toml:"sample_interval_s"`
}

// EconomicsConfig bundles the profitability knobs.
type EconomicsConfig struct {
	MaxGasPriceGwei       float64 `toml:"max_gas_price_gwei"`
	MinProfitThresholdUSD float64 `toml:"min_profit_threshold_usd"`
	FlashLoanPremiumBps   int64   `toml:"flash_loan_premium_bps"`
}

// ScannerConfig bounds the path search.
type ScannerConfig struct {
	MaxHops          int `toml:"max_hops"`
	MaxNeighbors     int `toml:"max_neighbors"`
	MaxPathsPerCycle int `toml:"max_paths_per_cycle"`
	TopKTokens       int `toml:"top_k_tokens"`
}

// MEVConfig holds guard thresholds and the bot blacklist source.
type MEVConfig struct {
	Enabled          bool   `toml:"enabled"`
	BlacklistURL     string `toml:"blacklist_url"`
	WindowSeconds    int    `toml:"window_seconds"`
	PendingBufferLen int    `toml:"pending_buffer_len"`
}

// AlertsConfig selects alert sinks. Credentials come from the environment.
type AlertsConfig struct {
	Enabled  bool     `toml:"enabled"`
	Channels []string `toml:"channels"`
}

// MetricsConfig locates the text metrics surface.
type MetricsConfig struct {
	FilePath        string `toml:"file_path"`
	ExportIntervalS int    `toml:"export_interval_s"`
}

// EngineConfig holds orchestrator loop knobs.
type EngineConfig struct {
	MaxConsecutiveErrors int `toml:"max_consecutive_errors"`
	CandidatesPerCycle   int `toml:"candidates_per_cycle"`
	ConfirmTimeoutS      int `toml:"confirm_timeout_s"`
	DrainTimeoutS        int `toml:"drain_timeout_s"`
}

// APILimit is one named HTTP API request budget.
type APILimit struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// Defaults returns a Config with sane defaults for Base mainnet. The TOML
// file and environment overrides are merged on top.
func Defaults() Config {
	return Config{
		ChainID: 8453,
		RPC: RPCConfig{
			MaxRequestsPerSecond:  25,
			MaxRequestsPerMinute:  1200,
			RequestTimeoutMs:      10_000,
			HealthCheckIntervalMs: 30_000,
			UnhealthyTimeoutMs:    60_000,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Tokens: TokensConfig{
			DiscoverTopN:    20,
			MinLiquidityUSD: 50_000,
			PairsAPIHost:    "https://api.dexscreener.com",
			MarketsAPIHost:  "https://api.coingecko.com",
			SecurityAPIHost: "https://api.gopluslabs.io",
		},
		Routing: RoutingConfig{
			MonitoredDexes:     []string{"uniswap_v3", "aerodrome", "sushiswap_v3", "baseswap"},
			AggregatorPriority: []string{"odos", "kyberswap", "openocean"},
			FeeTiers:           []int64{500, 3000, 100, 10000},
			QuoteTTLMs:         5000,
		},
		ZScore: ZScoreConfig{
			WindowSize:      100,
			EntryThreshold:  2.0,
			ExitThreshold:   0.5,
			Lookback:        500,
			SampleIntervalS: 30,
		},
		Economics: EconomicsConfig{
			MaxGasPriceGwei:       2.0,
			MinProfitThresholdUSD: 1.0,
			FlashLoanPremiumBps:   5,
		},
		Scanner: ScannerConfig{
			MaxHops:          6,
			MaxNeighbors:     5,
			MaxPathsPerCycle: 100,
			TopKTokens:       8,
		},
		MEV: MEVConfig{
			Enabled:          true,
			WindowSeconds:    60,
			PendingBufferLen: 1024,
		},
		Metrics: MetricsConfig{
			FilePath:        "/var/run/arbot/metrics.txt",
			ExportIntervalS: 30,
		},
		Engine: EngineConfig{
			MaxConsecutiveErrors: 10,
			CandidatesPerCycle:   5,
			ConfirmTimeoutS:      60,
			DrainTimeoutS:        30,
		},
		APILimits: map[string]APILimit{
			"odos":        {RequestsPerMinute: 60},
			"kyberswap":   {RequestsPerMinute: 60},
			"openocean":   {RequestsPerMinute: 30},
			"dexscreener": {RequestsPerMinute: 120},
			"coingecko":   {RequestsPerMinute: 30},
			"goplus":      {RequestsPerMinute: 30},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for startup-fatal problems. All errors
// are collected so the operator sees every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID <= 0 {
		errs = append(errs, "chain_id must be positive")
	}
	if len(c.RPC.Nodes) == 0 {
		errs = append(errs, "rpc.nodes must list at least one endpoint")
	}
	if c.RPC.MaxRequestsPerSecond <= 0 {
		errs = append(errs, "rpc.max_requests_per_second must be positive")
	}
	if c.RPC.MaxRequestsPerMinute <= 0 {
		errs = append(errs, "rpc.max_requests_per_minute must be positive")
	}
	if len(c.Tokens.Base) == 0 {
		errs = append(errs, "tokens.base must list at least one flash-loan asset")
	}
	for i, t := range c.Tokens.Base {
		if !strings.HasPrefix(t.Address, "0x") || len(t.Address) != 42 {
			errs = append(errs, fmt.Sprintf("tokens.base[%d].address %q is not a 20-byte hex address", i, t.Address))
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("tokens.base[%d].decimals out of range 0-36", i))
		}
	}
	if len(c.Routing.AggregatorPriority) == 0 && len(c.Routing.MonitoredDexes) == 0 {
		errs = append(errs, "routing must configure at least one aggregator or dex")
	}
	if c.ZScore.WindowSize < 10 {
		errs = append(errs, "zscore.window_size must be at least 10")
	}
	if c.ZScore.EntryThreshold <= c.ZScore.ExitThreshold {
		errs = append(errs, "zscore.entry_threshold must exceed exit_threshold")
	}
	if c.Economics.MaxGasPriceGwei <= 0 {
		errs = append(errs, "economics.max_gas_price_gwei must be positive")
	}
	if c.Economics.MinProfitThresholdUSD < 0 {
		errs = append(errs, "economics.min_profit_threshold_usd must not be negative")
	}
	if c.Economics.FlashLoanPremiumBps < 0 || c.Economics.FlashLoanPremiumBps > 1000 {
		errs = append(errs, "economics.flash_loan_premium_bps out of range 0-1000")
	}
	if c.Scanner.MaxHops < 2 || c.Scanner.MaxHops > 10 {
		errs = append(errs, "scanner.max_hops out of range 2-10")
	}
	if c.Engine.MaxConsecutiveErrors < 3 {
		errs = append(errs, "engine.max_consecutive_errors must be at least 3")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequestTimeout returns the transport timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RPC.RequestTimeoutMs) * time.Millisecond
}

// UnhealthyTimeout returns how long an endpoint rests before reprobing.
func (c *Config) UnhealthyTimeout() time.Duration {
	return time.Duration(c.RPC.UnhealthyTimeoutMs) * time.Millisecond
}

// QuoteTTL returns the route-quote cache TTL.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Routing.QuoteTTLMs) * time.Millisecond
}
