package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators adjust knobs at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt64(&cfg.ChainID, "ARBOT_CHAIN_ID")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
	setBool(&cfg.TestMode, "ARBOT_TEST_MODE")

	// ── RPC ──
	setStrSlice(&cfg.RPC.Nodes, "ARBOT_RPC_NODES")
	setStrSlice(&cfg.RPC.WSNodes, "ARBOT_RPC_WS_NODES")
	setInt(&cfg.RPC.MaxRequestsPerSecond, "ARBOT_RPC_MAX_REQUESTS_PER_SECOND")
	setInt(&cfg.RPC.MaxRequestsPerMinute, "ARBOT_RPC_MAX_REQUESTS_PER_MINUTE")
	setInt(&cfg.RPC.RequestTimeoutMs, "ARBOT_RPC_REQUEST_TIMEOUT_MS")
	setInt(&cfg.RPC.HealthCheckIntervalMs, "ARBOT_RPC_HEALTH_CHECK_INTERVAL_MS")
	setInt(&cfg.RPC.UnhealthyTimeoutMs, "ARBOT_RPC_UNHEALTHY_TIMEOUT_MS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── Tokens ──
	setInt(&cfg.Tokens.DiscoverTopN, "ARBOT_TOKENS_DISCOVER_TOP_N")
	setFloat64(&cfg.Tokens.MinLiquidityUSD, "ARBOT_TOKENS_MIN_LIQUIDITY_USD")
	setStr(&cfg.Tokens.PairsAPIHost, "ARBOT_TOKENS_PAIRS_API_HOST")
	setStr(&cfg.Tokens.MarketsAPIHost, "ARBOT_TOKENS_MARKETS_API_HOST")
	setStr(&cfg.Tokens.SecurityAPIHost, "ARBOT_TOKENS_SECURITY_API_HOST")

	// ── Routing ──
	setStrSlice(&cfg.Routing.MonitoredDexes, "ARBOT_ROUTING_MONITORED_DEXES")
	setStrSlice(&cfg.Routing.AggregatorPriority, "ARBOT_ROUTING_AGGREGATOR_PRIORITY")
	setInt(&cfg.Routing.QuoteTTLMs, "ARBOT_ROUTING_QUOTE_TTL_MS")

	// ── Z-score ──
	setInt(&cfg.ZScore.WindowSize, "ARBOT_ZSCORE_WINDOW_SIZE")
	setFloat64(&cfg.ZScore.EntryThreshold, "ARBOT_ZSCORE_ENTRY_THRESHOLD")
	setFloat64(&cfg.ZScore.ExitThreshold, "ARBOT_ZSCORE_EXIT_THRESHOLD")
	setInt(&cfg.ZScore.Lookback, "ARBOT_ZSCORE_LOOKBACK")
	setInt(&cfg.ZScore.SampleIntervalS, "ARBOT_ZSCORE_SAMPLE_INTERVAL_S")

	// ── Economics ──
	setFloat64(&cfg.Economics.MaxGasPriceGwei, "ARBOT_MAX_GAS_PRICE_GWEI")
	setFloat64(&cfg.Economics.MinProfitThresholdUSD, "ARBOT_MIN_PROFIT_THRESHOLD_USD")
	setInt64(&cfg.Economics.FlashLoanPremiumBps, "ARBOT_FLASH_LOAN_PREMIUM_BPS")

	// ── Scanner ──
	setInt(&cfg.Scanner.MaxHops, "ARBOT_SCANNER_MAX_HOPS")
	setInt(&cfg.Scanner.MaxNeighbors, "ARBOT_SCANNER_MAX_NEIGHBORS")
	setInt(&cfg.Scanner.MaxPathsPerCycle, "ARBOT_SCANNER_MAX_PATHS_PER_CYCLE")
	setInt(&cfg.Scanner.TopKTokens, "ARBOT_SCANNER_TOP_K_TOKENS")

	// ── MEV ──
	setBool(&cfg.MEV.Enabled, "ARBOT_MEV_ENABLED")
	setStr(&cfg.MEV.BlacklistURL, "ARBOT_MEV_BLACKLIST_URL")
	setInt(&cfg.MEV.WindowSeconds, "ARBOT_MEV_WINDOW_SECONDS")

	// ── Alerts ──
	setBool(&cfg.Alerts.Enabled, "ARBOT_ALERTS_ENABLED")
	setStrSlice(&cfg.Alerts.Channels, "ARBOT_ALERTS_CHANNELS")

	// ── Metrics ──
	setStr(&cfg.Metrics.FilePath, "ARBOT_METRICS_FILE_PATH")
	setInt(&cfg.Metrics.ExportIntervalS, "ARBOT_METRICS_EXPORT_INTERVAL_S")

	// ── Engine ──
	setInt(&cfg.Engine.MaxConsecutiveErrors, "ARBOT_ENGINE_MAX_CONSECUTIVE_ERRORS")
	setInt(&cfg.Engine.CandidatesPerCycle, "ARBOT_ENGINE_CANDIDATES_PER_CYCLE")
	setInt(&cfg.Engine.ConfirmTimeoutS, "ARBOT_ENGINE_CONFIRM_TIMEOUT_S")
	setInt(&cfg.Engine.DrainTimeoutS, "ARBOT_ENGINE_DRAIN_TIMEOUT_S")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
