package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/aggregator"
	"github.com/kitefin/arbot/internal/alert"
	cacheredis "github.com/kitefin/arbot/internal/cache/redis"
	"github.com/kitefin/arbot/internal/chain"
	"github.com/kitefin/arbot/internal/config"
	"github.com/kitefin/arbot/internal/crypto"
	"github.com/kitefin/arbot/internal/domain"
	"github.com/kitefin/arbot/internal/engine"
	"github.com/kitefin/arbot/internal/gas"
	"github.com/kitefin/arbot/internal/metrics"
	"github.com/kitefin/arbot/internal/mev"
	"github.com/kitefin/arbot/internal/profit"
	"github.com/kitefin/arbot/internal/registry"
	"github.com/kitefin/arbot/internal/scanner"
	"github.com/kitefin/arbot/internal/stats"
	"github.com/kitefin/arbot/internal/txbuilder"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Pool     *chain.Pool
	Metrics  *metrics.Registry
	Exporter *metrics.Exporter
	Alerter  *alert.Alerter
	Registry *registry.Registry
	Discovery *registry.Discovery
	Quotes   *aggregator.Client
	Sampler  *stats.Sampler
	ZScore   *stats.Engine
	Oracle   *gas.Oracle
	Observer *mev.Observer
	Guard    *mev.Guard
	Scanner  *scanner.Scanner
	Accountant *profit.Accountant
	Simulator  *profit.Simulator
	Builder  *txbuilder.Builder
	Tracker  *txbuilder.PendingTracker
	Engine   *engine.Engine
}

// execDirectory maps routing source names to on-chain executor addresses
// for the transaction builder.
type execDirectory map[string]common.Address

func (d execDirectory) ExecutorAddress(source string) (common.Address, bool) {
	addr, ok := d[source]
	return addr, ok
}

// Known aggregator executor contracts on Base.
var aggregatorExecutors = execDirectory{
	"odos":      common.HexToAddress("0x19cEeAd7105607Cd444F5ad10dd51356436095a1"),
	"kyberswap": common.HexToAddress("0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"),
	"openocean": common.HexToAddress("0x6352a56caadC4F1E25CD6c75970Fa768A3304e64"),
}

// Wire constructs every dependency from configuration and secrets. The
// returned cleanup releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// ── Redis: caches, limiter, cooldowns ──
	rdb, err := cacheredis.New(ctx, cacheredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("app: redis: %w", err))
	}
	closers = append(closers, func() { _ = rdb.Close() })

	limiter := cacheredis.NewRateLimiter(rdb)
	quoteCache := cacheredis.NewQuoteCache(rdb)
	zscoreCache := cacheredis.NewZScoreCache(rdb)
	cointCache := cacheredis.NewCointCache(rdb)
	priceCache := cacheredis.NewPriceCache(rdb)
	cooldowns := cacheredis.NewCooldownKeeper(rdb)

	// ── Metrics ──
	reg := metrics.NewRegistry()
	exporter := metrics.NewExporter(reg, cfg.Metrics.FilePath,
		time.Duration(cfg.Metrics.ExportIntervalS)*time.Second, logger)

	// ── Alerting ──
	var senders []alert.Sender
	if cfg.Alerts.Enabled {
		for _, ch := range cfg.Alerts.Channels {
			switch ch {
			case "telegram":
				if secrets.TelegramToken != "" && secrets.TelegramChatID != "" {
					senders = append(senders, alert.NewTelegramSender(secrets.TelegramToken, secrets.TelegramChatID))
				}
			case "discord":
				if secrets.DiscordWebhook != "" {
					senders = append(senders, alert.NewDiscordSender(secrets.DiscordWebhook))
				}
			default:
				logger.Warn("unknown alert channel", slog.String("channel", ch))
			}
		}
	}
	alerter := alert.New(senders, cooldowns, logger)

	// ── RPC transport ──
	pool, err := chain.NewPool(ctx, chain.Config{
		Nodes:                cfg.RPC.Nodes,
		MaxRequestsPerSecond: cfg.RPC.MaxRequestsPerSecond,
		MaxRequestsPerMinute: cfg.RPC.MaxRequestsPerMinute,
		RequestTimeout:       cfg.RequestTimeout(),
		HealthCheckInterval:  time.Duration(cfg.RPC.HealthCheckIntervalMs) * time.Millisecond,
		UnhealthyTimeout:     cfg.UnhealthyTimeout(),
	}, reg, logger)
	if err != nil {
		return fail(fmt.Errorf("app: rpc pool: %w", err))
	}
	closers = append(closers, pool.Close)

	// ── Token registry and listing APIs ──
	baseTokens := make([]domain.Token, 0, len(cfg.Tokens.Base))
	for _, t := range cfg.Tokens.Base {
		baseTokens = append(baseTokens, domain.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: uint8(t.Decimals),
			IsStable: t.IsStable,
			IsBase:   true,
		})
	}
	markets := registry.NewMarketsClient(cfg.Tokens.MarketsAPIHost, secrets.CoingeckoAPIKey,
		limiter, cfg.APILimits["coingecko"].RequestsPerMinute)
	security := registry.NewSecurityClient(cfg.Tokens.SecurityAPIHost, secrets.GoPlusAPIKey,
		cfg.ChainID, limiter, cfg.APILimits["goplus"].RequestsPerMinute)
	pairs := registry.NewPairsClient(cfg.Tokens.PairsAPIHost,
		limiter, cfg.APILimits["dexscreener"].RequestsPerMinute)

	reg2 := registry.New(baseTokens, priceCache, markets, security, nil, logger)
	discovery := registry.NewDiscovery(reg2, pairs, cfg.Tokens.DiscoverTopN, cfg.Tokens.MinLiquidityUSD, logger)

	// ── Routing sources ──
	var sources []aggregator.Source
	dir := execDirectory{}
	for name, addr := range aggregatorExecutors {
		dir[name] = addr
	}
	for _, name := range cfg.Routing.AggregatorPriority {
		host := cfg.Routing.AggregatorHosts[name]
		budget := cfg.APILimits[name].RequestsPerMinute
		switch name {
		case "odos":
			sources = append(sources, aggregator.NewOdosSource(host, secrets.OdosAPIKey, cfg.ChainID, limiter, budget))
		case "kyberswap":
			sources = append(sources, aggregator.NewKyberSource(host, secrets.KyberAPIKey, limiter, budget))
		case "openocean":
			sources = append(sources, aggregator.NewOpenOceanSource(host, secrets.OpenOceanAPIKey, limiter, budget))
		default:
			logger.Warn("unknown aggregator", slog.String("name", name))
		}
	}
	monitored := make(map[string]bool, len(cfg.Routing.MonitoredDexes))
	for _, d := range cfg.Routing.MonitoredDexes {
		monitored[d] = true
	}
	for _, rc := range aggregator.DefaultRouters {
		if !monitored[rc.Name] {
			continue
		}
		sources = append(sources, aggregator.NewRouterSource(rc, pool, cfg.Routing.FeeTiers, logger))
		dir[rc.Name] = rc.Router
	}

	priority := append([]string{}, cfg.Routing.AggregatorPriority...)
	priority = append(priority, cfg.Routing.MonitoredDexes...)
	quotes := aggregator.NewClient(sources, priority, quoteCache, cfg.QuoteTTL(), logger)

	// Anchor spot pricing on the first stable base token.
	anchor := baseTokens[0]
	for _, t := range baseTokens {
		if t.IsStable {
			anchor = t
			break
		}
	}
	spot := aggregator.NewSpotPricer(quotes, anchor, reg2.Get)
	reg2.SetPriceSource(spot)

	// ── Statistics ──
	sampler := stats.NewSampler(spot, cfg.ZScore.WindowSize,
		time.Duration(cfg.ZScore.SampleIntervalS)*time.Second, logger)
	zs := stats.NewEngine(stats.Config{
		WindowSize:     cfg.ZScore.WindowSize,
		EntryThreshold: cfg.ZScore.EntryThreshold,
		ExitThreshold:  cfg.ZScore.ExitThreshold,
		Lookback:       cfg.ZScore.Lookback,
	}, sampler, zscoreCache, cointCache, logger)

	// ── Gas oracle ──
	oracle := gas.NewOracle(pool, cfg.Economics.MaxGasPriceGwei, logger)

	// ── MEV guard ──
	bots := mev.LoadBlacklist(ctx, cfg.MEV.BlacklistURL, logger)
	classifier := mev.NewClassifier(bots)
	var observer *mev.Observer
	if cfg.MEV.Enabled && len(cfg.RPC.WSNodes) > 0 {
		observer = mev.NewObserver(cfg.RPC.WSNodes[0], classifier, cfg.MEV.PendingBufferLen, logger)
	}
	guard := mev.NewGuard(mev.GuardConfig{
		MaxGasPriceGwei: cfg.Economics.MaxGasPriceGwei,
		Window:          time.Duration(cfg.MEV.WindowSeconds) * time.Second,
	}, oracle, logger)

	// ── Scanner, accountant, simulator ──
	scan := scanner.New(scanner.Config{
		MaxHops:          cfg.Scanner.MaxHops,
		MaxNeighbors:     cfg.Scanner.MaxNeighbors,
		MaxPathsPerCycle: cfg.Scanner.MaxPathsPerCycle,
		TopKTokens:       cfg.Scanner.TopKTokens,
	}, quotes, reg2, zs, logger)

	// The first configured base token is the numeraire and gas asset.
	native := baseTokens[0].Address
	acct := profit.NewAccountant(registryTokenInfo{reg2}, sampler, native,
		cfg.Economics.FlashLoanPremiumBps, cfg.Economics.MinProfitThresholdUSD, logger)
	sim := profit.NewSimulator(acct, secrets.SimulatorAccount, secrets.SimulatorKey, logger)

	// ── Transaction builder ──
	var builder *txbuilder.Builder
	tracker := txbuilder.NewPendingTracker(pool, logger)
	if !cfg.TestMode || secrets.PrivateKey != "" || secrets.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(secrets.PrivateKey, secrets.EncryptedKeyPath, secrets.KeyPassword)
		if err != nil {
			if !cfg.TestMode {
				return fail(fmt.Errorf("app: signing key: %w", err))
			}
			logger.Warn("test mode without signing key, execution disabled")
		} else {
			builder = txbuilder.NewBuilder(key,
				common.HexToAddress(secrets.WalletAddress),
				common.HexToAddress(secrets.ContractAddress),
				cfg.ChainID, cfg.Economics.MaxGasPriceGwei, pool, dir, logger)
		}
	}

	// ── Orchestrator ──
	eng := engine.New(engine.Config{
		MaxConsecutiveErrors: cfg.Engine.MaxConsecutiveErrors,
		CandidatesPerCycle:   cfg.Engine.CandidatesPerCycle,
		ConfirmTimeout:       time.Duration(cfg.Engine.ConfirmTimeoutS) * time.Second,
		DrainTimeout:         time.Duration(cfg.Engine.DrainTimeoutS) * time.Second,
		MaxGasPriceGwei:      cfg.Economics.MaxGasPriceGwei,
		MinProfitUSD:         cfg.Economics.MinProfitThresholdUSD,
		TestMode:             cfg.TestMode,
		Contract:             secrets.ContractAddress,
	}, scan, acct, sim, guard, oracle, builder, tracker, reg, alerter, logger)

	return &Dependencies{
		Pool:       pool,
		Metrics:    reg,
		Exporter:   exporter,
		Alerter:    alerter,
		Registry:   reg2,
		Discovery:  discovery,
		Quotes:     quotes,
		Sampler:    sampler,
		ZScore:     zs,
		Oracle:     oracle,
		Observer:   observer,
		Guard:      guard,
		Scanner:    scan,
		Accountant: acct,
		Simulator:  sim,
		Builder:    builder,
		Tracker:    tracker,
		Engine:     eng,
	}, cleanup, nil
}

// registryTokenInfo adapts the registry to the accountant's TokenInfo.
type registryTokenInfo struct {
	reg *registry.Registry
}

func (r registryTokenInfo) Get(addr common.Address) (domain.Token, bool) {
	return r.reg.Get(addr)
}

func (r registryTokenInfo) PriceUSD(ctx context.Context, addr common.Address) float64 {
	return r.reg.PriceUSD(ctx, addr)
}
