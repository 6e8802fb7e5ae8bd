// Package scanner searches for candidate arbitrage opportunities across
// three families: statistical pair signals, triangular cycles, and bounded
// multi-hop path search.
package scanner

import (
	"context"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kitefin/arbot/internal/aggregator"
	"github.com/kitefin/arbot/internal/domain"
	"github.com/kitefin/arbot/internal/registry"
	"github.com/kitefin/arbot/internal/stats"
)

// Config bounds the per-cycle search.
type Config struct {
	MaxHops          int
	MaxNeighbors     int
	MaxPathsPerCycle int
	TopKTokens       int
	// MinProfitPercent filters candidates below this raw profit.
	MinProfitPercent float64
	// MaxTradeUSD caps statistical trade sizing.
	MaxTradeUSD float64
	// SlippageBps is applied per hop when requesting quotes.
	SlippageBps int
	// Deadline is how long a produced opportunity stays executable.
	Deadline time.Duration
}

// Scanner produces candidates each cycle by combining the three families.
type Scanner struct {
	cfg    Config
	quotes *aggregator.Client
	reg    *registry.Registry
	zs     *stats.Engine
	logger *slog.Logger
}

// New creates a Scanner.
func New(cfg Config, quotes *aggregator.Client, reg *registry.Registry, zs *stats.Engine, logger *slog.Logger) *Scanner {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 6
	}
	if cfg.MaxNeighbors <= 0 {
		cfg.MaxNeighbors = 5
	}
	if cfg.MaxPathsPerCycle <= 0 {
		cfg.MaxPathsPerCycle = 100
	}
	if cfg.MinProfitPercent == 0 {
		cfg.MinProfitPercent = 0.05
	}
	if cfg.MaxTradeUSD <= 0 {
		cfg.MaxTradeUSD = 10_000
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 60 * time.Second
	}
	return &Scanner{
		cfg:    cfg,
		quotes: quotes,
		reg:    reg,
		zs:     zs,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Scan runs all three families and returns ranked candidates.
func (s *Scanner) Scan(ctx context.Context) []*domain.Opportunity {
	started := time.Now()
	var out []*domain.Opportunity

	out = append(out, s.scanStatistical(ctx)...)
	out = append(out, s.scanTriangular(ctx)...)
	out = append(out, s.scanMultiHop(ctx)...)

	for _, o := range out {
		o.Score = s.score(o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	s.logger.Debug("scan complete",
		slog.Int("candidates", len(out)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return out
}

// score ranks a candidate: profit and conviction add, price impact
// subtracts, liquidity adds logarithmically.
func (s *Scanner) score(o *domain.Opportunity) float64 {
	profitPct := s.profitPercent(o)
	score := 10 * profitPct

	if o.Z != nil {
		score += 5 * math.Abs(o.Z.ZScore)
		switch {
		case o.Z.Confidence > 0.8:
			score += 20
		case o.Z.Confidence > 0.6:
			score += 10
		}
	}

	var liq, impact float64
	for _, h := range o.Hops {
		liq += h.LiquidityUSD
		impact += h.PriceImpact
	}
	if liq > 1 {
		score += 5 * math.Log10(liq)
	}
	score -= 100 * impact
	return score
}

// profitPercent is raw expected profit relative to input.
func (s *Scanner) profitPercent(o *domain.Opportunity) float64 {
	if o.AmountIn == nil || o.AmountIn.Sign() == 0 || o.ExpectedOut == nil {
		return 0
	}
	in, _ := new(big.Float).SetInt(o.AmountIn).Float64()
	outF, _ := new(big.Float).SetInt(o.ExpectedOut).Float64()
	if in == 0 {
		return 0
	}
	return (outF - in) / in * 100
}

// passesProfitFloor filters out candidates below the raw profit minimum.
func (s *Scanner) passesProfitFloor(o *domain.Opportunity) bool {
	return s.profitPercent(o) > s.cfg.MinProfitPercent
}

// newOpportunity stamps identity and deadline onto a constructed candidate.
func (s *Scanner) newOpportunity(kind domain.OpportunityKind, hops []domain.Hop, amountIn, expectedOut *big.Int) *domain.Opportunity {
	return &domain.Opportunity{
		ID:          uuid.NewString(),
		Kind:        kind,
		Hops:        hops,
		AmountIn:    amountIn,
		ExpectedOut: expectedOut,
		Deadline:    time.Now().Add(s.cfg.Deadline),
		DetectedAt:  time.Now(),
	}
}

// tradeUnits converts the USD cap into smallest units of the asset.
func (s *Scanner) tradeUnits(ctx context.Context, asset domain.Token, deviation float64) *big.Int {
	price := s.reg.PriceUSD(ctx, asset.Address)
	if price <= 0 {
		return nil
	}
	// Deviation scales the size within the hard cap, never above it.
	usd := s.cfg.MaxTradeUSD * math.Min(1, math.Max(0.1, deviation/4))
	if usd > s.cfg.MaxTradeUSD {
		usd = s.cfg.MaxTradeUSD
	}
	return asset.ToUnits(usd / price)
}
