package stats

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

const (
	// cointTTL is how long a cointegration verdict stays valid.
	cointTTL = time.Hour
	// signalTTL is how long a computed z-score signal stays valid.
	signalTTL = 5 * time.Second
)

// Config holds the engine's statistical knobs.
type Config struct {
	WindowSize     int
	EntryThreshold float64
	ExitThreshold  float64
	Lookback       int
}

// Engine discovers pairs, tests cointegration, and turns rolling ratios
// into trading signals.
type Engine struct {
	cfg     Config
	sampler *Sampler
	zcache  domain.ZScoreCache
	ccache  domain.CointCache
	logger  *slog.Logger

	pairs []domain.Pair
}

// NewEngine creates the z-score engine.
func NewEngine(cfg Config, sampler *Sampler, zcache domain.ZScoreCache, ccache domain.CointCache, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		sampler: sampler,
		zcache:  zcache,
		ccache:  ccache,
		logger:  logger.With(slog.String("component", "zscore_engine")),
	}
}

// BuildUniverse enumerates the tracked pair set: all unordered pairs among
// base tokens, plus the first two base tokens crossed with the given alt
// tokens. Every member token is registered with the sampler.
func (e *Engine) BuildUniverse(bases []domain.Token, alts []domain.Token) {
	seen := make(map[string]bool)
	pairs := make([]domain.Pair, 0, len(bases)*len(bases)/2+2*len(alts))

	add := func(a, b common.Address, kind domain.PairKind) {
		if a == b {
			return
		}
		p := domain.Pair{TokenA: a, TokenB: b, Kind: kind}
		if seen[p.Key()] {
			return
		}
		seen[p.Key()] = true
		pairs = append(pairs, p)
		e.sampler.Track(a)
		e.sampler.Track(b)
	}

	for i := 0; i < len(bases); i++ {
		for j := i + 1; j < len(bases); j++ {
			add(bases[i].Address, bases[j].Address, domain.PairBaseBase)
		}
	}
	anchors := bases
	if len(anchors) > 2 {
		anchors = anchors[:2]
	}
	for _, base := range anchors {
		for _, alt := range alts {
			add(base.Address, alt.Address, domain.PairBaseAlt)
		}
	}

	e.pairs = pairs
	e.logger.Info("pair universe built",
		slog.Int("pairs", len(pairs)),
		slog.Int("bases", len(bases)),
		slog.Int("alts", len(alts)),
	)
}

// Pairs returns the tracked pair set.
func (e *Engine) Pairs() []domain.Pair {
	return e.pairs
}

// TestPair runs (or recalls) the cointegration test for a pair.
func (e *Engine) TestPair(ctx context.Context, p domain.Pair) domain.Cointegration {
	if e.ccache != nil {
		if c, err := e.ccache.Get(ctx, p.Key()); err == nil {
			return *c
		}
	}

	minSamples := int(0.8 * float64(e.cfg.Lookback))
	c := TestCointegration(e.sampler.Prices(p.TokenA), e.sampler.Prices(p.TokenB), minSamples)

	if e.ccache != nil {
		if err := e.ccache.Set(ctx, p.Key(), &c, cointTTL); err != nil {
			e.logger.Debug("coint cache set failed", slog.String("error", err.Error()))
		}
	}
	if c.Cointegrated {
		e.logger.Info("pair cointegrated",
			slog.String("pair", p.Key()),
			slog.Float64("adf", c.ADFStatistic),
			slog.Float64("half_life", c.HalfLife),
			slog.Float64("hurst", c.HurstExponent),
		)
	}
	return c
}

// RetestAll refreshes cointegration for the whole universe, attaching
// results to the pair set.
func (e *Engine) RetestAll(ctx context.Context) {
	for i := range e.pairs {
		c := e.TestPair(ctx, e.pairs[i])
		e.pairs[i].Coint = &c
	}
}

// Signal computes the current z-score signal for a cointegrated pair. The
// short-TTL cache makes repeated reads within one cycle cheap.
func (e *Engine) Signal(ctx context.Context, p domain.Pair) (*domain.ZScoreSignal, error) {
	if e.zcache != nil {
		if sig, err := e.zcache.Get(ctx, p.Key()); err == nil {
			return sig, nil
		}
	}

	sig := e.computeSignal(p)
	if sig == nil {
		return nil, domain.ErrNotFound
	}

	if e.zcache != nil {
		if err := e.zcache.Set(ctx, p.Key(), sig, signalTTL); err != nil {
			e.logger.Debug("zscore cache set failed", slog.String("error", err.Error()))
		}
	}
	return sig, nil
}

// computeSignal derives z from the ratio history. It is a pure function of
// the sampled series: recomputation over the same samples yields the same
// signal.
func (e *Engine) computeSignal(p domain.Pair) *domain.ZScoreSignal {
	pricesA := e.sampler.Prices(p.TokenA)
	pricesB := e.sampler.Prices(p.TokenB)
	n := len(pricesA)
	if len(pricesB) < n {
		n = len(pricesB)
	}
	minSamples := int(0.7 * float64(e.cfg.WindowSize))
	if n < minSamples || n < 2 {
		return nil
	}

	ratios := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if pricesB[i] == 0 {
			continue
		}
		ratios = append(ratios, pricesA[i]/pricesB[i])
	}
	if len(ratios) < minSamples || len(ratios) < 2 {
		return nil
	}

	current := ratios[len(ratios)-1]
	mu := mean(ratios)
	sigma := stddev(ratios)

	sig := &domain.ZScoreSignal{
		Pair:       p.Key(),
		Ratio:      current,
		Mean:       mu,
		StdDev:     sigma,
		Samples:    len(ratios),
		ComputedAt: time.Now(),
	}
	if sigma == 0 {
		sig.Direction = domain.SignalHold
		return sig
	}

	z := (current - mu) / sigma
	sig.ZScore = z

	switch {
	case z > e.cfg.EntryThreshold:
		sig.Direction = domain.SignalShortALongB
	case z < -e.cfg.EntryThreshold:
		sig.Direction = domain.SignalLongAShortB
	case math.Abs(z) < e.cfg.ExitThreshold:
		sig.Direction = domain.SignalClosePosition
	default:
		sig.Direction = domain.SignalHold
	}

	sig.Confidence = confidence(z, p.Coint)
	return sig
}

// confidence maps |z| into [0,1], adjusted by the pair's Hurst exponent and
// half-life when a cointegration result is attached.
func confidence(z float64, c *domain.Cointegration) float64 {
	conf := math.Min(math.Abs(z)/4, 1)
	if c != nil {
		switch {
		case c.HurstExponent < 0.4:
			conf *= 1.2
		case c.HurstExponent > 0.6:
			conf *= 0.8
		}
		switch {
		case c.HalfLife < 10:
			conf *= 1.3
		case c.HalfLife > 30:
			conf *= 0.7
		}
	}
	return math.Max(0, math.Min(conf, 1))
}

// RunRetest refreshes cointegration on a schedule until ctx is done.
func (e *Engine) RunRetest(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 30 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.RetestAll(ctx)
		}
	}
}
