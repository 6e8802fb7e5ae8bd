// Package aggregator provides a uniform quoting interface over HTTP route
// aggregators and direct on-chain DEX routers, with short-TTL caching and
// deterministic best-quote selection.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// QuoteRequest carries everything a source needs to produce a RouteQuote.
type QuoteRequest struct {
	From        domain.Token
	To          domain.Token
	AmountIn    *big.Int
	SlippageBps int
	Recipient   string
	// NeedCalldata asks providers with a separate assemble step to produce
	// a callable payload.
	NeedCalldata bool
}

// Source is one routing source: a named HTTP aggregator or a direct DEX
// router.
type Source interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error)
}

// minReturnUnits is the smallest acceptable quote output in smallest units;
// anything below is treated as a failed source.
var minReturnUnits = big.NewInt(100)

// Client multiplexes quote requests across registered sources.
type Client struct {
	sources  map[string]Source
	priority []string
	cache    domain.QuoteCache
	quoteTTL time.Duration
	logger   *slog.Logger
}

// NewClient creates a Client over the given sources. priority is the
// configured evaluation order for BestQuote.
func NewClient(sources []Source, priority []string, cache domain.QuoteCache, quoteTTL time.Duration, logger *slog.Logger) *Client {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Name()] = s
	}
	if quoteTTL <= 0 {
		quoteTTL = 5 * time.Second
	}
	return &Client{
		sources:  m,
		priority: priority,
		cache:    cache,
		quoteTTL: quoteTTL,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// Sources returns the names of all registered sources.
func (c *Client) Sources() []string {
	out := make([]string, 0, len(c.sources))
	for name := range c.sources {
		out = append(out, name)
	}
	return out
}

// Quote returns a validated quote from the named source, consulting the
// cache first. Two calls within the TTL return identical routes.
func (c *Client) Quote(ctx context.Context, source string, req QuoteRequest) (*domain.RouteQuote, error) {
	s, ok := c.sources[source]
	if !ok {
		return nil, domain.E(domain.KindQuoteUnavailable, "unknown source "+source)
	}

	if c.cache != nil && !req.NeedCalldata {
		if q, err := c.cache.Get(ctx, source, req.From.Address, req.To.Address, req.AmountIn.String()); err == nil {
			return q, nil
		}
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := validateQuote(q); err != nil {
		return nil, err
	}
	q.FetchedAt = time.Now()

	if c.cache != nil && !req.NeedCalldata {
		if err := c.cache.Set(ctx, q, c.quoteTTL); err != nil {
			c.logger.Debug("quote cache set failed", slog.String("error", err.Error()))
		}
	}
	return q, nil
}

// validateQuote enforces the structural validity of a source response.
func validateQuote(q *domain.RouteQuote) error {
	if q.ReturnAmount == nil || q.ReturnAmount.Cmp(minReturnUnits) < 0 {
		return domain.E(domain.KindQuoteUnavailable, q.Source+": return amount below floor")
	}
	if len(q.Hops) == 0 {
		return domain.E(domain.KindQuoteUnavailable, q.Source+": quote has no hops")
	}
	if q.GasEstimate == 0 {
		return domain.E(domain.KindQuoteUnavailable, q.Source+": missing gas estimate")
	}
	return nil
}

// BestQuote evaluates sources in configured priority, keeps the non-failing
// quotes, and returns the one with the strictly highest output. The spread
// across sources is logged; selection is deterministic.
func (c *Client) BestQuote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error) {
	var (
		best    *domain.RouteQuote
		worst   *domain.RouteQuote
		succeeded int
		lastErr error
	)

	for _, name := range c.priority {
		if _, ok := c.sources[name]; !ok {
			continue
		}
		q, err := c.Quote(ctx, name, req)
		if err != nil {
			lastErr = err
			c.logger.Debug("source failed",
				slog.String("source", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		succeeded++
		if best == nil || q.ReturnAmount.Cmp(best.ReturnAmount) > 0 {
			best = q
		}
		if worst == nil || q.ReturnAmount.Cmp(worst.ReturnAmount) < 0 {
			worst = q
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, domain.Wrap(domain.KindQuoteUnavailable, "all sources failed", lastErr)
		}
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "no sources configured", domain.ErrNoQuote)
	}

	if succeeded > 1 {
		diff := new(big.Int).Sub(best.ReturnAmount, worst.ReturnAmount)
		pct := 0.0
		if worst.ReturnAmount.Sign() > 0 {
			df, _ := new(big.Float).SetInt(diff).Float64()
			wf, _ := new(big.Float).SetInt(worst.ReturnAmount).Float64()
			if wf > 0 {
				pct = df / wf * 100
			}
		}
		c.logger.Debug("quote spread",
			slog.String("best", best.Source),
			slog.String("worst", worst.Source),
			slog.String("diff", diff.String()),
			slog.Float64("diff_pct", math.Round(pct*1000)/1000),
			slog.Int("sources", succeeded),
		)
	}
	return best, nil
}

// IsQuoteMiss reports whether err is an expected per-source failure rather
// than a transport problem.
func IsQuoteMiss(err error) bool {
	return domain.KindOf(err) == domain.KindQuoteUnavailable || errors.Is(err, domain.ErrNoQuote)
}

// pairLiquidityUSD is the catalog-reported liquidity bound for a pair. The
// shallower side gates the trade, so the smaller of the two known
// aggregate-liquidity figures is used; an unknown side is ignored.
func pairLiquidityUSD(from, to domain.Token) float64 {
	a, b := from.LiquidityUSD, to.LiquidityUSD
	switch {
	case a > 0 && b > 0:
		return math.Min(a, b)
	case a > 0:
		return a
	default:
		return b
	}
}
