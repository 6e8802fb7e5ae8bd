package scanner

import (
	"context"
	"log/slog"

	"github.com/kitefin/arbot/internal/aggregator"
	"github.com/kitefin/arbot/internal/domain"
)

// scanTriangular evaluates ordered triples (base, A, B) over the top-K
// liquidity-ranked tokens and keeps every cycle whose final amount exceeds
// the input.
func (s *Scanner) scanTriangular(ctx context.Context) []*domain.Opportunity {
	var out []*domain.Opportunity

	bases := s.reg.BaseTokens()
	if len(bases) == 0 {
		return nil
	}
	flashAsset := bases[0]
	top := s.reg.TopByLiquidity(s.cfg.TopKTokens)

	amountIn := s.tradeUnits(ctx, flashAsset, 4)
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil
	}

	for i, a := range top {
		for j, b := range top {
			if i == j || a.Address == flashAsset.Address || b.Address == flashAsset.Address {
				continue
			}

			q1, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
				From: flashAsset, To: a, AmountIn: amountIn, SlippageBps: s.cfg.SlippageBps,
			})
			if err != nil {
				continue
			}
			q2, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
				From: a, To: b, AmountIn: q1.ReturnAmount, SlippageBps: s.cfg.SlippageBps,
			})
			if err != nil {
				continue
			}
			q3, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
				From: b, To: flashAsset, AmountIn: q2.ReturnAmount, SlippageBps: s.cfg.SlippageBps,
			})
			if err != nil {
				continue
			}

			if q3.ReturnAmount.Cmp(amountIn) <= 0 {
				continue
			}

			hops := append(append(append([]domain.Hop{}, q1.Hops...), q2.Hops...), q3.Hops...)
			o := s.newOpportunity(domain.OpportunityTriangular, hops, amountIn, q3.ReturnAmount)
			if !s.passesProfitFloor(o) {
				continue
			}
			s.logger.Info("triangular candidate",
				slog.String("path", flashAsset.Symbol+">"+a.Symbol+">"+b.Symbol+">"+flashAsset.Symbol),
				slog.String("in", amountIn.String()),
				slog.String("out", q3.ReturnAmount.String()),
			)
			out = append(out, o)
		}
	}
	return out
}
