package scanner

import (
	"context"
	"log/slog"
	"math"

	"github.com/kitefin/arbot/internal/aggregator"
	"github.com/kitefin/arbot/internal/domain"
)

// scanStatistical builds round-trip candidates for every cointegrated pair
// whose z-score breaches the entry threshold: sell the overvalued leg
// through the best route and return to the flash-loan asset.
func (s *Scanner) scanStatistical(ctx context.Context) []*domain.Opportunity {
	var out []*domain.Opportunity

	bases := s.reg.BaseTokens()
	if len(bases) == 0 {
		return nil
	}
	flashAsset := bases[0]

	for _, pair := range s.zs.Pairs() {
		if pair.Coint == nil || !pair.Coint.Cointegrated {
			continue
		}
		sig, err := s.zs.Signal(ctx, pair)
		if err != nil {
			continue
		}
		if sig.Direction != domain.SignalShortALongB && sig.Direction != domain.SignalLongAShortB {
			continue
		}

		// The overvalued leg is A when shorting A, otherwise B.
		target := pair.TokenA
		if sig.Direction == domain.SignalLongAShortB {
			target = pair.TokenB
		}
		if target == flashAsset.Address {
			// A signal on the flash asset itself has no tradable leg.
			continue
		}
		targetToken, ok := s.reg.Get(target)
		if !ok {
			continue
		}

		amountIn := s.tradeUnits(ctx, flashAsset, math.Abs(sig.ZScore))
		if amountIn == nil || amountIn.Sign() <= 0 {
			continue
		}

		// Leg one: flash asset into the dislocated token.
		q1, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
			From:        flashAsset,
			To:          targetToken,
			AmountIn:    amountIn,
			SlippageBps: s.cfg.SlippageBps,
		})
		if err != nil {
			continue
		}
		// Leg two: back to the flash asset, closing the cycle.
		q2, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
			From:        targetToken,
			To:          flashAsset,
			AmountIn:    q1.ReturnAmount,
			SlippageBps: s.cfg.SlippageBps,
		})
		if err != nil {
			continue
		}

		o := s.newOpportunity(domain.OpportunityStatistical,
			append(append([]domain.Hop{}, q1.Hops...), q2.Hops...),
			amountIn, q2.ReturnAmount)
		o.Z = &domain.ZSnapshot{
			ZScore:     sig.ZScore,
			Mean:       sig.Mean,
			StdDev:     sig.StdDev,
			Confidence: sig.Confidence,
		}
		if !s.passesProfitFloor(o) {
			continue
		}
		s.logger.Info("statistical candidate",
			slog.String("pair", pair.Key()),
			slog.Float64("z", sig.ZScore),
			slog.String("direction", sig.Direction.String()),
			slog.Float64("confidence", sig.Confidence),
		)
		out = append(out, o)
	}
	return out
}
