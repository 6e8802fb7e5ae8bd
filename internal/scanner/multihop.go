package scanner

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/aggregator"
	"github.com/kitefin/arbot/internal/domain"
)

// dfsEdgeFee is the notional per-edge haircut applied during the cheap DFS
// pre-pass, standing in for fees and impact before real quotes are fetched.
const dfsEdgeFee = 0.003

// pathCandidate is a cycle found by the cheap DFS pre-pass.
type pathCandidate struct {
	tokens []common.Address
	// rawProfit is the notional multiple over 1.0 input.
	rawProfit float64
}

// scanMultiHop runs a depth-first search from each base token over the
// liquidity-ranked neighbor graph. The DFS evaluates cycles on a notional
// one-unit input using cached USD prices; survivors are re-priced through
// real best routes.
func (s *Scanner) scanMultiHop(ctx context.Context) []*domain.Opportunity {
	bases := s.reg.BaseTokens()
	if len(bases) == 0 {
		return nil
	}

	// Neighbor graph: every token links to up to MaxNeighbors of the most
	// liquid others.
	universe := s.reg.TopByLiquidity(s.cfg.TopKTokens)
	nodes := make([]domain.Token, 0, len(universe)+len(bases))
	nodes = append(nodes, bases...)
	nodes = append(nodes, universe...)

	prices := make(map[common.Address]float64, len(nodes))
	for _, t := range nodes {
		if p := s.reg.PriceUSD(ctx, t.Address); p > 0 {
			prices[t.Address] = p
		}
	}

	neighbors := buildNeighbors(nodes, s.cfg.MaxNeighbors)

	var out []*domain.Opportunity
	checked := 0

	for _, base := range bases {
		if checked >= s.cfg.MaxPathsPerCycle {
			break
		}
		found := s.dfsFrom(base.Address, neighbors, prices, &checked)

		// Keep the top ten raw-profit cycles per starting token, then
		// re-price them with real routes.
		sort.Slice(found, func(i, j int) bool { return found[i].rawProfit > found[j].rawProfit })
		if len(found) > 10 {
			found = found[:10]
		}
		for _, pc := range found {
			if o := s.repriceCycle(ctx, pc); o != nil {
				out = append(out, o)
			}
		}
	}
	return out
}

// dfsFrom explores closed cycles starting and ending at start, bounded by
// maxHops, branching factor, and the global checked-path budget.
func (s *Scanner) dfsFrom(start common.Address, neighbors map[common.Address][]common.Address, prices map[common.Address]float64, checked *int) []pathCandidate {
	var found []pathCandidate
	onPath := map[common.Address]bool{start: true}

	var walk func(current common.Address, path []common.Address, amount float64)
	walk = func(current common.Address, path []common.Address, amount float64) {
		if *checked >= s.cfg.MaxPathsPerCycle {
			return
		}
		for _, next := range neighbors[current] {
			if *checked >= s.cfg.MaxPathsPerCycle {
				return
			}
			rate := edgeRate(current, next, prices)
			if rate == 0 {
				continue
			}
			nextAmount := amount * rate * (1 - dfsEdgeFee)

			if next == start {
				*checked++
				if len(path) >= 2 && nextAmount > 1.0 {
					cycle := make([]common.Address, len(path)+1)
					copy(cycle, path)
					cycle[len(path)] = start
					found = append(found, pathCandidate{tokens: cycle, rawProfit: nextAmount - 1.0})
				}
				continue
			}
			if onPath[next] || len(path) >= s.cfg.MaxHops {
				continue
			}
			onPath[next] = true
			walk(next, append(path, next), nextAmount)
			onPath[next] = false
		}
	}

	walk(start, []common.Address{start}, 1.0)
	return found
}

// edgeRate is the notional conversion rate between two tokens from USD
// prices.
func edgeRate(from, to common.Address, prices map[common.Address]float64) float64 {
	pf, pt := prices[from], prices[to]
	if pf <= 0 || pt <= 0 {
		return 0
	}
	return pf / pt
}

// buildNeighbors links each node to the most liquid other nodes.
func buildNeighbors(nodes []domain.Token, maxNeighbors int) map[common.Address][]common.Address {
	ranked := make([]domain.Token, len(nodes))
	copy(ranked, nodes)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].LiquidityUSD > ranked[j].LiquidityUSD })

	out := make(map[common.Address][]common.Address, len(nodes))
	for _, n := range nodes {
		for _, other := range ranked {
			if other.Address == n.Address {
				continue
			}
			out[n.Address] = append(out[n.Address], other.Address)
			if len(out[n.Address]) >= maxNeighbors {
				break
			}
		}
	}
	return out
}

// repriceCycle replaces the DFS's notional arithmetic with real best-route
// quotes along the cycle.
func (s *Scanner) repriceCycle(ctx context.Context, pc pathCandidate) *domain.Opportunity {
	startToken, ok := s.reg.Get(pc.tokens[0])
	if !ok {
		return nil
	}
	amountIn := s.tradeUnits(ctx, startToken, 4)
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil
	}

	hops := make([]domain.Hop, 0, len(pc.tokens)-1)
	amount := amountIn
	for i := 0; i+1 < len(pc.tokens); i++ {
		from, okF := s.reg.Get(pc.tokens[i])
		to, okT := s.reg.Get(pc.tokens[i+1])
		if !okF || !okT {
			return nil
		}
		q, err := s.quotes.BestQuote(ctx, aggregator.QuoteRequest{
			From: from, To: to, AmountIn: amount, SlippageBps: s.cfg.SlippageBps,
		})
		if err != nil {
			return nil
		}
		hops = append(hops, q.Hops...)
		amount = q.ReturnAmount
	}

	if amount.Cmp(amountIn) <= 0 {
		return nil
	}
	o := s.newOpportunity(domain.OpportunityMultiHop, hops, amountIn, amount)
	if !s.passesProfitFloor(o) {
		return nil
	}
	s.logger.Info("multi-hop candidate",
		slog.Int("hops", len(hops)),
		slog.String("in", amountIn.String()),
		slog.String("out", amount.String()),
	)
	return o
}
