package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OpportunityKind identifies which scanner family produced an opportunity.
type OpportunityKind int

const (
	OpportunityStatistical OpportunityKind = iota
	OpportunityTriangular
	OpportunityMultiHop
)

func (k OpportunityKind) String() string {
	switch k {
	case OpportunityStatistical:
		return "statistical"
	case OpportunityTriangular:
		return "triangular"
	default:
		return "multi_hop"
	}
}

// Hop is a single token-to-token swap inside a path. Hops are immutable once
// the scanner has produced them.
type Hop struct {
	FromToken    common.Address
	ToToken      common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	// Source is the routing source that will execute this hop: a direct
	// DEX router name or an HTTP aggregator id.
	Source       string
	// Payload is opaque calldata or provider route data carried through to
	// the on-chain contract.
	Payload      []byte
	GasEstimate  uint64
	PriceImpact  float64
	LiquidityUSD float64
}

// ZSnapshot captures the statistical state that justified a statistical
// opportunity, for alerting and scoring.
type ZSnapshot struct {
	ZScore     float64
	Mean       float64
	StdDev     float64
	Confidence float64
}

// Opportunity is a closed-cycle arbitrage candidate. The first hop's
// FromToken is the flash-loan asset and the last hop's ToToken must equal it.
type Opportunity struct {
	ID             string
	Kind           OpportunityKind
	Hops           []Hop
	AmountIn       *big.Int
	ExpectedOut    *big.Int
	GrossProfitUSD float64
	Score          float64
	Deadline       time.Time
	Z              *ZSnapshot

	// Breakdown is attached by the profit accountant.
	Breakdown *Breakdown

	DetectedAt time.Time
}

// Asset returns the flash-loan asset of the cycle.
func (o *Opportunity) Asset() common.Address {
	if len(o.Hops) == 0 {
		return common.Address{}
	}
	return o.Hops[0].FromToken
}

// Tokens returns every distinct token address touched by the path, in path
// order starting with the flash-loan asset.
func (o *Opportunity) Tokens() []common.Address {
	seen := make(map[common.Address]bool, len(o.Hops)+1)
	out := make([]common.Address, 0, len(o.Hops)+1)
	for _, h := range o.Hops {
		for _, a := range [2]common.Address{h.FromToken, h.ToToken} {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// Validate checks the structural invariants of the opportunity: a non-empty
// closed cycle, positive hop inputs, and an unexpired deadline.
func (o *Opportunity) Validate(now time.Time) error {
	if len(o.Hops) == 0 {
		return E(KindConfigInvalid, "opportunity has no hops")
	}
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return E(KindConfigInvalid, "opportunity amountIn must be positive")
	}
	first, last := o.Hops[0], o.Hops[len(o.Hops)-1]
	if first.FromToken != last.ToToken {
		return E(KindConfigInvalid, fmt.Sprintf(
			"path is not a closed cycle: starts %s ends %s",
			first.FromToken.Hex(), last.ToToken.Hex()))
	}
	for i, h := range o.Hops {
		if h.AmountIn == nil || h.AmountIn.Sign() <= 0 {
			return E(KindConfigInvalid, fmt.Sprintf("hop %d amountIn must be positive", i))
		}
		if h.MinAmountOut != nil && h.MinAmountOut.Sign() < 0 {
			return E(KindConfigInvalid, fmt.Sprintf("hop %d minAmountOut is negative", i))
		}
		if i > 0 && o.Hops[i-1].ToToken != h.FromToken {
			return E(KindConfigInvalid, fmt.Sprintf("hop %d does not continue the path", i))
		}
	}
	if !o.Deadline.IsZero() && !o.Deadline.After(now) {
		return ErrStaleOpportunity
	}
	return nil
}

// RouteQuote is the uniform quote shape returned by every routing source.
type RouteQuote struct {
	Source          string
	FromToken       common.Address
	ToToken         common.Address
	AmountIn        *big.Int
	ReturnAmount    *big.Int
	Hops            []Hop
	GasEstimate     uint64
	PriceImpact     float64
	ProviderPayload []byte
	FetchedAt       time.Time
}

// Breakdown is the accountant's net-profit decomposition for one candidate.
type Breakdown struct {
	GrossProfitUSD    float64
	GasCostUSD        float64
	FlashLoanCostUSD  float64
	SlippageBufferUSD float64
	NetProfitUSD      float64
	NetProfitPercent  float64
	GasLimit          uint64
	MeetsThreshold    bool
}
