package profit

import "testing"

func TestSlippageMonotoneInLiquidity(t *testing.T) {
	liqs := []float64{10_000, 60_000, 150_000, 600_000, 2_000_000}
	prev := 1.0
	for _, liq := range liqs {
		s := EstimateSlippage("uniswap_v3", liq, 5_000, 0.003)
		if s > prev {
			t.Fatalf("slippage increased with liquidity: %f at %f", s, liq)
		}
		prev = s
	}
}

func TestSlippageGrowsWithNotional(t *testing.T) {
	small := EstimateSlippage("odos", 1_000_000, 500, 0.003)
	large := EstimateSlippage("odos", 1_000_000, 60_000, 0.003)
	if large <= small {
		t.Fatalf("larger trades must slip more: %f vs %f", small, large)
	}
}

func TestSlippageGrowsWithVolatility(t *testing.T) {
	calm := EstimateSlippage("kyberswap", 1_000_000, 5_000, 0.001)
	wild := EstimateSlippage("kyberswap", 1_000_000, 5_000, 0.05)
	if wild <= calm {
		t.Fatalf("volatile markets must slip more: %f vs %f", calm, wild)
	}
}

func TestSlippageClamped(t *testing.T) {
	// Worst case: unknown source, tiny pool, huge trade, wild volatility.
	s := EstimateSlippage("unknown_dex", 1_000, 1_000_000, 0.5)
	if s > maxSlippage {
		t.Fatalf("slippage %f above clamp", s)
	}
	// Best case still at least the floor.
	s = EstimateSlippage("odos", 100_000_000, 10, 0)
	if s < minSlippage {
		t.Fatalf("slippage %f below floor", s)
	}
}

func TestSlippageKnownSourceTighterThanUnknown(t *testing.T) {
	known := EstimateSlippage("odos", 1_000_000, 5_000, 0.003)
	unknown := EstimateSlippage("mystery", 1_000_000, 5_000, 0.003)
	if known >= unknown {
		t.Fatalf("aggregator base should beat default: %f vs %f", known, unknown)
	}
}
