package mev

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

type fixedGas float64

func (g fixedGas) CurrentGwei() float64 { return float64(g) }

var (
	wethAddr = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	router   = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
	botAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testGuard(gwei float64) *Guard {
	return NewGuard(GuardConfig{MaxGasPriceGwei: 2.0, Window: time.Minute},
		fixedGas(gwei), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testOpportunity() *domain.Opportunity {
	return &domain.Opportunity{
		ID: "opp",
		Hops: []domain.Hop{
			{FromToken: wethAddr, ToToken: usdcAddr, AmountIn: big.NewInt(1)},
			{FromToken: usdcAddr, ToToken: wethAddr, AmountIn: big.NewInt(1)},
		},
		AmountIn: big.NewInt(1),
	}
}

func gweiWei(g int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(g), big.NewInt(1_000_000_000))
}

func pendingSwap(gasGwei int64, tokens ...common.Address) *domain.PendingObservation {
	return &domain.PendingObservation{
		Hash:       common.HexToHash("0x01"),
		To:         router,
		Selector:   selExactInputSingle,
		GasFeeCap:  gweiWei(gasGwei),
		PathTokens: tokens,
		SeenAt:     time.Now(),
	}
}

func TestGuardSafeOnQuietMempool(t *testing.T) {
	g := testGuard(0.1)
	if v := g.Check(testOpportunity()); !v.Safe {
		t.Fatalf("quiet mempool vetoed: %s", v.Reason)
	}
}

func TestSandwichVeto(t *testing.T) {
	g := testGuard(0.1)
	// Two pending swaps with the same selector at 150 gwei.
	g.Ingest(pendingSwap(150))
	g.Ingest(pendingSwap(150))

	v := g.Check(testOpportunity())
	if v.Safe {
		t.Fatal("sandwich cluster not vetoed")
	}
	if v.Reason != "Potential sandwich attack detected on first hop" {
		t.Fatalf("reason %q", v.Reason)
	}
}

func TestCompetitionVetoOnPathOverlap(t *testing.T) {
	g := testGuard(0.1)
	g.Ingest(pendingSwap(1, usdcAddr))

	if v := g.Check(testOpportunity()); v.Safe {
		t.Fatal("overlapping pending path not vetoed")
	}
}

func TestCompetitionVetoOnArbCrowd(t *testing.T) {
	g := testGuard(0.1)
	other := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	for i := 0; i < 4; i++ {
		obs := pendingSwap(1, other)
		obs.Pattern = domain.MEVArbitrage
		obs.PathTokens = nil
		g.Ingest(obs)
	}

	if v := g.Check(testOpportunity()); v.Safe {
		t.Fatal("crowded arbitrage mempool not vetoed")
	}
}

func TestGasSafetyVetoOverCeiling(t *testing.T) {
	g := testGuard(5.0) // network above the 2.0 gwei limit
	if v := g.Check(testOpportunity()); v.Safe {
		t.Fatal("over-ceiling gas not vetoed")
	}
}

func TestTimingVetoOnRecentExecution(t *testing.T) {
	g := testGuard(0.1)
	o := testOpportunity()
	g.RecordExecution(o)

	v := g.Check(o)
	if v.Safe {
		t.Fatal("immediate repeat not vetoed")
	}
	if v.Reason != "Similar opportunity executed less than 30s ago" {
		t.Fatalf("reason %q", v.Reason)
	}
}

func TestTimingVetoOnFastBlocks(t *testing.T) {
	g := testGuard(0.1)
	for i := 0; i < 6; i++ {
		g.RecordBlockTime(800 * time.Millisecond)
	}
	if v := g.Check(testOpportunity()); v.Safe {
		t.Fatal("sub-1.5s block times not vetoed")
	}
}

func TestWindowPruning(t *testing.T) {
	g := testGuard(0.1)
	old := pendingSwap(1)
	old.SeenAt = time.Now().Add(-2 * time.Minute)
	g.Ingest(old)
	g.Ingest(pendingSwap(1))

	if n := g.WindowSize(); n != 1 {
		t.Fatalf("stale observation survived pruning: window=%d", n)
	}
}

func TestClassifierPatterns(t *testing.T) {
	c := NewClassifier([]common.Address{botAddr})

	// Known bot paying over the odds: sandwich leading edge.
	obs := &domain.PendingObservation{From: botAddr, Selector: selExactInputSingle, GasTipCap: gweiWei(10)}
	c.Classify(obs)
	if obs.Pattern != domain.MEVSandwich {
		t.Fatalf("bot+aggressive swap = %s, want sandwich", obs.Pattern)
	}

	// Flash-loan selector is arbitrage regardless of sender.
	obs = &domain.PendingObservation{Selector: selFlashLoanSimple}
	c.Classify(obs)
	if obs.Pattern != domain.MEVArbitrage {
		t.Fatalf("flash loan = %s, want arbitrage", obs.Pattern)
	}

	// Plain transfer-shaped call is not MEV.
	obs = &domain.PendingObservation{Selector: [4]byte{0xa9, 0x05, 0x9c, 0xbb}}
	c.Classify(obs)
	if obs.Pattern != domain.MEVNone {
		t.Fatalf("erc20 transfer = %s, want none", obs.Pattern)
	}
}

func TestDecodePathTokens(t *testing.T) {
	// Calldata: selector + two address words + one non-address word.
	input := make([]byte, 4+3*32)
	copy(input[:4], selExactInputSingle[:])
	copy(input[4+12:4+32], wethAddr.Bytes())
	copy(input[4+32+12:4+64], usdcAddr.Bytes())
	input[4+64] = 0xff // high byte set: not address-shaped

	tokens := decodePathTokens(input)
	if len(tokens) != 2 {
		t.Fatalf("decoded %d tokens, want 2", len(tokens))
	}
	if tokens[0] != wethAddr || tokens[1] != usdcAddr {
		t.Fatalf("decoded %v", tokens)
	}
}
