package scanner

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

var (
	wethAddr = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	altAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
)

func bareScanner() *Scanner {
	return New(Config{}, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func opportunity(inWei, outWei int64, z float64, conf float64) *domain.Opportunity {
	o := &domain.Opportunity{
		Kind:        domain.OpportunityTriangular,
		AmountIn:    big.NewInt(inWei),
		ExpectedOut: big.NewInt(outWei),
		Deadline:    time.Now().Add(time.Minute),
		Hops: []domain.Hop{
			{FromToken: wethAddr, ToToken: usdcAddr, AmountIn: big.NewInt(inWei), LiquidityUSD: 1_000_000, PriceImpact: 0.001},
			{FromToken: usdcAddr, ToToken: wethAddr, AmountIn: big.NewInt(1), LiquidityUSD: 1_000_000, PriceImpact: 0.001},
		},
	}
	if z != 0 {
		o.Z = &domain.ZSnapshot{ZScore: z, Confidence: conf}
	}
	return o
}

func TestScorePrefersProfit(t *testing.T) {
	s := bareScanner()
	small := s.score(opportunity(1_000_000, 1_001_000, 0, 0)) // 0.1%
	large := s.score(opportunity(1_000_000, 1_010_000, 0, 0)) // 1.0%
	if large <= small {
		t.Fatalf("score did not reward profit: %f vs %f", small, large)
	}
}

func TestScoreConvictionBonus(t *testing.T) {
	s := bareScanner()
	base := s.score(opportunity(1_000_000, 1_005_000, 2.5, 0.5))
	high := s.score(opportunity(1_000_000, 1_005_000, 2.5, 0.65))
	veryHigh := s.score(opportunity(1_000_000, 1_005_000, 2.5, 0.85))

	if high-base < 9.9 || high-base > 10.1 {
		t.Fatalf("high conviction bonus %f, want ≈10", high-base)
	}
	if veryHigh-base < 19.9 || veryHigh-base > 20.1 {
		t.Fatalf("very high conviction bonus %f, want ≈20", veryHigh-base)
	}
}

func TestScorePenalizesImpact(t *testing.T) {
	s := bareScanner()
	clean := opportunity(1_000_000, 1_005_000, 0, 0)
	dirty := opportunity(1_000_000, 1_005_000, 0, 0)
	dirty.Hops[0].PriceImpact = 0.05

	if s.score(dirty) >= s.score(clean) {
		t.Fatal("price impact not penalized")
	}
}

func TestProfitFloor(t *testing.T) {
	s := bareScanner()
	// 0.01% is under the 0.05% floor.
	if s.passesProfitFloor(opportunity(10_000_000, 10_001_000, 0, 0)) {
		t.Fatal("sub-floor profit passed")
	}
	// 0.1% clears it.
	if !s.passesProfitFloor(opportunity(10_000_000, 10_010_000, 0, 0)) {
		t.Fatal("above-floor profit rejected")
	}
}

func TestNewOpportunityStampsDeadline(t *testing.T) {
	s := bareScanner()
	o := s.newOpportunity(domain.OpportunityMultiHop, nil, big.NewInt(1), big.NewInt(2))
	if o.ID == "" {
		t.Fatal("missing id")
	}
	if !o.Deadline.After(time.Now()) {
		t.Fatal("deadline not in the future")
	}
}

func TestBuildNeighborsRanksByLiquidity(t *testing.T) {
	nodes := []domain.Token{
		{Address: wethAddr, LiquidityUSD: 10_000_000},
		{Address: usdcAddr, LiquidityUSD: 50_000_000},
		{Address: altAddr, LiquidityUSD: 100_000},
	}
	n := buildNeighbors(nodes, 1)
	if len(n[altAddr]) != 1 || n[altAddr][0] != usdcAddr {
		t.Fatalf("alt neighbor %v, want the deepest pool", n[altAddr])
	}
	// A node never neighbors itself.
	for _, nb := range n[usdcAddr] {
		if nb == usdcAddr {
			t.Fatal("self neighbor")
		}
	}
}

func TestEdgeRate(t *testing.T) {
	prices := map[common.Address]float64{
		wethAddr: 1825,
		usdcAddr: 1,
	}
	if got := edgeRate(wethAddr, usdcAddr, prices); got != 1825 {
		t.Fatalf("edge rate %f", got)
	}
	if got := edgeRate(wethAddr, altAddr, prices); got != 0 {
		t.Fatalf("unknown token should price to zero, got %f", got)
	}
}

func TestDFSFindsNoFalseCycles(t *testing.T) {
	s := New(Config{MaxHops: 3, MaxNeighbors: 2, MaxPathsPerCycle: 50}, nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Consistent prices: every cycle multiplies to exactly 1 before fees,
	// so nothing should survive the fee haircut.
	prices := map[common.Address]float64{
		wethAddr: 1825,
		usdcAddr: 1,
		altAddr:  10,
	}
	neighbors := map[common.Address][]common.Address{
		wethAddr: {usdcAddr, altAddr},
		usdcAddr: {wethAddr, altAddr},
		altAddr:  {wethAddr, usdcAddr},
	}
	checked := 0
	found := s.dfsFrom(wethAddr, neighbors, prices, &checked)
	if len(found) != 0 {
		t.Fatalf("consistent prices produced %d phantom cycles", len(found))
	}
	if checked == 0 {
		t.Fatal("no paths explored")
	}
}

func TestDFSRespectsPathBudget(t *testing.T) {
	s := New(Config{MaxHops: 3, MaxNeighbors: 2, MaxPathsPerCycle: 50}, nil, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	prices := map[common.Address]float64{
		wethAddr: 1825, usdcAddr: 1, altAddr: 10,
	}
	neighbors := map[common.Address][]common.Address{
		wethAddr: {usdcAddr, altAddr},
		usdcAddr: {wethAddr, altAddr},
		altAddr:  {wethAddr, usdcAddr},
	}
	checked := 0
	s.dfsFrom(wethAddr, neighbors, prices, &checked)
	if checked > 50 {
		t.Fatalf("path budget exceeded: %d", checked)
	}
}
