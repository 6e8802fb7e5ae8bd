package profit

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

var (
	wethAddr  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	cbethAddr = common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22")
)

// fakeTokens is an in-memory TokenInfo.
type fakeTokens map[common.Address]domain.Token

func (f fakeTokens) Get(a common.Address) (domain.Token, bool) {
	t, ok := f[a]
	return t, ok
}

func (f fakeTokens) PriceUSD(_ context.Context, a common.Address) float64 {
	return f[a].PriceUSD
}

type flatVol float64

func (v flatVol) StdReturns(common.Address) float64 { return float64(v) }

func testTokens() fakeTokens {
	return fakeTokens{
		wethAddr:  {Address: wethAddr, Symbol: "WETH", Decimals: 18, IsBase: true, PriceUSD: 1825},
		usdcAddr:  {Address: usdcAddr, Symbol: "USDC", Decimals: 6, IsStable: true, PriceUSD: 1},
		cbethAddr: {Address: cbethAddr, Symbol: "cbETH", Decimals: 18, PriceUSD: 3042},
	}
}

// triangularFixture is the happy-path cycle: 1.0 WETH out and 1.01 WETH
// back through USDC and cbETH.
func triangularFixture() *domain.Opportunity {
	in := big.NewInt(1e18)
	out := big.NewInt(1_010_000_000_000_000_000) // 1.01 WETH
	return &domain.Opportunity{
		ID:          "fixture",
		Kind:        domain.OpportunityTriangular,
		AmountIn:    in,
		ExpectedOut: out,
		Deadline:    time.Now().Add(time.Minute),
		Hops: []domain.Hop{
			{FromToken: wethAddr, ToToken: usdcAddr, AmountIn: in, Source: "uniswap_v3", GasEstimate: 140_000, LiquidityUSD: 5_000_000},
			{FromToken: usdcAddr, ToToken: cbethAddr, AmountIn: big.NewInt(1825e6), Source: "odos", GasEstimate: 200_000, LiquidityUSD: 2_000_000},
			{FromToken: cbethAddr, ToToken: wethAddr, AmountIn: big.NewInt(6e17), Source: "uniswap_v3", GasEstimate: 140_000, LiquidityUSD: 5_000_000},
		},
	}
}

func newTestAccountant(thresholdUSD float64) *Accountant {
	return NewAccountant(testTokens(), flatVol(0.001), wethAddr, 5, thresholdUSD, slog.Default())
}

func TestEvaluateHappyPathTriangular(t *testing.T) {
	acct := newTestAccountant(1.0)
	o := triangularFixture()

	// 0.05 gwei gas price keeps L2 gas costs in cents.
	b, err := acct.Evaluate(context.Background(), o, big.NewInt(50_000_000), 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Gross: 0.01 WETH at $1825 = $18.25.
	if b.GrossProfitUSD < 18.2 || b.GrossProfitUSD > 18.3 {
		t.Fatalf("gross %.4f, want ≈18.25", b.GrossProfitUSD)
	}
	// Flash premium: 1 WETH · 5bps = 0.0005 WETH ≈ $0.91.
	if b.FlashLoanCostUSD < 0.9 || b.FlashLoanCostUSD > 0.93 {
		t.Fatalf("flash fee %.4f, want ≈0.91", b.FlashLoanCostUSD)
	}
	if b.GasCostUSD <= 0 || b.GasCostUSD > 0.5 {
		t.Fatalf("gas cost %.4f out of expected band", b.GasCostUSD)
	}
	if b.SlippageBufferUSD <= 0 {
		t.Fatal("slippage buffer must be positive")
	}
	if b.NetProfitUSD < 1.0 {
		t.Fatalf("net %.4f, want ≥ 1", b.NetProfitUSD)
	}
	if !b.MeetsThreshold {
		t.Fatal("happy path must meet threshold")
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	acct := newTestAccountant(50.0)
	o := triangularFixture()
	b, err := acct.Evaluate(context.Background(), o, big.NewInt(50_000_000), 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if b.MeetsThreshold {
		t.Fatalf("net %.2f cannot meet a $50 threshold", b.NetProfitUSD)
	}
}

func TestEvaluateUsesSimulatedGas(t *testing.T) {
	acct := newTestAccountant(1.0)
	o := triangularFixture()
	ctx := context.Background()
	gasPrice := big.NewInt(50_000_000)

	estimated, err := acct.Evaluate(ctx, o, gasPrice, 0)
	if err != nil {
		t.Fatal(err)
	}
	simulated, err := acct.Evaluate(ctx, o, gasPrice, 100_000)
	if err != nil {
		t.Fatal(err)
	}
	if simulated.GasCostUSD >= estimated.GasCostUSD {
		t.Fatalf("simulated gas (100k) should undercut the additive estimate: %.4f vs %.4f",
			simulated.GasCostUSD, estimated.GasCostUSD)
	}
	// The 1.5 safety buffer applies either way.
	if simulated.GasLimit != 150_000 {
		t.Fatalf("gas limit %d, want 150000", simulated.GasLimit)
	}
}

func TestEvaluateUnknownAsset(t *testing.T) {
	acct := newTestAccountant(1.0)
	o := triangularFixture()
	o.Hops[0].FromToken = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if _, err := acct.Evaluate(context.Background(), o, big.NewInt(50_000_000), 0); err == nil {
		t.Fatal("unknown flash asset accepted")
	}
}

func TestMinProfitUnits(t *testing.T) {
	acct := newTestAccountant(1.0)
	o := triangularFixture()
	ctx := context.Background()

	// Without a breakdown the floor cannot be derived.
	if _, err := acct.MinProfitUnits(ctx, o); err == nil {
		t.Fatal("missing breakdown accepted")
	}

	b, err := acct.Evaluate(ctx, o, big.NewInt(50_000_000), 0)
	if err != nil {
		t.Fatal(err)
	}
	o.Breakdown = b

	units, err := acct.MinProfitUnits(ctx, o)
	if err != nil {
		t.Fatalf("min profit units: %v", err)
	}
	if units.Sign() <= 0 {
		t.Fatal("floor must be positive")
	}

	// The floor is the net profit converted at the WETH price.
	weth, _ := testTokens().Get(wethAddr)
	want := weth.ToUnits(b.NetProfitUSD / 1825)
	if units.Cmp(want) != 0 {
		t.Fatalf("floor %s units, want %s", units, want)
	}
	// Sanity: the floor never exceeds the expected gross in units.
	gross := new(big.Int).Sub(o.ExpectedOut, o.AmountIn)
	if units.Cmp(gross) >= 0 {
		t.Fatalf("floor %s at or above gross %s", units, gross)
	}
}

func TestMinProfitUnitsFloorsAtThreshold(t *testing.T) {
	// A high threshold dominates a small net profit.
	acct := newTestAccountant(40.0)
	o := triangularFixture()
	ctx := context.Background()

	b, err := acct.Evaluate(ctx, o, big.NewInt(50_000_000), 0)
	if err != nil {
		t.Fatal(err)
	}
	o.Breakdown = b
	if b.NetProfitUSD >= 40 {
		t.Fatalf("fixture net %f too high for this test", b.NetProfitUSD)
	}

	units, err := acct.MinProfitUnits(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	weth, _ := testTokens().Get(wethAddr)
	want := weth.ToUnits(40.0 / 1825)
	if units.Cmp(want) != 0 {
		t.Fatalf("floor %s units, want threshold-derived %s", units, want)
	}
}

func TestEvaluateGasScalesWithPrice(t *testing.T) {
	acct := newTestAccountant(1.0)
	o := triangularFixture()
	ctx := context.Background()

	cheap, _ := acct.Evaluate(ctx, o, big.NewInt(50_000_000), 0)
	dear, _ := acct.Evaluate(ctx, o, big.NewInt(500_000_000), 0)
	if dear.GasCostUSD <= cheap.GasCostUSD {
		t.Fatal("gas cost must scale with the gas price")
	}
	if dear.NetProfitUSD >= cheap.NetProfitUSD {
		t.Fatal("net profit must shrink as gas rises")
	}
}
