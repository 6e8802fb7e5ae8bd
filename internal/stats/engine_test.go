package stats

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

var (
	tokA = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	tokB = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

func testEngine(window int) (*Engine, *Sampler) {
	logger := slog.Default()
	sampler := NewSampler(nil, window, time.Minute, logger)
	eng := NewEngine(Config{
		WindowSize:     window,
		EntryThreshold: 2.0,
		ExitThreshold:  0.5,
		Lookback:       500,
	}, sampler, nil, nil, logger)
	return eng, sampler
}

// seedRatio fills both rings so that priceA/priceB history has the given
// mean and standard deviation, with the last sample producing ratio last.
func seedRatio(s *Sampler, n int, mu, sigma, last float64) {
	ts := time.Now().Add(-time.Duration(n) * 30 * time.Second)
	for i := 0; i < n-1; i++ {
		// Alternate mu±sigma around the mean; sample stddev ≈ sigma.
		r := mu + sigma
		if i%2 == 1 {
			r = mu - sigma
		}
		s.Record(tokA, r, ts)
		s.Record(tokB, 1.0, ts)
		ts = ts.Add(30 * time.Second)
	}
	s.Record(tokA, last, ts)
	s.Record(tokB, 1.0, ts)
}

func TestSignalShortALongB(t *testing.T) {
	eng, sampler := testEngine(100)
	pair := domain.Pair{
		TokenA: tokA, TokenB: tokB, Kind: domain.PairBaseBase,
		Coint: &domain.Cointegration{Cointegrated: true, HurstExponent: 0.35, HalfLife: 20},
	}
	seedRatio(sampler, 100, 2.0, 0.05, 2.12)

	sig, err := eng.Signal(context.Background(), pair)
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if sig.Direction != domain.SignalShortALongB {
		t.Fatalf("direction %s, want SHORT_A_LONG_B (z=%.3f)", sig.Direction, sig.ZScore)
	}
	if sig.ZScore < 2.0 {
		t.Fatalf("z %.3f should exceed entry threshold", sig.ZScore)
	}
	// Confidence = min(|z|/4,1) × 1.2 for strong mean reversion.
	wantConf := math.Min(sig.ZScore/4, 1) * 1.2
	if math.Abs(sig.Confidence-math.Min(wantConf, 1)) > 1e-9 {
		t.Fatalf("confidence %.4f, want %.4f", sig.Confidence, wantConf)
	}
}

func TestSignalDeterministic(t *testing.T) {
	eng, sampler := testEngine(100)
	pair := domain.Pair{TokenA: tokA, TokenB: tokB}
	seedRatio(sampler, 100, 1.5, 0.02, 1.53)

	s1 := eng.computeSignal(pair)
	s2 := eng.computeSignal(pair)
	if s1 == nil || s2 == nil {
		t.Fatal("signal missing")
	}
	if s1.ZScore != s2.ZScore || s1.Mean != s2.Mean || s1.StdDev != s2.StdDev {
		t.Fatalf("recomputation diverged: %v vs %v", s1, s2)
	}
}

func TestSignalHoldOnZeroStdDev(t *testing.T) {
	eng, sampler := testEngine(100)
	pair := domain.Pair{TokenA: tokA, TokenB: tokB}
	ts := time.Now()
	for i := 0; i < 100; i++ {
		sampler.Record(tokA, 3.0, ts)
		sampler.Record(tokB, 1.0, ts)
		ts = ts.Add(30 * time.Second)
	}

	sig := eng.computeSignal(pair)
	if sig == nil {
		t.Fatal("signal missing")
	}
	if sig.Direction != domain.SignalHold {
		t.Fatalf("constant ratio must HOLD, got %s", sig.Direction)
	}
	if sig.ZScore != 0 {
		t.Fatalf("z must stay zero on zero sigma, got %f", sig.ZScore)
	}
}

func TestSignalRequiresMinimumSamples(t *testing.T) {
	eng, sampler := testEngine(100)
	pair := domain.Pair{TokenA: tokA, TokenB: tokB}
	seedRatio(sampler, 50, 2.0, 0.05, 2.2) // below 0.7·window

	if sig := eng.computeSignal(pair); sig != nil {
		t.Fatalf("expected no signal on short history, got %+v", sig)
	}
}

func TestSignalClosePosition(t *testing.T) {
	eng, sampler := testEngine(100)
	pair := domain.Pair{TokenA: tokA, TokenB: tokB}
	seedRatio(sampler, 100, 2.0, 0.05, 2.01) // |z| ≈ 0.2 < exit 0.5

	sig := eng.computeSignal(pair)
	if sig == nil {
		t.Fatal("signal missing")
	}
	if sig.Direction != domain.SignalClosePosition {
		t.Fatalf("direction %s, want CLOSE_POSITION (z=%.3f)", sig.Direction, sig.ZScore)
	}
}

func TestRingTruncation(t *testing.T) {
	_, sampler := testEngine(100)
	ts := time.Now()
	for i := 0; i < 200; i++ {
		sampler.Record(tokA, float64(i), ts)
		ts = ts.Add(time.Second)
	}
	got := len(sampler.Prices(tokA))
	// Capacity is 1.5× the window; overflow truncates back to the window.
	if got > 150 {
		t.Fatalf("ring exceeded capacity: %d samples", got)
	}
	prices := sampler.Prices(tokA)
	if prices[len(prices)-1] != 199 {
		t.Fatalf("newest sample lost, last=%f", prices[len(prices)-1])
	}
}

func TestBuildUniverseDedup(t *testing.T) {
	eng, _ := testEngine(100)
	bases := []domain.Token{
		{Address: tokA, Symbol: "WETH", IsBase: true},
		{Address: tokB, Symbol: "USDC", IsBase: true},
	}
	alts := []domain.Token{
		{Address: common.HexToAddress("0x0000000000000000000000000000000000000c03"), Symbol: "ALT"},
	}
	eng.BuildUniverse(bases, alts)
	// 1 base-base pair + 2 anchors × 1 alt.
	if len(eng.Pairs()) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(eng.Pairs()))
	}

	// Rebuilding with the same inputs must not duplicate.
	eng.BuildUniverse(bases, alts)
	if len(eng.Pairs()) != 3 {
		t.Fatalf("universe rebuilt with duplicates: %d", len(eng.Pairs()))
	}
}

func TestStdReturns(t *testing.T) {
	_, sampler := testEngine(100)
	ts := time.Now()
	for _, p := range []float64{100, 101, 100, 101, 100} {
		sampler.Record(tokA, p, ts)
		ts = ts.Add(time.Second)
	}
	if sampler.StdReturns(tokA) <= 0 {
		t.Fatal("alternating prices must have positive return volatility")
	}
	if sampler.StdReturns(tokB) != 0 {
		t.Fatal("unknown token must report zero volatility")
	}
}
