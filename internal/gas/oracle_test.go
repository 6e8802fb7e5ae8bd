package gas

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/kitefin/arbot/internal/domain"
)

func testOracle(maxGwei float64) *Oracle {
	return NewOracle(nil, maxGwei, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOptimalParamsFallbackTip(t *testing.T) {
	o := testOracle(2.0)
	p := o.OptimalParams(domain.ComplexitySimple, domain.UrgencyLow)

	// No samples yet: tip falls back to 1.5 gwei at 1.0×1.0 scaling.
	want := big.NewInt(1_500_000_000)
	if p.MaxPriorityFeePerGas.Cmp(want) != 0 {
		t.Fatalf("tip %s, want %s", p.MaxPriorityFeePerGas, want)
	}
	if p.GasLimit != uint64(float64(21_000+50_000)*1.3) {
		t.Fatalf("gas limit %d", p.GasLimit)
	}
}

func TestOptimalParamsScaling(t *testing.T) {
	o := testOracle(100)
	low := o.OptimalParams(domain.ComplexitySimple, domain.UrgencyLow)
	urgent := o.OptimalParams(domain.ComplexityFlashLoan, domain.UrgencyUrgent)

	if urgent.MaxPriorityFeePerGas.Cmp(low.MaxPriorityFeePerGas) <= 0 {
		t.Fatal("urgent flash-loan tip must exceed the low/simple tip")
	}
	// 1.5 gwei × 1.5 urgency × 1.15 complexity ≈ 2.5875 gwei, allowing a
	// wei of float truncation.
	want := big.NewInt(2_587_500_000)
	diff := new(big.Int).Sub(urgent.MaxPriorityFeePerGas, want)
	if diff.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("tip %s, want ≈%s", urgent.MaxPriorityFeePerGas, want)
	}
	if urgent.GasLimit <= low.GasLimit {
		t.Fatal("flash-loan gas limit must exceed simple limit")
	}
}

func TestOptimalParamsClampsToCeiling(t *testing.T) {
	o := testOracle(0.5)
	o.mu.Lock()
	o.baseFees = append(o.baseFees, big.NewInt(10_000_000_000)) // 10 gwei base
	o.mu.Unlock()

	p := o.OptimalParams(domain.ComplexityFlashLoan, domain.UrgencyUrgent)
	ceiling := big.NewInt(500_000_000) // 0.5 gwei
	if p.MaxFeePerGas.Cmp(ceiling) > 0 {
		t.Fatalf("maxFeePerGas %s exceeds ceiling %s", p.MaxFeePerGas, ceiling)
	}
	if p.MaxPriorityFeePerGas.Cmp(p.MaxFeePerGas) > 0 {
		t.Fatal("tip exceeds maxFeePerGas after clamping")
	}
}

func TestShouldWaitOnGasShare(t *testing.T) {
	o := testOracle(2.0)
	// Gas at 40% of expected profit.
	w := o.ShouldWait(0.4, 1.0)
	if !w.Wait {
		t.Fatal("40% gas share must wait")
	}
	if w.Reason != "Gas cost > 30% of profit" {
		t.Fatalf("reason %q", w.Reason)
	}

	if w := o.ShouldWait(0.2, 1.0); w.Wait {
		t.Fatalf("20%% gas share should not wait: %s", w.Reason)
	}
}

func TestShouldWaitOnFallingBaseFee(t *testing.T) {
	o := testOracle(2.0)
	o.mu.Lock()
	// Base fee dropping 10% per block over ten samples.
	fee := 1_000_000_000.0
	for i := 0; i < 10; i++ {
		o.baseFees = append(o.baseFees, big.NewInt(int64(fee)))
		fee *= 0.90
	}
	o.mu.Unlock()

	w := o.ShouldWait(0, 0)
	if !w.Wait {
		t.Fatal("steeply falling base fee must wait")
	}
}

func TestShouldWaitOnCongestion(t *testing.T) {
	o := testOracle(2.0)
	o.mu.Lock()
	o.utilization = append(o.utilization, 0.95)
	o.mu.Unlock()

	if w := o.ShouldWait(0, 0); !w.Wait {
		t.Fatal("over-full blocks must wait")
	}
}

func TestTipPercentile(t *testing.T) {
	o := testOracle(2.0)
	o.mu.Lock()
	for _, g := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		o.tips = append(o.tips, big.NewInt(g*1_000_000_000))
	}
	o.mu.Unlock()

	p60 := o.tipPercentile(0.60)
	if p60.Cmp(big.NewInt(7_000_000_000)) != 0 {
		t.Fatalf("p60 = %s, want 7 gwei", p60)
	}
}
