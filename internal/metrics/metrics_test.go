package metrics

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCountersAndGauges(t *testing.T) {
	r := NewRegistry()
	r.Inc("opportunities_scanned_total")
	r.Add("opportunities_scanned_total", 4)
	r.SetGauge("gas_price_gwei", 0.42)

	if got := r.Counter("opportunities_scanned_total"); got != 5 {
		t.Fatalf("counter %d, want 5", got)
	}
	if got := r.Gauge("gas_price_gwei"); got != 0.42 {
		t.Fatalf("gauge %f", got)
	}
}

func TestProfitWindows(t *testing.T) {
	r := NewRegistry()
	r.RecordProfit(3.5)
	r.RecordProfit(1.5)

	total, daily, hourly := r.ProfitTotals()
	if total != 5 || daily != 5 || hourly != 5 {
		t.Fatalf("totals %f/%f/%f, want 5/5/5", total, daily, hourly)
	}

	// Force an hour rollover; hourly resets, total survives.
	r.mu.Lock()
	r.hourStart = r.hourStart.Add(-2 * time.Hour)
	r.mu.Unlock()
	total, _, hourly = r.ProfitTotals()
	if hourly != 0 {
		t.Fatalf("hourly %f after rollover, want 0", hourly)
	}
	if total != 5 {
		t.Fatalf("total %f lost on rollover", total)
	}
}

func TestRenderSurface(t *testing.T) {
	r := NewRegistry()
	r.Inc("rpc_requests_total")
	r.SetGauge("gas_price_gwei", 0.1)
	r.Observe("scan_cycle_time_ms", 120)
	r.Observe("scan_cycle_time_ms", 80)

	out := r.Render()
	for _, want := range []string{
		"rpc_requests_total 1",
		"gas_price_gwei 0.100000",
		"scan_cycle_time_ms_count 2",
		"scan_cycle_time_ms_avg 100.000",
		"total_profit_usd 0.00",
		"daily_profit_usd 0.00",
		"hourly_profit_usd 0.00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("render must end with newline")
	}
}

func TestHistogramPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.Observe("lat", float64(i))
	}
	h := r.histograms["lat"]
	if p := h.percentile(0.50); p != 50 {
		t.Fatalf("p50 %f", p)
	}
	if p := h.percentile(0.95); p != 95 {
		t.Fatalf("p95 %f", p)
	}
}

func TestHistogramBoundedReservoir(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 1000; i++ {
		r.Observe("lat", float64(i))
	}
	h := r.histograms["lat"]
	if len(h.samples) > 512 {
		t.Fatalf("reservoir grew to %d", len(h.samples))
	}
	if h.count != 1000 {
		t.Fatalf("count %d", h.count)
	}
}

func TestExporterWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.txt")
	r := NewRegistry()
	r.Inc("opportunities_executed_total")

	e := NewExporter(r, path, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.export()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	if !strings.Contains(string(raw), "opportunities_executed_total 1") {
		t.Fatalf("export content:\n%s", raw)
	}
}

func TestRPCRecorder(t *testing.T) {
	r := NewRegistry()
	r.RPCRequest()
	r.RPCRequest()
	r.RPCError()
	if r.Counter("rpc_requests_total") != 2 || r.Counter("rpc_errors_total") != 1 {
		t.Fatal("recorder counters wrong")
	}
}
