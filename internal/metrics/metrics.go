// Package metrics keeps the engine's counters, gauges, and histograms and
// periodically renders them to a plain-text file at a well-known path.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// histogram keeps a bounded reservoir of observations plus running
// aggregates, enough for count/avg/p50/p95 lines in the export.
type histogram struct {
	samples []float64
	count   uint64
	sum     float64
	max     int
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	if len(h.samples) >= h.max {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, v)
}

func (h *histogram) percentile(p float64) float64 {
	if len(h.samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Registry is the engine-wide metrics store. All methods are safe for
// concurrent use.
type Registry struct {
	mu sync.Mutex

	counters   map[string]uint64
	gauges     map[string]float64
	histograms map[string]*histogram

	// Profit windows roll over on day/hour boundaries.
	dayStart    time.Time
	hourStart   time.Time
	dailyProfit float64
	hourlyProfit float64
	totalProfit float64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	now := time.Now().UTC()
	return &Registry{
		counters:   make(map[string]uint64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
		dayStart:   now.Truncate(24 * time.Hour),
		hourStart:  now.Truncate(time.Hour),
	}
}

// Inc increments a counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments a counter by n.
func (r *Registry) Add(name string, n uint64) {
	r.mu.Lock()
	r.counters[name] += n
	r.mu.Unlock()
}

// SetGauge records the latest value of a gauge.
func (r *Registry) SetGauge(name string, v float64) {
	r.mu.Lock()
	r.gauges[name] = v
	r.mu.Unlock()
}

// Observe records one histogram observation.
func (r *Registry) Observe(name string, v float64) {
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h = &histogram{max: 512}
		r.histograms[name] = h
	}
	h.observe(v)
	r.mu.Unlock()
}

// RecordProfit adds an executed opportunity's net profit to the rolling
// profit windows.
func (r *Registry) RecordProfit(usd float64) {
	r.mu.Lock()
	r.rolloverLocked(time.Now().UTC())
	r.totalProfit += usd
	r.dailyProfit += usd
	r.hourlyProfit += usd
	r.mu.Unlock()
}

func (r *Registry) rolloverLocked(now time.Time) {
	if day := now.Truncate(24 * time.Hour); day.After(r.dayStart) {
		r.dayStart = day
		r.dailyProfit = 0
	}
	if hour := now.Truncate(time.Hour); hour.After(r.hourStart) {
		r.hourStart = hour
		r.hourlyProfit = 0
	}
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Gauge returns the current value of a gauge.
func (r *Registry) Gauge(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name]
}

// ProfitTotals returns (total, daily, hourly) profit in USD.
func (r *Registry) ProfitTotals() (float64, float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked(time.Now().UTC())
	return r.totalProfit, r.dailyProfit, r.hourlyProfit
}

// RPCRequest implements the transport Recorder.
func (r *Registry) RPCRequest() { r.Inc("rpc_requests_total") }

// RPCError implements the transport Recorder.
func (r *Registry) RPCError() { r.Inc("rpc_errors_total") }

// Render produces the text surface: one "name value" line per counter and
// gauge, plus count/avg/p50/p95 lines per histogram, sorted by key.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked(time.Now().UTC())

	lines := make([]string, 0, len(r.counters)+len(r.gauges)+4*len(r.histograms)+3)
	for name, v := range r.counters {
		lines = append(lines, fmt.Sprintf("%s %d", name, v))
	}
	for name, v := range r.gauges {
		lines = append(lines, fmt.Sprintf("%s %.6f", name, v))
	}
	lines = append(lines,
		fmt.Sprintf("total_profit_usd %.2f", r.totalProfit),
		fmt.Sprintf("daily_profit_usd %.2f", r.dailyProfit),
		fmt.Sprintf("hourly_profit_usd %.2f", r.hourlyProfit),
	)
	for name, h := range r.histograms {
		avg := 0.0
		if h.count > 0 {
			avg = h.sum / float64(h.count)
		}
		lines = append(lines,
			fmt.Sprintf("%s_count %d", name, h.count),
			fmt.Sprintf("%s_avg %.3f", name, avg),
			fmt.Sprintf("%s_p50 %.3f", name, h.percentile(0.50)),
			fmt.Sprintf("%s_p95 %.3f", name, h.percentile(0.95)),
		)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

// Exporter writes the registry to a file on an interval.
type Exporter struct {
	reg      *Registry
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewExporter creates an Exporter for the given registry and path.
func NewExporter(reg *Registry, path string, interval time.Duration, logger *slog.Logger) *Exporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Exporter{
		reg:      reg,
		path:     path,
		interval: interval,
		logger:   logger.With(slog.String("component", "metrics_exporter")),
	}
}

// Run exports on the interval until ctx is done, writing a final snapshot on
// shutdown.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.export()
			return ctx.Err()
		case <-ticker.C:
			e.export()
		}
	}
}

func (e *Exporter) export() {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		e.logger.Warn("metrics dir", slog.String("error", err.Error()))
		return
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(e.reg.Render()), 0o644); err != nil {
		e.logger.Warn("metrics write", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, e.path); err != nil {
		e.logger.Warn("metrics rename", slog.String("error", err.Error()))
	}
}
