package mev

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// GasReader exposes the current network gas price in gwei; implemented by
// the gas oracle.
type GasReader interface {
	CurrentGwei() float64
}

// Guard retains a sliding window of classified pending transactions and
// runs the four execution vetoes against candidate opportunities.
type Guard struct {
	cfg    GuardConfig
	gas    GasReader
	logger *slog.Logger

	mu     sync.Mutex
	window []*domain.PendingObservation

	// executed tracks recently executed paths for the timing veto.
	executed map[string]time.Time

	// blockTimes feeds the average-block-time check.
	blockTimes []time.Duration
}

// GuardConfig holds the guard thresholds.
type GuardConfig struct {
	MaxGasPriceGwei float64
	// Window bounds how long observations stay relevant.
	Window time.Duration
}

// NewGuard creates a Guard. Observations must be fed via Ingest (usually by
// draining an Observer's channel).
func NewGuard(cfg GuardConfig, gas GasReader, logger *slog.Logger) *Guard {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &Guard{
		cfg:      cfg,
		gas:      gas,
		logger:   logger.With(slog.String("component", "mev_guard")),
		executed: make(map[string]time.Time),
	}
}

// Ingest appends one observation to the sliding window.
func (g *Guard) Ingest(obs *domain.PendingObservation) {
	g.mu.Lock()
	g.window = append(g.window, obs)
	g.pruneLocked(time.Now())
	g.mu.Unlock()
}

// Drain consumes an observation stream until ctx is done, pruning the
// window on a timer even when the stream is quiet.
func (g *Guard) Drain(ctx context.Context, obs <-chan *domain.PendingObservation) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-obs:
			if !ok {
				return nil
			}
			g.Ingest(o)
		case <-ticker.C:
			g.mu.Lock()
			g.pruneLocked(time.Now())
			g.mu.Unlock()
		}
	}
}

func (g *Guard) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	keep := g.window[:0]
	for _, o := range g.window {
		if o.SeenAt.After(cutoff) {
			keep = append(keep, o)
		}
	}
	g.window = keep
	for key, at := range g.executed {
		if now.Sub(at) > 5*time.Minute {
			delete(g.executed, key)
		}
	}
}

// RecordExecution marks an opportunity's path as recently executed for the
// timing veto.
func (g *Guard) RecordExecution(o *domain.Opportunity) {
	g.mu.Lock()
	g.executed[pathKey(o)] = time.Now()
	g.mu.Unlock()
}

// RecordBlockTime feeds one block interval observation.
func (g *Guard) RecordBlockTime(d time.Duration) {
	g.mu.Lock()
	g.blockTimes = append(g.blockTimes, d)
	if len(g.blockTimes) > 20 {
		g.blockTimes = g.blockTimes[1:]
	}
	g.mu.Unlock()
}

func pathKey(o *domain.Opportunity) string {
	parts := make([]string, 0, len(o.Hops)+1)
	for _, h := range o.Hops {
		parts = append(parts, strings.ToLower(h.FromToken.Hex()))
	}
	return strings.Join(parts, ">")
}

// Check runs the four vetoes; the first unsafe verdict blocks the
// opportunity.
func (g *Guard) Check(o *domain.Opportunity) domain.GuardVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	g.pruneLocked(now)

	if v := g.competitionVeto(o); !v.Safe {
		return v
	}
	if v := g.gasSafetyVeto(); !v.Safe {
		return v
	}
	if v := g.sandwichVeto(o); !v.Safe {
		return v
	}
	if v := g.timingVeto(o, now); !v.Safe {
		return v
	}
	return domain.GuardVerdict{Safe: true}
}

// competitionVeto blocks when the mempool is crowded with arbitrage-like
// transactions or a recent pending transaction touches the same path.
func (g *Guard) competitionVeto(o *domain.Opportunity) domain.GuardVerdict {
	pathTokens := make(map[common.Address]bool)
	for _, t := range o.Tokens() {
		pathTokens[t] = true
	}

	arbCount := 0
	for _, obs := range g.window {
		if obs.Pattern == domain.MEVArbitrage {
			arbCount++
		}
		for _, t := range obs.PathTokens {
			if pathTokens[t] {
				return domain.GuardVerdict{Safe: false,
					Reason: "Competing transaction on overlapping path in mempool"}
			}
		}
	}
	if arbCount > 3 {
		return domain.GuardVerdict{Safe: false,
			Reason: fmt.Sprintf("High arbitrage competition: %d pending arbitrage transactions", arbCount)}
	}
	return domain.GuardVerdict{Safe: true}
}

// gasSafetyVeto blocks when the network price is over the ceiling or too
// many pending transactions are outbidding the current price.
func (g *Guard) gasSafetyVeto() domain.GuardVerdict {
	current := g.gas.CurrentGwei()
	if current > g.cfg.MaxGasPriceGwei {
		return domain.GuardVerdict{Safe: false,
			Reason: fmt.Sprintf("Network gas %.2f gwei above limit %.2f", current, g.cfg.MaxGasPriceGwei)}
	}

	threshold := new(big.Float).Mul(big.NewFloat(current*1.2), big.NewFloat(1e9))
	outbidding := 0
	for _, obs := range g.window {
		if obs.GasFeeCap == nil {
			continue
		}
		if new(big.Float).SetInt(obs.GasFeeCap).Cmp(threshold) > 0 {
			outbidding++
		}
	}
	if outbidding > 5 {
		return domain.GuardVerdict{Safe: false,
			Reason: fmt.Sprintf("Gas war in progress: %d transactions above 1.2x current price", outbidding)}
	}
	return domain.GuardVerdict{Safe: true}
}

// sandwichVeto blocks when the window holds at least two pending swaps with
// the same selector whose average fee cap exceeds 100 gwei. Swaps are
// grouped by selector across every router; the first hop's router is not
// singled out.
func (g *Guard) sandwichVeto(o *domain.Opportunity) domain.GuardVerdict {
	if len(o.Hops) == 0 {
		return domain.GuardVerdict{Safe: true}
	}

	// Group same-selector swaps in the window and look for a cluster with
	// aggressive average gas.
	type cluster struct {
		count int
		gas   *big.Int
	}
	clusters := make(map[[4]byte]*cluster)
	for _, obs := range g.window {
		if !isSwapSelector(obs.Selector) {
			continue
		}
		c, ok := clusters[obs.Selector]
		if !ok {
			c = &cluster{gas: new(big.Int)}
			clusters[obs.Selector] = c
		}
		c.count++
		if obs.GasFeeCap != nil {
			c.gas.Add(c.gas, obs.GasFeeCap)
		}
	}

	hundredGwei := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e9))
	for _, c := range clusters {
		if c.count < 2 {
			continue
		}
		avg := new(big.Int).Div(c.gas, big.NewInt(int64(c.count)))
		if avg.Cmp(hundredGwei) > 0 {
			return domain.GuardVerdict{Safe: false,
				Reason: "Potential sandwich attack detected on first hop"}
		}
	}
	return domain.GuardVerdict{Safe: true}
}

// timingVeto blocks repeats of a just-executed path and execution during
// abnormally fast block production.
func (g *Guard) timingVeto(o *domain.Opportunity, now time.Time) domain.GuardVerdict {
	if at, ok := g.executed[pathKey(o)]; ok && now.Sub(at) < 30*time.Second {
		return domain.GuardVerdict{Safe: false,
			Reason: "Similar opportunity executed less than 30s ago"}
	}

	if len(g.blockTimes) >= 5 {
		var sum time.Duration
		for _, d := range g.blockTimes {
			sum += d
		}
		avg := sum / time.Duration(len(g.blockTimes))
		if avg < 1500*time.Millisecond {
			return domain.GuardVerdict{Safe: false,
				Reason: fmt.Sprintf("Block time %.2fs too fast for safe inclusion", avg.Seconds())}
		}
	}
	return domain.GuardVerdict{Safe: true}
}

// BlockNumberReader reads the chain head; implemented by the transport
// pool.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RunBlockWatch polls the chain head and feeds observed block intervals to
// the timing veto.
func (g *Guard) RunBlockWatch(ctx context.Context, reader BlockNumberReader) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var (
		lastNumber uint64
		lastSeen   time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := reader.BlockNumber(ctx)
		if err != nil {
			continue
		}
		now := time.Now()
		if lastNumber != 0 && n > lastNumber {
			interval := now.Sub(lastSeen) / time.Duration(n-lastNumber)
			g.RecordBlockTime(interval)
		}
		if n != lastNumber {
			lastNumber = n
			lastSeen = now
		}
	}
}

// WindowSize returns the current observation count, for metrics.
func (g *Guard) WindowSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.window)
}

// LoadBlacklist fetches a newline-separated bot address list from url.
// Missing or failing lists degrade to an empty blacklist.
func LoadBlacklist(ctx context.Context, url string, logger *slog.Logger) []common.Address {
	if url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("blacklist fetch failed", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("blacklist fetch failed", slog.Int("status", resp.StatusCode))
		return nil
	}

	var out []common.Address
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "0x") || len(line) != 42 {
			continue
		}
		out = append(out, common.HexToAddress(line))
	}
	logger.Info("bot blacklist loaded", slog.Int("addresses", len(out)))
	return out
}
