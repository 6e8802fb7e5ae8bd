// Package gas tracks network fee conditions and recommends EIP-1559
// parameters for arbitrage transactions.
package gas

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kitefin/arbot/internal/chain"
	"github.com/kitefin/arbot/internal/domain"
)

const (
	// historyLimit bounds the fee sample rings.
	historyLimit = 100
	// feeHistoryBlocks is how many recent blocks each sample covers.
	feeHistoryBlocks = 5
	// gasLimitBuffer scales the recommended gas limit.
	gasLimitBuffer = 1.3
	// fallbackTipGwei is used before any reward samples exist.
	fallbackTipGwei = 1.5
)

var gwei = big.NewInt(1_000_000_000)

// Oracle samples fee data every 15 seconds and answers fee questions from
// its bounded history.
type Oracle struct {
	pool            *chain.Pool
	maxGasPriceGwei float64
	logger          *slog.Logger

	mu          sync.RWMutex
	baseFees    []*big.Int
	tips        []*big.Int
	utilization []float64
	lastSample  time.Time
}

// NewOracle creates a gas Oracle over the transport pool.
func NewOracle(pool *chain.Pool, maxGasPriceGwei float64, logger *slog.Logger) *Oracle {
	return &Oracle{
		pool:            pool,
		maxGasPriceGwei: maxGasPriceGwei,
		logger:          logger.With(slog.String("component", "gas_oracle")),
	}
}

// Sample reads the latest fee data from the chain and appends it to the
// rings.
func (o *Oracle) Sample(ctx context.Context) error {
	var (
		baseFee *big.Int
		avgTip  *big.Int
		avgUtil float64
	)
	err := o.pool.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		hist, err := c.FeeHistory(ctx, feeHistoryBlocks, nil, []float64{25, 60, 90})
		if err != nil {
			return err
		}
		if len(hist.BaseFee) > 0 {
			baseFee = hist.BaseFee[len(hist.BaseFee)-1]
		}
		var utilSum float64
		for _, u := range hist.GasUsedRatio {
			utilSum += u
		}
		if len(hist.GasUsedRatio) > 0 {
			avgUtil = utilSum / float64(len(hist.GasUsedRatio))
		}
		// Average the 60th-percentile reward across the sampled blocks.
		tipSum := new(big.Int)
		count := 0
		for _, rewards := range hist.Reward {
			if len(rewards) > 1 && rewards[1] != nil {
				tipSum.Add(tipSum, rewards[1])
				count++
			}
		}
		if count > 0 {
			avgTip = tipSum.Div(tipSum, big.NewInt(int64(count)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if baseFee == nil {
		return domain.E(domain.KindTransportUnavailable, "fee history returned no base fee")
	}

	o.mu.Lock()
	o.baseFees = appendBounded(o.baseFees, baseFee)
	if avgTip != nil {
		o.tips = appendBounded(o.tips, avgTip)
	}
	o.utilization = append(o.utilization, avgUtil)
	if len(o.utilization) > historyLimit {
		o.utilization = o.utilization[1:]
	}
	o.lastSample = time.Now()
	o.mu.Unlock()
	return nil
}

func appendBounded(ring []*big.Int, v *big.Int) []*big.Int {
	ring = append(ring, new(big.Int).Set(v))
	if len(ring) > historyLimit {
		ring = ring[1:]
	}
	return ring
}

// Run samples on a 15-second cadence until ctx is done.
func (o *Oracle) Run(ctx context.Context) error {
	if err := o.Sample(ctx); err != nil {
		o.logger.Warn("initial gas sample failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Sample(ctx); err != nil {
				o.logger.Warn("gas sample failed", slog.String("error", err.Error()))
			}
		}
	}
}

// BaseFee returns the latest observed base fee, or nil before any sample.
func (o *Oracle) BaseFee() *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.baseFees) == 0 {
		return nil
	}
	return new(big.Int).Set(o.baseFees[len(o.baseFees)-1])
}

// CurrentGwei returns the latest base fee in gwei as a float, for display
// and guard thresholds.
func (o *Oracle) CurrentGwei() float64 {
	bf := o.BaseFee()
	if bf == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(bf), new(big.Float).SetInt(gwei)).Float64()
	return f
}

// tipPercentile returns the p-quantile over the recorded priority-fee
// samples, falling back to 1.5 gwei when no samples exist.
func (o *Oracle) tipPercentile(p float64) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.tips) == 0 {
		return gweiFloat(fallbackTipGwei)
	}
	sorted := make([]*big.Int, len(o.tips))
	copy(sorted, o.tips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return new(big.Int).Set(sorted[idx])
}

func gweiFloat(g float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(g), new(big.Float).SetInt(gwei))
	out, _ := f.Int(nil)
	return out
}

// OptimalParams recommends EIP-1559 parameters for the given transaction
// class. The priority fee is the 60th percentile of recent rewards scaled
// by urgency and complexity; maxFeePerGas is clamped to the configured
// ceiling.
func (o *Oracle) OptimalParams(complexity domain.TxComplexity, urgency domain.TxUrgency) domain.GasParams {
	tip := o.tipPercentile(0.60)
	scale := urgency.Multiplier() * complexity.Multiplier()
	tipF := new(big.Float).Mul(new(big.Float).SetInt(tip), big.NewFloat(scale))
	scaledTip, _ := tipF.Int(nil)

	baseFee := o.BaseFee()
	if baseFee == nil {
		baseFee = gweiFloat(0.05)
	}

	maxFee := new(big.Int).Add(baseFee, scaledTip)
	ceiling := gweiFloat(o.maxGasPriceGwei)
	if maxFee.Cmp(ceiling) > 0 {
		maxFee = ceiling
		if scaledTip.Cmp(maxFee) > 0 {
			scaledTip = new(big.Int).Set(maxFee)
		}
	}

	gasLimit := uint64(float64(21_000+complexity.Gas()) * gasLimitBuffer)

	return domain.GasParams{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: scaledTip,
		GasLimit:             gasLimit,
		BaseFee:              baseFee,
	}
}

// ShouldWait decides whether execution should pause for better gas. It
// waits when gas would eat more than 30% of expected profit, when the base
// fee is falling faster than 5% per block over the last ten samples, or
// when blocks are over 90% full.
func (o *Oracle) ShouldWait(gasCostUSD, expectedProfitUSD float64) domain.GasWait {
	if expectedProfitUSD > 0 && gasCostUSD/expectedProfitUSD > 0.30 {
		return domain.GasWait{Wait: true, Reason: "Gas cost > 30% of profit", WaitBlocks: 3}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if n := len(o.baseFees); n >= 10 {
		first, _ := new(big.Float).SetInt(o.baseFees[n-10]).Float64()
		last, _ := new(big.Float).SetInt(o.baseFees[n-1]).Float64()
		if first > 0 {
			perBlock := (first - last) / first / 9
			if perBlock > 0.05 {
				return domain.GasWait{Wait: true, Reason: "Base fee falling, waiting for floor", WaitBlocks: 5}
			}
		}
	}

	if n := len(o.utilization); n > 0 && o.utilization[n-1] > 0.9 {
		return domain.GasWait{Wait: true, Reason: "Network congested", WaitBlocks: 2}
	}

	return domain.GasWait{}
}
