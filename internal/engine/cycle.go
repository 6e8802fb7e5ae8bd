package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// borderlineScale requires extra headroom when a candidate barely clears
// the profit threshold.
const borderlineScale = 1.5

// cycle runs one pass of the scan/evaluate/execute protocol. A nil return
// means the cycle completed, whether or not anything was executed.
func (e *Engine) cycle(ctx context.Context) error {
	cycleStart := time.Now()
	defer func() {
		e.reg.Observe("scan_cycle_time_ms", float64(time.Since(cycleStart).Milliseconds()))
		e.reg.SetGauge("gas_price_gwei", e.oracle.CurrentGwei())
	}()

	// 1. Gas gate: skip the whole cycle while fees are hostile.
	if wait := e.oracle.ShouldWait(0, 0); wait.Wait {
		e.logger.Info("waiting for better gas", slog.String("reason", wait.Reason))
		sleep := time.Duration(wait.WaitBlocks) * 2 * time.Second
		if sleep > 20*time.Second {
			sleep = 20 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		return nil
	}

	// 2. Scan.
	candidates := e.scan.Scan(ctx)
	e.reg.Add("opportunities_scanned_total", uint64(len(candidates)))
	if len(candidates) == 0 {
		return nil
	}

	// 3. Rank by net profit and keep the top candidates. Candidates the
	// accountant cannot price sort last.
	rankGas := e.oracle.OptimalParams(domain.ComplexityFlashLoan, domain.UrgencyHigh)
	net := make(map[*domain.Opportunity]float64, len(candidates))
	for _, o := range candidates {
		net[o] = math.Inf(-1)
		if b, err := e.acct.Evaluate(ctx, o, rankGas.MaxFeePerGas, 0); err == nil {
			net[o] = b.NetProfitUSD
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return net[candidates[i]] > net[candidates[j]] })
	if len(candidates) > e.cfg.CandidatesPerCycle {
		candidates = candidates[:e.cfg.CandidatesPerCycle]
	}

	// 4-6. Evaluate and execute the first passing candidate.
	for _, o := range candidates {
		ok, err := e.evaluate(ctx, o)
		if err != nil {
			return err // cycle error (broadcast/confirmation class)
		}
		if ok {
			break
		}
	}
	return nil
}

// evaluate runs one candidate through the full gate sequence and executes
// it when everything passes. The bool reports whether execution happened;
// the error is non-nil only for cycle-level failures.
func (e *Engine) evaluate(ctx context.Context, o *domain.Opportunity) (bool, error) {
	// Shape validation, including the stale-deadline rejection.
	if err := o.Validate(time.Now()); err != nil {
		e.missed(ctx, o, "invalid shape: "+err.Error())
		return false, nil
	}

	gasParams := e.oracle.OptimalParams(domain.ComplexityFlashLoan, domain.UrgencyHigh)

	// Accountant.
	breakdown, err := e.acct.Evaluate(ctx, o, gasParams.MaxFeePerGas, 0)
	if err != nil {
		e.missed(ctx, o, "evaluation failed: "+err.Error())
		return false, nil
	}
	o.Breakdown = breakdown
	if !breakdown.MeetsThreshold {
		e.missed(ctx, o, fmt.Sprintf("net profit %.2f USD below threshold", breakdown.NetProfitUSD))
		return false, nil
	}

	// MEV guard.
	if verdict := e.guard.Check(o); !verdict.Safe {
		e.reg.Inc("mev_vetoes_total")
		e.missed(ctx, o, verdict.Reason)
		return false, nil
	}

	// Gas oracle, now with real profit numbers.
	if wait := e.oracle.ShouldWait(breakdown.GasCostUSD, breakdown.GrossProfitUSD); wait.Wait {
		e.missed(ctx, o, wait.Reason)
		return false, nil
	}

	// Simulation.
	simRes, err := e.sim.Simulate(ctx, o, gasParams.MaxFeePerGas, e.cfg.Contract, nil)
	if err != nil || !simRes.Success {
		reason := "simulation failed"
		if simRes != nil && simRes.Reason != "" {
			reason = "simulation failed: " + simRes.Reason
		} else if err != nil {
			reason = "simulation failed: " + err.Error()
		}
		e.missed(ctx, o, reason)
		return false, nil
	}

	// Borderline candidates need 1.5x the threshold to proceed.
	if breakdown.NetProfitUSD < borderlineScale*e.cfg.MinProfitUSD &&
		simRes.NetProfitUSD < borderlineScale*e.cfg.MinProfitUSD {
		e.missed(ctx, o, "borderline profit, demanding extra headroom")
		return false, nil
	}

	if e.cfg.TestMode {
		e.logger.Info("test mode: execution skipped",
			slog.String("id", o.ID),
			slog.Float64("net_usd", breakdown.NetProfitUSD),
		)
		return true, nil
	}

	return true, e.execute(ctx, o, gasParams)
}

// execute signs, broadcasts, and awaits one confirmation.
func (e *Engine) execute(ctx context.Context, o *domain.Opportunity, gasParams domain.GasParams) error {
	execStart := time.Now()
	gasParams.GasLimit = o.Breakdown.GasLimit

	// The on-chain minProfit floor: the breakdown's net profit converted
	// into the flash asset's smallest units.
	minProfit, err := e.acct.MinProfitUnits(ctx, o)
	if err != nil {
		return err
	}

	tx, err := e.builder.BuildArbitrage(o, gasParams, minProfit)
	if err != nil {
		return err
	}

	hash, err := e.builder.Broadcast(ctx, tx)
	if err != nil {
		if domain.KindOf(err) != domain.KindNonceMismatch {
			return err
		}
		// One retry after the builder resynced its counter.
		tx, err = e.builder.BuildArbitrage(o, gasParams, minProfit)
		if err != nil {
			return err
		}
		hash, err = e.builder.Broadcast(ctx, tx)
		if err != nil {
			return err
		}
	}

	e.tracker.Track(tx, o.ID)
	e.guard.RecordExecution(o)

	if _, err := e.tracker.WaitReceipt(ctx, hash, e.cfg.ConfirmTimeout); err != nil {
		return err
	}

	// Success bookkeeping.
	e.reg.Inc("opportunities_executed_total")
	e.reg.RecordProfit(o.Breakdown.NetProfitUSD)
	e.reg.Observe("opportunity_execution_time_ms", float64(time.Since(execStart).Milliseconds()))

	e.mu.Lock()
	e.lastExecution = time.Now()
	e.recentExecs++
	e.mu.Unlock()

	e.alerts.Success(ctx, "Arbitrage executed",
		fmt.Sprintf("%s opportunity confirmed", o.Kind),
		map[string]string{
			"tx":           hash.Hex(),
			"net_usd":      fmt.Sprintf("%.2f", o.Breakdown.NetProfitUSD),
			"gas_cost_usd": fmt.Sprintf("%.2f", o.Breakdown.GasCostUSD),
			"hops":         fmt.Sprintf("%d", len(o.Hops)),
		})

	e.logger.Info("opportunity executed",
		slog.String("id", o.ID),
		slog.String("tx", hash.Hex()),
		slog.Float64("net_usd", o.Breakdown.NetProfitUSD),
	)
	return nil
}

// missed records a vetoed opportunity and emits the warning alert.
func (e *Engine) missed(ctx context.Context, o *domain.Opportunity, reason string) {
	e.reg.Inc("opportunities_missed_total")
	e.logger.Info("opportunity missed",
		slog.String("id", o.ID),
		slog.String("kind", o.Kind.String()),
		slog.String("reason", reason),
	)
	e.alerts.Warning(ctx, "OpportunityMissed", reason, map[string]string{
		"kind": o.Kind.String(),
		"id":   o.ID,
	})
}
