// Package engine is the orchestrator: it owns the scan/evaluate/execute
// loop, the state machine, backoff, and shutdown behavior.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitefin/arbot/internal/alert"
	"github.com/kitefin/arbot/internal/domain"
	"github.com/kitefin/arbot/internal/gas"
	"github.com/kitefin/arbot/internal/metrics"
	"github.com/kitefin/arbot/internal/mev"
	"github.com/kitefin/arbot/internal/profit"
	"github.com/kitefin/arbot/internal/scanner"
	"github.com/kitefin/arbot/internal/txbuilder"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRunning
	StateBackoff
	StateStopping
	StateStopped
	StateEmergencyShutdown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateEmergencyShutdown:
		return "emergency_shutdown"
	default:
		return "uninitialized"
	}
}

// Config holds orchestrator loop knobs.
type Config struct {
	MaxConsecutiveErrors int
	CandidatesPerCycle   int
	ConfirmTimeout       time.Duration
	DrainTimeout         time.Duration
	MaxGasPriceGwei      float64
	MinProfitUSD         float64
	TestMode             bool
	Contract             string
}

// Engine runs the per-cycle protocol: gas gate, scan, evaluate, guard,
// simulate, execute.
type Engine struct {
	cfg     Config
	scan    *scanner.Scanner
	acct    *profit.Accountant
	sim     *profit.Simulator
	guard   *mev.Guard
	oracle  *gas.Oracle
	builder *txbuilder.Builder
	tracker *txbuilder.PendingTracker
	reg     *metrics.Registry
	alerts  *alert.Alerter
	logger  *slog.Logger

	state             atomic.Int32
	consecutiveErrors int
	emergency         atomic.Bool

	mu            sync.Mutex
	lastExecution time.Time
	recentExecs   int
}

// New creates the orchestrator.
func New(cfg Config, scan *scanner.Scanner, acct *profit.Accountant, sim *profit.Simulator,
	guard *mev.Guard, oracle *gas.Oracle, builder *txbuilder.Builder, tracker *txbuilder.PendingTracker,
	reg *metrics.Registry, alerts *alert.Alerter, logger *slog.Logger) *Engine {
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 10
	}
	if cfg.CandidatesPerCycle <= 0 {
		cfg.CandidatesPerCycle = 5
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		scan:    scan,
		acct:    acct,
		sim:     sim,
		guard:   guard,
		oracle:  oracle,
		builder: builder,
		tracker: tracker,
		reg:     reg,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "orchestrator")),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.logger.Info("state transition",
			slog.String("from", old.String()),
			slog.String("to", s.String()),
		)
	}
}

// EmergencyShutdown forces the terminal state from any other state.
func (e *Engine) EmergencyShutdown(ctx context.Context, reason string) {
	if e.emergency.Swap(true) {
		return
	}
	e.setState(StateEmergencyShutdown)
	e.alerts.Critical(ctx, "Emergency shutdown", reason, nil)
	e.logger.Error("emergency shutdown", slog.String("reason", reason))
}

// Run executes the state machine until ctx is done or an emergency stops
// it. Initialization must already be complete (nonce seeded, universe
// built) before Run is called; Run only flips the states.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(StateReady)
	e.setState(StateRunning)

	backoffExp := 0
	for {
		if ctx.Err() != nil {
			break
		}
		if e.emergency.Load() {
			return domain.E(domain.KindInternal, "engine in emergency shutdown")
		}

		err := e.cycle(ctx)
		if err != nil && ctx.Err() == nil {
			e.onCycleError(ctx, err)
			if e.emergency.Load() {
				return err
			}
			// Exponential backoff between failing cycles.
			e.setState(StateBackoff)
			wait := time.Duration(1<<uint(backoffExp)) * time.Second
			if wait > 30*time.Second {
				wait = 30 * time.Second
			}
			backoffExp++
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			e.setState(StateRunning)
			continue
		}
		if err == nil {
			backoffExp = 0
			e.consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.cycleSleep()):
		}
	}

	// Graceful stop: no new cycles, drain in-flight transactions.
	e.setState(StateStopping)
	drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	e.tracker.Drain(drainCtx, e.cfg.DrainTimeout)
	cancel()
	e.setState(StateStopped)
	return ctx.Err()
}

// onCycleError escalates through the alert ladder and trips the emergency
// stop at the configured ceiling.
func (e *Engine) onCycleError(ctx context.Context, err error) {
	e.consecutiveErrors++
	e.reg.Inc("opportunities_failed_total")
	e.logger.Error("cycle error",
		slog.Int("consecutive", e.consecutiveErrors),
		slog.String("error", err.Error()),
	)

	switch {
	case e.consecutiveErrors == 1:
		e.alerts.Error(ctx, "Cycle error", err.Error(), nil)
	case e.consecutiveErrors == e.cfg.MaxConsecutiveErrors-2:
		e.alerts.Critical(ctx, "Repeated cycle errors",
			fmt.Sprintf("%d consecutive errors, approaching shutdown threshold", e.consecutiveErrors), nil)
	case e.consecutiveErrors >= e.cfg.MaxConsecutiveErrors:
		e.EmergencyShutdown(ctx, fmt.Sprintf("%d consecutive cycle errors", e.consecutiveErrors))
	}
}

// cycleSleep adapts the inter-cycle pause to gas conditions and recent
// execution load, clamped to [1s, 30s].
func (e *Engine) cycleSleep() time.Duration {
	sleep := 2 * time.Second
	if e.oracle.CurrentGwei() > 0.7*e.cfg.MaxGasPriceGwei {
		sleep += 5 * time.Second
	}
	e.mu.Lock()
	if e.recentExecs >= 3 && time.Since(e.lastExecution) < time.Minute {
		sleep += 3 * time.Second
	}
	e.mu.Unlock()

	if sleep < time.Second {
		sleep = time.Second
	}
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}
