package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kitefin/arbot/internal/alert"
	"github.com/kitefin/arbot/internal/domain"
	"github.com/kitefin/arbot/internal/gas"
	"github.com/kitefin/arbot/internal/metrics"
)

func testEngine(maxErrors int) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		MaxConsecutiveErrors: maxErrors,
		MaxGasPriceGwei:      2.0,
		MinProfitUSD:         1.0,
	}, nil, nil, nil, nil, gas.NewOracle(nil, 2.0, logger), nil, nil,
		metrics.NewRegistry(), alert.New(nil, nil, logger), logger)
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateUninitialized:     "uninitialized",
		StateInitializing:      "initializing",
		StateReady:             "ready",
		StateRunning:           "running",
		StateBackoff:           "backoff",
		StateStopping:          "stopping",
		StateStopped:           "stopped",
		StateEmergencyShutdown: "emergency_shutdown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("%d stringifies to %q, want %q", s, s.String(), want)
		}
	}
}

func TestConsecutiveErrorsTripEmergency(t *testing.T) {
	e := testEngine(5)
	ctx := context.Background()
	err := domain.E(domain.KindBroadcastFailed, "boom")

	for i := 0; i < 4; i++ {
		e.onCycleError(ctx, err)
		if e.State() == StateEmergencyShutdown {
			t.Fatalf("emergency tripped early at %d errors", i+1)
		}
	}
	e.onCycleError(ctx, err)
	if e.State() != StateEmergencyShutdown {
		t.Fatalf("state %s after %d errors, want emergency_shutdown", e.State(), 5)
	}
}

func TestEmergencyShutdownIsIdempotent(t *testing.T) {
	e := testEngine(10)
	ctx := context.Background()
	e.EmergencyShutdown(ctx, "first")
	e.EmergencyShutdown(ctx, "second")
	if e.State() != StateEmergencyShutdown {
		t.Fatalf("state %s", e.State())
	}
}

func TestCycleErrorsCountFailures(t *testing.T) {
	e := testEngine(10)
	e.onCycleError(context.Background(), domain.E(domain.KindConfirmationTimeout, "slow"))
	if got := e.reg.Counter("opportunities_failed_total"); got != 1 {
		t.Fatalf("failed counter %d", got)
	}
}

func TestCycleSleepBounds(t *testing.T) {
	e := testEngine(10)

	// Base case: no gas pressure, no execution load.
	s := e.cycleSleep()
	if s < time.Second || s > 30*time.Second {
		t.Fatalf("sleep %s outside [1s,30s]", s)
	}

	// Heavy recent execution adds to the sleep.
	e.mu.Lock()
	e.recentExecs = 5
	e.lastExecution = time.Now()
	e.mu.Unlock()
	heavy := e.cycleSleep()
	if heavy <= s {
		t.Fatalf("execution load did not extend sleep: %s vs %s", s, heavy)
	}
	if heavy > 30*time.Second {
		t.Fatalf("sleep %s above clamp", heavy)
	}
}
