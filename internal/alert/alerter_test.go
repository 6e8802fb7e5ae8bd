package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// memCooldowns is an in-process CooldownKeeper for tests.
type memCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newMemCooldowns() *memCooldowns {
	return &memCooldowns{until: make(map[string]time.Time)}
}

func (m *memCooldowns) Acquire(_ context.Context, key string, d time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.until[key]; ok && time.Now().Before(t) {
		return false, nil
	}
	m.until[key] = time.Now().Add(d)
	return true, nil
}

// recordingSender captures deliveries.
type recordingSender struct {
	mu    sync.Mutex
	sent  []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	r.sent = append(r.sent, title+"|"+message)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) Name() string { return "recorder" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testAlerter(s Sender) *Alerter {
	return New([]Sender{s}, newMemCooldowns(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	rec := &recordingSender{}
	a := testAlerter(rec)
	ctx := context.Background()

	a.Warning(ctx, "OpportunityMissed", "sandwich risk", map[string]string{"id": "x"})
	a.Warning(ctx, "OpportunityMissed", "sandwich risk", map[string]string{"id": "x"})
	if rec.count() != 1 {
		t.Fatalf("duplicate inside cooldown delivered: %d sends", rec.count())
	}
}

func TestCooldownKeyIncludesData(t *testing.T) {
	rec := &recordingSender{}
	a := testAlerter(rec)
	ctx := context.Background()

	a.Warning(ctx, "OpportunityMissed", "reason", map[string]string{"id": "a"})
	a.Warning(ctx, "OpportunityMissed", "reason", map[string]string{"id": "b"})
	if rec.count() != 2 {
		t.Fatalf("distinct data hashes merged: %d sends", rec.count())
	}
}

func TestCooldownKeyIncludesLevel(t *testing.T) {
	rec := &recordingSender{}
	a := testAlerter(rec)
	ctx := context.Background()

	data := map[string]string{"id": "x"}
	a.Warning(ctx, "Title", "m", data)
	a.Error(ctx, "Title", "m", data)
	if rec.count() != 2 {
		t.Fatalf("different levels share a cooldown: %d sends", rec.count())
	}
}

func TestLevelCooldownDurations(t *testing.T) {
	cases := []struct {
		level domain.AlertLevel
		want  time.Duration
	}{
		{domain.AlertCritical, 60 * time.Second},
		{domain.AlertError, 300 * time.Second},
		{domain.AlertWarning, 900 * time.Second},
		{domain.AlertInfo, 1800 * time.Second},
		{domain.AlertSuccess, 3600 * time.Second},
	}
	for _, c := range cases {
		if got := c.level.Cooldown(); got != c.want {
			t.Fatalf("%s cooldown %s, want %s", c.level, got, c.want)
		}
	}
}

func TestSenderFailureDoesNotPropagate(t *testing.T) {
	a := New([]Sender{failingSender{}}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Must not panic or error: alerting never fails the trading loop.
	a.Critical(context.Background(), "Down", "boom", nil)
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error {
	return context.DeadlineExceeded
}

func (failingSender) Name() string { return "failing" }

func TestDataRenderedSorted(t *testing.T) {
	rec := &recordingSender{}
	a := testAlerter(rec)
	a.Info(context.Background(), "Summary", "stats", map[string]string{
		"b_second": "2",
		"a_first":  "1",
	})
	if rec.count() != 1 {
		t.Fatal("alert not delivered")
	}
	got := rec.sent[0]
	if want := "[INFO] Summary|stats\na_first: 1\nb_second: 2"; got != want {
		t.Fatalf("rendered %q, want %q", got, want)
	}
}
