// Package alert dispatches leveled notifications to the configured sinks
// with per-level cooldowns so repeated conditions do not flood operators.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Alerter fans alerts out to all registered senders, gated by per-key
// cooldowns. The dedup key is (level, title, hash(data)).
type Alerter struct {
	senders   []Sender
	cooldowns domain.CooldownKeeper
	logger    *slog.Logger
}

// New creates an Alerter. A nil cooldown keeper disables deduplication.
func New(senders []Sender, cooldowns domain.CooldownKeeper, logger *slog.Logger) *Alerter {
	return &Alerter{
		senders:   senders,
		cooldowns: cooldowns,
		logger:    logger.With(slog.String("component", "alerter")),
	}
}

// key builds the dedup key for an alert.
func key(a domain.Alert) string {
	h := sha256.New()
	keys := make([]string, 0, len(a.Data))
	for k := range a.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(a.Data[k]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%s:%s", a.Level, a.Title, hex.EncodeToString(h.Sum(nil))[:16])
}

// Send delivers an alert unless its key is inside the level's cooldown.
// Sender failures are logged but never propagate to the caller: alerting
// must not fail the trading loop.
func (a *Alerter) Send(ctx context.Context, alert domain.Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}

	if a.cooldowns != nil {
		ok, err := a.cooldowns.Acquire(ctx, key(alert), alert.Level.Cooldown())
		if err != nil {
			a.logger.Warn("cooldown check failed", slog.String("error", err.Error()))
		} else if !ok {
			a.logger.Debug("alert suppressed by cooldown",
				slog.String("level", alert.Level.String()),
				slog.String("title", alert.Title),
			)
			return
		}
	}

	body := alert.Message
	if len(alert.Data) > 0 {
		var b strings.Builder
		b.WriteString(alert.Message)
		keys := make([]string, 0, len(alert.Data))
		for k := range alert.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, alert.Data[k])
		}
		body = b.String()
	}

	title := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Level.String()), alert.Title)
	for _, s := range a.senders {
		if err := s.Send(ctx, title, body); err != nil {
			a.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.Info("alert dispatched",
		slog.String("level", alert.Level.String()),
		slog.String("title", alert.Title),
		slog.Int("senders", len(a.senders)),
	)
}

// Info, Success, Warning, Error, and Critical are level-fixed helpers.
func (a *Alerter) Info(ctx context.Context, title, message string, data map[string]string) {
	a.Send(ctx, domain.Alert{Level: domain.AlertInfo, Title: title, Message: message, Data: data})
}

func (a *Alerter) Success(ctx context.Context, title, message string, data map[string]string) {
	a.Send(ctx, domain.Alert{Level: domain.AlertSuccess, Title: title, Message: message, Data: data})
}

func (a *Alerter) Warning(ctx context.Context, title, message string, data map[string]string) {
	a.Send(ctx, domain.Alert{Level: domain.AlertWarning, Title: title, Message: message, Data: data})
}

func (a *Alerter) Error(ctx context.Context, title, message string, data map[string]string) {
	a.Send(ctx, domain.Alert{Level: domain.AlertError, Title: title, Message: message, Data: data})
}

func (a *Alerter) Critical(ctx context.Context, title, message string, data map[string]string) {
	a.Send(ctx, domain.Alert{Level: domain.AlertCritical, Title: title, Message: message, Data: data})
}

// ProfitReporter supplies the hourly summary numbers; implemented by the
// metrics registry.
type ProfitReporter interface {
	ProfitTotals() (total, daily, hourly float64)
	Counter(name string) uint64
}

// RunHourlySummary emits a summary alert at the top of each hour.
func (a *Alerter) RunHourlySummary(ctx context.Context, rep ProfitReporter) error {
	for {
		next := time.Now().Truncate(time.Hour).Add(time.Hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		total, daily, hourly := rep.ProfitTotals()
		a.Info(ctx, "Hourly summary", "Engine activity for the past hour", map[string]string{
			"hourly_profit_usd": fmt.Sprintf("%.2f", hourly),
			"daily_profit_usd":  fmt.Sprintf("%.2f", daily),
			"total_profit_usd":  fmt.Sprintf("%.2f", total),
			"scanned":           fmt.Sprintf("%d", rep.Counter("opportunities_scanned_total")),
			"executed":          fmt.Sprintf("%d", rep.Counter("opportunities_executed_total")),
			"failed":            fmt.Sprintf("%d", rep.Counter("opportunities_failed_total")),
		})
	}
}
