// Package registry maintains the catalog of known tokens: metadata, USD
// price and liquidity estimates, scam filtering, and discovery of tradable
// alt tokens from public listing APIs.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// PriceSource resolves a token's spot USD price on-chain; the registry uses
// it as a fallback when the markets API has no quote.
type PriceSource interface {
	SpotPriceUSD(ctx context.Context, token common.Address) (float64, error)
}

// Registry is the in-memory token catalog. It is written by the refresh and
// discovery loops and read by the scanner and accountant.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*domain.Token

	prices   domain.PriceCache
	markets  *MarketsClient
	security *SecurityClient
	source   PriceSource
	logger   *slog.Logger

	refreshInterval time.Duration
}

// New creates a Registry seeded with the configured base tokens.
func New(base []domain.Token, prices domain.PriceCache, markets *MarketsClient, security *SecurityClient, source PriceSource, logger *slog.Logger) *Registry {
	r := &Registry{
		tokens:          make(map[common.Address]*domain.Token, len(base)*4),
		prices:          prices,
		markets:         markets,
		security:        security,
		source:          source,
		logger:          logger.With(slog.String("component", "token_registry")),
		refreshInterval: 60 * time.Second,
	}
	for i := range base {
		t := base[i]
		t.IsBase = true
		r.tokens[t.Address] = &t
	}
	return r
}

// SetPriceSource attaches the on-chain price fallback. Called once during
// wiring, after the aggregator layer exists.
func (r *Registry) SetPriceSource(source PriceSource) {
	r.mu.Lock()
	r.source = source
	r.mu.Unlock()
}

// Register adds a token to the catalog. Existing entries keep their price
// data; tokens are never destroyed within a session.
func (r *Registry) Register(t domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tokens[t.Address]; ok {
		if t.Symbol != "" {
			existing.Symbol = t.Symbol
		}
		if t.LiquidityUSD > 0 {
			existing.LiquidityUSD = t.LiquidityUSD
		}
		return
	}
	cp := t
	r.tokens[t.Address] = &cp
}

// UpdateLiquidity refreshes a token's aggregate liquidity estimate. Zero
// values are ignored so a failed listing never wipes a known figure.
func (r *Registry) UpdateLiquidity(addr common.Address, liquidityUSD float64) {
	if liquidityUSD <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[addr]; ok {
		t.LiquidityUSD = liquidityUSD
	}
}

// Get returns the token for an address.
func (r *Registry) Get(addr common.Address) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return domain.Token{}, false
	}
	return *t, true
}

// BySymbol returns the first token whose symbol matches, case-insensitive.
func (r *Registry) BySymbol(symbol string) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return *t, true
		}
	}
	return domain.Token{}, false
}

// BaseTokens returns the flash-loan eligible assets sorted by address for
// determinism.
func (r *Registry) BaseTokens() []domain.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Token, 0, 4)
	for _, t := range r.tokens {
		if t.IsBase {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

// All returns a snapshot of every catalogued token.
func (r *Registry) All() []domain.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, *t)
	}
	return out
}

// TopByLiquidity returns up to n non-base tokens ranked by aggregate
// liquidity descending.
func (r *Registry) TopByLiquidity(n int) []domain.Token {
	r.mu.RLock()
	all := make([]domain.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		if !t.IsBase {
			all = append(all, *t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].LiquidityUSD > all[j].LiquidityUSD
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// PriceUSD returns the token's last known USD price, consulting the price
// cache and the on-chain source as fallbacks. A zero return means no price
// is known.
func (r *Registry) PriceUSD(ctx context.Context, addr common.Address) float64 {
	r.mu.RLock()
	t, ok := r.tokens[addr]
	if ok && t.PriceUSD > 0 && time.Since(t.PriceUpdated) < 5*time.Minute {
		p := t.PriceUSD
		r.mu.RUnlock()
		return p
	}
	r.mu.RUnlock()

	if r.prices != nil {
		if p, ts, err := r.prices.Get(ctx, addr); err == nil && time.Since(ts) < 5*time.Minute {
			r.setPrice(addr, p, ts)
			return p
		}
	}
	if r.source != nil {
		if p, err := r.source.SpotPriceUSD(ctx, addr); err == nil && p > 0 {
			now := time.Now()
			r.setPrice(addr, p, now)
			if r.prices != nil {
				_ = r.prices.Set(ctx, addr, p, now)
			}
			return p
		}
	}
	if ok {
		return t.PriceUSD
	}
	return 0
}

func (r *Registry) setPrice(addr common.Address, price float64, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[addr]; ok {
		t.PriceUSD = price
		t.PriceUpdated = ts
	}
}

// RefreshPrices pulls fresh USD prices for every catalogued token from the
// markets API, falling back per-token to the on-chain source.
func (r *Registry) RefreshPrices(ctx context.Context) error {
	addrs := make([]common.Address, 0)
	r.mu.RLock()
	for a := range r.tokens {
		addrs = append(addrs, a)
	}
	r.mu.RUnlock()

	quotes, err := r.markets.Prices(ctx, addrs)
	if err != nil {
		r.logger.Warn("markets price refresh failed", slog.String("error", err.Error()))
		quotes = map[common.Address]float64{}
	}

	now := time.Now()
	for _, a := range addrs {
		p, ok := quotes[a]
		if !ok || p <= 0 {
			if r.source == nil {
				continue
			}
			sp, err := r.source.SpotPriceUSD(ctx, a)
			if err != nil || sp <= 0 {
				continue
			}
			p = sp
		}
		r.setPrice(a, p, now)
		if r.prices != nil {
			_ = r.prices.Set(ctx, a, p, now)
		}
	}
	return nil
}

// RunRefresh refreshes prices on the registry's interval until ctx is done.
func (r *Registry) RunRefresh(ctx context.Context) error {
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshPrices(ctx); err != nil {
				r.logger.Warn("price refresh", slog.String("error", err.Error()))
			}
		}
	}
}

// IsScam consults the security API for honeypot and tax traps. Unknown
// tokens fail open (not scam) so transient API failures do not stall
// discovery; the liquidity threshold is the real gate.
func (r *Registry) IsScam(ctx context.Context, addr common.Address) bool {
	if r.security == nil {
		return false
	}
	verdict, err := r.security.Check(ctx, addr)
	if err != nil {
		r.logger.Debug("security check failed",
			slog.String("token", addr.Hex()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return verdict.Scam
}
