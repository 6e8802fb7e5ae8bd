package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteCache stores immutable RouteQuote snapshots under a short TTL so that
// repeated best-quote evaluations within one cycle hit the same routes.
type QuoteCache interface {
	Get(ctx context.Context, source string, from, to common.Address, amountIn string) (*RouteQuote, error)
	Set(ctx context.Context, q *RouteQuote, ttl time.Duration) error
}

// ZScoreCache stores recent z-score signals per pair.
type ZScoreCache interface {
	Get(ctx context.Context, pairKey string) (*ZScoreSignal, error)
	Set(ctx context.Context, pairKey string, sig *ZScoreSignal, ttl time.Duration) error
}

// CointCache stores cointegration test results under a long TTL.
type CointCache interface {
	Get(ctx context.Context, pairKey string) (*Cointegration, error)
	Set(ctx context.Context, pairKey string, c *Cointegration, ttl time.Duration) error
}

// PriceCache stores last known token USD prices.
type PriceCache interface {
	Get(ctx context.Context, token common.Address) (float64, time.Time, error)
	Set(ctx context.Context, token common.Address, priceUSD float64, ts time.Time) error
}

// RateLimiter enforces named per-service request budgets for external HTTP
// APIs.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the
	// sliding window; an allowed request is counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for key is allowed or ctx is done.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// CooldownKeeper gates alert delivery per dedup key.
type CooldownKeeper interface {
	// Acquire reports whether the key is outside its cooldown and, when it
	// is, starts a new cooldown of d.
	Acquire(ctx context.Context, key string, d time.Duration) (bool, error)
}
