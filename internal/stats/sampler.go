package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// PriceReader resolves a token's current USD price; the sampler uses the
// on-chain quoter against the first base token via the aggregator layer.
type PriceReader interface {
	SpotPriceUSD(ctx context.Context, token common.Address) (float64, error)
}

// ring is a bounded price-sample buffer for one token. Capacity is 1.5× the
// z-score window; on overflow the ring is truncated back to the window so
// truncation happens in batches rather than per sample.
type ring struct {
	samples []domain.PriceSample
	window  int
}

func (r *ring) push(s domain.PriceSample) {
	r.samples = append(r.samples, s)
	if cap := r.window + r.window/2; len(r.samples) > cap {
		keep := len(r.samples) - r.window
		r.samples = append(r.samples[:0], r.samples[keep:]...)
	}
}

// Sampler maintains rolling price histories for every tracked token.
type Sampler struct {
	mu     sync.RWMutex
	rings  map[common.Address]*ring
	window int

	reader   PriceReader
	interval time.Duration
	logger   *slog.Logger
}

// NewSampler creates a Sampler with the given z-score window size.
func NewSampler(reader PriceReader, window int, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sampler{
		rings:    make(map[common.Address]*ring),
		window:   window,
		reader:   reader,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_sampler")),
	}
}

// Track registers a token for periodic sampling.
func (s *Sampler) Track(token common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rings[token]; !ok {
		s.rings[token] = &ring{window: s.window}
	}
}

// Record appends a sample directly. Used by tests and by callers that
// already hold a fresh price.
func (s *Sampler) Record(token common.Address, priceUSD float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[token]
	if !ok {
		r = &ring{window: s.window}
		s.rings[token] = r
	}
	r.push(domain.PriceSample{Token: token, PriceUSD: priceUSD, Timestamp: ts})
}

// History returns a copy of the token's samples, oldest first.
func (s *Sampler) History(token common.Address) []domain.PriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[token]
	if !ok {
		return nil
	}
	out := make([]domain.PriceSample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Prices returns just the price values of the token's history.
func (s *Sampler) Prices(token common.Address) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[token]
	if !ok {
		return nil
	}
	out := make([]float64, len(r.samples))
	for i, smp := range r.samples {
		out[i] = smp.PriceUSD
	}
	return out
}

// StdReturns returns the sample standard deviation of the token's recent
// period returns, used by the slippage volatility factor.
func (s *Sampler) StdReturns(token common.Address) float64 {
	prices := s.Prices(token)
	if len(prices) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}
	return stddev(returns)
}

// sampleAll reads every tracked token once. A failed read is skipped; the
// ring simply misses that tick.
func (s *Sampler) sampleAll(ctx context.Context) {
	s.mu.RLock()
	tokens := make([]common.Address, 0, len(s.rings))
	for t := range s.rings {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, t := range tokens {
		price, err := s.reader.SpotPriceUSD(ctx, t)
		if err != nil || price <= 0 {
			s.logger.Debug("sample skipped",
				slog.String("token", t.Hex()),
			)
			continue
		}
		s.Record(t, price, now)
	}
}

// Run samples all tracked tokens on the cadence until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sampleAll(ctx)
		}
	}
}
