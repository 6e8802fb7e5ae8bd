// Package chain provides the multi-endpoint RPC transport: a pool of chain
// nodes, each behind per-second and per-minute token buckets and a health
// state machine with round-robin selection and probing.
package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kitefin/arbot/internal/domain"
)

// Recorder receives transport-level counters. The metrics registry
// implements it; a nil Recorder disables recording.
type Recorder interface {
	RPCRequest()
	RPCError()
}

// Config holds transport knobs, mirroring the rpc section of the engine
// configuration.
type Config struct {
	Nodes                []string
	MaxRequestsPerSecond int
	MaxRequestsPerMinute int
	RequestTimeout       time.Duration
	HealthCheckInterval  time.Duration
	UnhealthyTimeout     time.Duration
	// MaxConcurrent bounds in-flight calls per endpoint per-second bucket.
	MaxConcurrent int
}

// Pool is the ordered set of RPC endpoints. Selection is round-robin over
// healthy endpoints; every call is routed through the chosen endpoint's
// buckets and feeds its health state.
type Pool struct {
	endpoints []*Endpoint
	cursor    atomic.Uint64
	cfg       Config
	rec       Recorder
	logger    *slog.Logger
}

// NewPool dials every configured endpoint. Endpoints that fail to dial are
// still kept (marked unhealthy) so they can recover via probing; the pool
// errors only when no endpoint dials at all.
func NewPool(ctx context.Context, cfg Config, rec Recorder, logger *slog.Logger) (*Pool, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	p := &Pool{
		cfg:    cfg,
		rec:    rec,
		logger: logger.With(slog.String("component", "rpc_pool")),
	}

	dialed := 0
	for _, url := range cfg.Nodes {
		ep, err := dialEndpoint(ctx, url, cfg.MaxRequestsPerSecond, cfg.MaxRequestsPerMinute, cfg.MaxConcurrent)
		if err != nil {
			p.logger.Warn("endpoint dial failed",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.endpoints = append(p.endpoints, ep)
		dialed++
	}
	if dialed == 0 {
		return nil, domain.Wrap(domain.KindTransportUnavailable, "no rpc endpoint could be dialed", domain.ErrNoHealthyNodes)
	}

	p.logger.Info("rpc pool ready",
		slog.Int("endpoints", len(p.endpoints)),
		slog.Int("per_second", cfg.MaxRequestsPerSecond),
		slog.Int("per_minute", cfg.MaxRequestsPerMinute),
	)
	return p, nil
}

// next returns a healthy endpoint via the round-robin cursor. If the next
// endpoint is unhealthy the cursor advances until a healthy one is found or
// every endpoint has been visited; the fallback returns whichever endpoint
// the cursor landed on, logged.
func (p *Pool) next() *Endpoint {
	n := uint64(len(p.endpoints))
	start := p.cursor.Add(1)
	for i := uint64(0); i < n; i++ {
		ep := p.endpoints[(start+i)%n]
		if ep.Healthy() {
			return ep
		}
	}
	ep := p.endpoints[start%n]
	p.logger.Warn("all endpoints unhealthy, using fallback",
		slog.String("url", ep.URL),
	)
	return ep
}

// Do runs fn against a selected endpoint, inside its rate buckets and the
// transport timeout. Transport errors surface to the caller; retries are the
// caller's decision.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, c *ethclient.Client) error) error {
	ep := p.next()
	return p.doOn(ctx, ep, fn)
}

func (p *Pool) doOn(ctx context.Context, ep *Endpoint, fn func(ctx context.Context, c *ethclient.Client) error) error {
	if err := ep.acquire(ctx); err != nil {
		return domain.Wrap(domain.KindRateLimited, "rpc bucket wait", err)
	}
	defer ep.release()

	callCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	if p.rec != nil {
		p.rec.RPCRequest()
	}
	err := fn(callCtx, ep.eth)
	if err != nil {
		if p.rec != nil {
			p.rec.RPCError()
		}
		if ep.recordFailure(p.cfg.UnhealthyTimeout) {
			p.logger.Warn("endpoint marked unhealthy",
				slog.String("url", ep.URL),
				slog.Int("failures", ep.Failures()),
			)
		}
		return err
	}
	ep.recordSuccess()
	return nil
}

// BlockNumber reads the latest block number through the pool.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		n, err = c.BlockNumber(ctx)
		return err
	})
	return n, err
}

// ChainID reads the chain id through the pool.
func (p *Pool) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := p.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		id, err = c.ChainID(ctx)
		return err
	})
	return id, err
}

// RunHealthChecks probes unhealthy endpoints on the configured interval
// until ctx is done. A probe is a lightweight block-number read; success
// restores health.
func (p *Pool) RunHealthChecks(ctx context.Context) error {
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probeUnhealthy(ctx)
		}
	}
}

func (p *Pool) probeUnhealthy(ctx context.Context) {
	now := time.Now()
	for _, ep := range p.endpoints {
		if !ep.probeDue(now) {
			continue
		}
		err := p.doOn(ctx, ep, func(ctx context.Context, c *ethclient.Client) error {
			_, err := c.BlockNumber(ctx)
			return err
		})
		if err != nil {
			p.logger.Debug("probe failed",
				slog.String("url", ep.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("endpoint restored", slog.String("url", ep.URL))
	}
}

// HealthyCount returns how many endpoints are currently healthy.
func (p *Pool) HealthyCount() int {
	n := 0
	for _, ep := range p.endpoints {
		if ep.Healthy() {
			n++
		}
	}
	return n
}

// Endpoints exposes the pool's endpoints for inspection.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// Close tears down every endpoint connection.
func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		ep.Close()
	}
}
