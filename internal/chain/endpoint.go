package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// maxConsecutiveFailures is how many failed calls in a row mark an endpoint
// unhealthy.
const maxConsecutiveFailures = 3

// Endpoint is one chain RPC node with its health state and rate buckets.
type Endpoint struct {
	URL string

	rpcClient *rpc.Client
	eth       *ethclient.Client

	// secBucket refills every second with a small concurrency bound;
	// minBucket refills every minute with concurrency 1. Calls route
	// through minute then second.
	secBucket *tokenBucket
	minBucket *tokenBucket

	mu          sync.Mutex
	healthy     bool
	failures    int
	lastChecked time.Time
	retryAt     time.Time
}

// dial connects the endpoint's RPC and eth clients.
func dialEndpoint(ctx context.Context, url string, perSecond, perMinute, maxConcurrent int) (*Endpoint, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		URL:       url,
		rpcClient: rc,
		eth:       ethclient.NewClient(rc),
		secBucket: newTokenBucket(perSecond, time.Second, maxConcurrent),
		minBucket: newTokenBucket(perMinute, time.Minute, 1),
		healthy:   true,
	}, nil
}

// Healthy reports the endpoint's current health.
func (e *Endpoint) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// Failures returns the consecutive failure count.
func (e *Endpoint) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// recordSuccess resets the failure counter and restores health.
func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.healthy = true
	e.lastChecked = time.Now()
}

// recordFailure increments the failure counter; after three consecutive
// failures the endpoint is marked unhealthy and scheduled for a probe after
// unhealthyTimeout. It returns true when the endpoint just transitioned to
// unhealthy.
func (e *Endpoint) recordFailure(unhealthyTimeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastChecked = time.Now()
	if e.failures >= maxConsecutiveFailures && e.healthy {
		e.healthy = false
		e.retryAt = time.Now().Add(unhealthyTimeout)
		return true
	}
	if !e.healthy {
		e.retryAt = time.Now().Add(unhealthyTimeout)
	}
	return false
}

// probeDue reports whether an unhealthy endpoint has rested long enough to
// be probed again.
func (e *Endpoint) probeDue(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.healthy && now.After(e.retryAt)
}

// acquire routes through both buckets in order: minute, then second.
func (e *Endpoint) acquire(ctx context.Context) error {
	if err := e.minBucket.acquire(ctx); err != nil {
		return err
	}
	if err := e.secBucket.acquire(ctx); err != nil {
		e.minBucket.release()
		return err
	}
	return nil
}

func (e *Endpoint) release() {
	e.secBucket.release()
	e.minBucket.release()
}

// Close tears down the underlying connection.
func (e *Endpoint) Close() {
	e.rpcClient.Close()
}
