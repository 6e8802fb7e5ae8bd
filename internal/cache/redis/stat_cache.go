package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitefin/arbot/internal/domain"
)

// ZScoreCache implements domain.ZScoreCache. Signals expire on a short TTL
// and are purely advisory.
type ZScoreCache struct {
	rdb *redis.Client
}

// NewZScoreCache creates a ZScoreCache backed by the given Client.
func NewZScoreCache(c *Client) *ZScoreCache {
	return &ZScoreCache{rdb: c.Underlying()}
}

// Get returns the cached signal or domain.ErrCacheMiss.
func (zc *ZScoreCache) Get(ctx context.Context, pairKey string) (*domain.ZScoreSignal, error) {
	raw, err := zc.rdb.Get(ctx, "zscore:"+pairKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get zscore %s: %w", pairKey, err)
	}
	var sig domain.ZScoreSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("redis: decode zscore %s: %w", pairKey, err)
	}
	return &sig, nil
}

// Set stores the signal with the given TTL.
func (zc *ZScoreCache) Set(ctx context.Context, pairKey string, sig *domain.ZScoreSignal, ttl time.Duration) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: encode zscore %s: %w", pairKey, err)
	}
	if err := zc.rdb.Set(ctx, "zscore:"+pairKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set zscore %s: %w", pairKey, err)
	}
	return nil
}

// CointCache implements domain.CointCache on a long TTL.
type CointCache struct {
	rdb *redis.Client
}

// NewCointCache creates a CointCache backed by the given Client.
func NewCointCache(c *Client) *CointCache {
	return &CointCache{rdb: c.Underlying()}
}

// Get returns the cached test result or domain.ErrCacheMiss.
func (cc *CointCache) Get(ctx context.Context, pairKey string) (*domain.Cointegration, error) {
	raw, err := cc.rdb.Get(ctx, "coint:"+pairKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get coint %s: %w", pairKey, err)
	}
	var c domain.Cointegration
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("redis: decode coint %s: %w", pairKey, err)
	}
	return &c, nil
}

// Set stores the test result with the given TTL.
func (cc *CointCache) Set(ctx context.Context, pairKey string, c *domain.Cointegration, ttl time.Duration) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: encode coint %s: %w", pairKey, err)
	}
	if err := cc.rdb.Set(ctx, "coint:"+pairKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set coint %s: %w", pairKey, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.ZScoreCache = (*ZScoreCache)(nil)
	_ domain.CointCache  = (*CointCache)(nil)
)
