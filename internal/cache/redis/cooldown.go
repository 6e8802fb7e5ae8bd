package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitefin/arbot/internal/domain"
)

// CooldownKeeper implements domain.CooldownKeeper with SET NX EX, so a
// cooldown survives process restarts and is shared across replicas.
type CooldownKeeper struct {
	rdb *redis.Client
}

// NewCooldownKeeper creates a CooldownKeeper backed by the given Client.
func NewCooldownKeeper(c *Client) *CooldownKeeper {
	return &CooldownKeeper{rdb: c.Underlying()}
}

// Acquire reports whether key is outside its cooldown. When it is, a new
// cooldown of d is started atomically.
func (ck *CooldownKeeper) Acquire(ctx context.Context, key string, d time.Duration) (bool, error) {
	ok, err := ck.rdb.SetNX(ctx, "cooldown:"+key, 1, d).Result()
	if err != nil {
		return false, fmt.Errorf("redis: cooldown acquire %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.CooldownKeeper = (*CooldownKeeper)(nil)
