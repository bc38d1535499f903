package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const statsKey = "helpdesk:agent_stats"

// StatsCache keeps the admin agent-statistics aggregate in Redis for a
// short TTL so repeated dashboard polls do not re-run the aggregation
// query. A nil cache or an unreachable Redis degrades to a miss.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache constructs the cache.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

// Get unmarshals the cached aggregate into dest and reports a hit.
func (c *StatsCache) Get(ctx context.Context, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, statsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores the aggregate with the configured TTL.
func (c *StatsCache) Set(ctx context.Context, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statsKey, raw, c.ttl).Err()
}

// Invalidate drops the cached aggregate.
func (c *StatsCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, statsKey).Err()
}
