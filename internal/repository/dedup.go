package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	WebhookDedupKeyPrefix = "webhook:processed:"
	DefaultDedupTTL       = 24 * time.Hour
)

// DedupCache remembers processed event fingerprints for a bounded time.
// It only saves queue and database work; the ledger's transaction
// fingerprint is what actually prevents double crediting.
type DedupCache struct {
	redisClient redis.Cmdable
	ttl         time.Duration
}

func NewDedupCache(rdb redis.Cmdable, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupCache{redisClient: rdb, ttl: ttl}
}

func (c *DedupCache) Contains(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.redisClient.Exists(ctx, WebhookDedupKeyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n == 1, nil
}

// Mark records fingerprint as processed. Marking again refreshes the TTL.
func (c *DedupCache) Mark(ctx context.Context, fingerprint string) error {
	if err := c.redisClient.Set(ctx, WebhookDedupKeyPrefix+fingerprint, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
