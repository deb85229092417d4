package pricetier

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const cacheKeyFormat = "billing:tier:%s"

// Cache stores each store's currently applied tier label, expiring shortly
// after the cycle it was resolved for.
type Cache interface {
	Get(ctx context.Context, shopDomain string) (Tier, bool, error)
	Set(ctx context.Context, shopDomain string, tier Tier, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, shopDomain string) (Tier, bool, error) {
	if c.client == nil {
		return "", false, errors.New("tier cache client not configured")
	}
	value, err := c.client.Get(ctx, cacheKey(shopDomain)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	tier, err := Parse(value)
	if err != nil {
		return "", false, nil
	}
	return tier, true, nil
}

func (c *redisCache) Set(ctx context.Context, shopDomain string, tier Tier, ttl time.Duration) error {
	if c.client == nil {
		return errors.New("tier cache client not configured")
	}
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, cacheKey(shopDomain), string(tier), ttl).Err()
}

func cacheKey(shopDomain string) string {
	return fmt.Sprintf(cacheKeyFormat, shopDomain)
}
