// Package ordercount tracks per-store order volume for the running billing
// cycle. The order ingestion webhook increments it; only the rollover engine
// resets it, at the instant a cycle rolls over.
package ordercount

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const keyFormat = "billing:orders:%s"

type Counter interface {
	// Incr records one new order and returns the running total.
	Incr(ctx context.Context, shopDomain string) (int64, error)
	// Current returns the running total without mutating it.
	Current(ctx context.Context, shopDomain string) (int64, error)
	// Reset zeroes the counter and returns the value it held.
	Reset(ctx context.Context, shopDomain string) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

func NewCounter(client *redis.Client) Counter {
	return &redisCounter{client: client}
}

func (c *redisCounter) Incr(ctx context.Context, shopDomain string) (int64, error) {
	if err := c.check(shopDomain); err != nil {
		return 0, err
	}
	return c.client.Incr(ctx, counterKey(shopDomain)).Result()
}

func (c *redisCounter) Current(ctx context.Context, shopDomain string) (int64, error) {
	if err := c.check(shopDomain); err != nil {
		return 0, err
	}
	value, err := c.client.Get(ctx, counterKey(shopDomain)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (c *redisCounter) Reset(ctx context.Context, shopDomain string) (int64, error) {
	if err := c.check(shopDomain); err != nil {
		return 0, err
	}
	value, err := c.client.GetDel(ctx, counterKey(shopDomain)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (c *redisCounter) check(shopDomain string) error {
	if c.client == nil {
		return errors.New("counter client not configured")
	}
	if shopDomain == "" {
		return errors.New("shop domain is empty")
	}
	return nil
}

func counterKey(shopDomain string) string {
	return fmt.Sprintf(keyFormat, shopDomain)
}
