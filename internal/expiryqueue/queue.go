// Package expiryqueue orders stores by the expiry of their current open
// billing cycle. It is a score-ordered index over the ledger, not a source
// of truth: entries are always overwritten, never deleted, and the whole
// set can be rebuilt from open cycle rows.
package expiryqueue

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const queueKey = "billing:cycle_expiry"

// Entry pairs a store with the expiry of its open billing cycle.
type Entry struct {
	ShopDomain string
	ExpiresAt  time.Time
}

type Queue interface {
	// PeekEarliest returns the entry with the offset-th lowest expiry.
	// Offset zero is the queue head. ok is false when the queue holds
	// fewer than offset+1 entries.
	PeekEarliest(ctx context.Context, offset int64) (Entry, bool, error)
	// Reschedule overwrites the store's expiry score.
	Reschedule(ctx context.Context, shopDomain string, expiresAt time.Time) error
	// Rebuild re-inserts every given entry, overwriting stale scores.
	Rebuild(ctx context.Context, entries []Entry) error
}

type redisQueue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) Queue {
	return &redisQueue{client: client}
}

func (q *redisQueue) PeekEarliest(ctx context.Context, offset int64) (Entry, bool, error) {
	if q.client == nil {
		return Entry{}, false, errors.New("queue client not configured")
	}
	if offset < 0 {
		offset = 0
	}
	members, err := q.client.ZRangeWithScores(ctx, queueKey, offset, offset).Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(members) == 0 {
		return Entry{}, false, nil
	}
	shop, _ := members[0].Member.(string)
	return Entry{
		ShopDomain: shop,
		ExpiresAt:  time.UnixMilli(int64(members[0].Score)).UTC(),
	}, true, nil
}

func (q *redisQueue) Reschedule(ctx context.Context, shopDomain string, expiresAt time.Time) error {
	if q.client == nil {
		return errors.New("queue client not configured")
	}
	if shopDomain == "" {
		return errors.New("shop domain is empty")
	}
	return q.client.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: shopDomain,
	}).Err()
}

func (q *redisQueue) Rebuild(ctx context.Context, entries []Entry) error {
	if q.client == nil {
		return errors.New("queue client not configured")
	}
	if len(entries) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(entries))
	for _, entry := range entries {
		if entry.ShopDomain == "" {
			continue
		}
		members = append(members, redis.Z{
			Score:  float64(entry.ExpiresAt.UnixMilli()),
			Member: entry.ShopDomain,
		})
	}
	if len(members) == 0 {
		return nil
	}
	return q.client.ZAdd(ctx, queueKey, members...).Err()
}
