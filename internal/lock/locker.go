// Package lock provides per-store mutual exclusion for scheduler engines.
// Acquisition is a single SET NX with TTL; release runs a compare-and-delete
// script so a worker whose TTL expired mid-operation can never delete a lock
// that a newer owner holds.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out ephemeral ownership tokens keyed per store per engine.
type Locker interface {
	// TryLock attempts to acquire the lock. A false ok means another worker
	// holds it; that is contention, not an error.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release deletes the lock only if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// RolloverKey names the lock guarding a store's cycle rollover.
func RolloverKey(shopDomain string) string {
	return fmt.Sprintf("rollover:%s", shopDomain)
}

// UpgradeKey names the lock guarding a store's tier upgrade.
func UpgradeKey(shopDomain string) string {
	return fmt.Sprintf("upgrade:%s", shopDomain)
}

type redisLocker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) Locker {
	return &redisLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *redisLocker) Release(ctx context.Context, key, token string) error {
	if l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
