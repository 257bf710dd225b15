// Package registry implements the cross-replica connection lease.
// One Redis key per session holds the id of the live connection holder.
package registry

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hiregate/screening/internal/domain"
)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// stealScript replaces the lease and returns the previous holder id.
var stealScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
if prev then return prev end
return ""
`)

// Redis is a lease registry backed by a shared Redis instance. The lease
// carries a TTL so a crashed server frees its sessions without cleanup.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a registry with the given client and lease TTL.
func New(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func leaseKey(sessionID string) string { return "session:conn:" + sessionID }

// Acquire claims the session for holderID. Returns ErrSessionBusy when
// another holder already owns it. Re-acquiring an own lease refreshes it.
func (r *Redis) Acquire(ctx domain.Context, sessionID, holderID string) error {
	key := leaseKey(sessionID)
	ok, err := r.client.SetNX(ctx, key, holderID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("op=registry.acquire: %w", err)
	}
	if ok {
		return nil
	}
	cur, err := r.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("op=registry.acquire: %w", err)
	}
	if cur == holderID {
		if err := r.client.Set(ctx, key, holderID, r.ttl).Err(); err != nil {
			return fmt.Errorf("op=registry.acquire: refresh: %w", err)
		}
		return nil
	}
	return fmt.Errorf("op=registry.acquire: %w", domain.ErrSessionBusy)
}

// Steal takes over the session unconditionally and reports the displaced
// holder id, empty when the session was free.
func (r *Redis) Steal(ctx domain.Context, sessionID, holderID string) (string, error) {
	res, err := stealScript.Run(ctx, r.client, []string{leaseKey(sessionID)}, holderID, r.ttl.Milliseconds()).Result()
	if err != nil {
		return "", fmt.Errorf("op=registry.steal: %w", err)
	}
	prev, _ := res.(string)
	if prev == holderID {
		prev = ""
	}
	return prev, nil
}

// Release frees the session if holderID still owns it. Releasing a lease
// another holder took over is a no-op.
func (r *Redis) Release(ctx domain.Context, sessionID, holderID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{leaseKey(sessionID)}, holderID).Err(); err != nil {
		return fmt.Errorf("op=registry.release: %w", err)
	}
	return nil
}

// Refresh extends the lease TTL for a live connection. Called from the
// websocket ping loop.
func (r *Redis) Refresh(ctx domain.Context, sessionID, holderID string) error {
	key := leaseKey(sessionID)
	cur, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("op=registry.refresh: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("op=registry.refresh: %w", err)
	}
	if cur != holderID {
		return fmt.Errorf("op=registry.refresh: %w", domain.ErrSessionBusy)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("op=registry.refresh: %w", err)
	}
	return nil
}
