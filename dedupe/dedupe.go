// Package dedupe guarantees at-most-once application of mutations that carry
// a client-supplied idempotency key. Keys are scoped per acting session and
// per mutation kind, and expire after a retention window sized for retry
// storms rather than item lifetimes.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

// Guard is the idempotency contract used by the mutation store.
type Guard interface {
	// Begin atomically records the key. first is true when the key was not
	// seen before. For a repeated key, prior holds the recorded result of
	// the original attempt, or nil when that attempt is still in flight.
	Begin(ctx context.Context, sessionID, kind, key string) (first bool, prior []byte, err error)
	// Complete records the mutation result so later duplicates can replay it.
	Complete(ctx context.Context, sessionID, kind, key string, result []byte) error
	// Release forgets the key after a failed mutation so the caller may retry.
	Release(ctx context.Context, sessionID, kind, key string) error
}

// RedisGuard stores idempotency keys in Redis so every engine instance sees
// the same key table. SetNX provides the atomic insert-if-absent required to
// keep two concurrent retries from both observing "not present".
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard using the provided Redis client and
// retention window.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) key(sessionID, kind, key string) string {
	return fmt.Sprintf("dedupe:%s:%s:%s", sessionID, kind, key)
}

func (g *RedisGuard) resultKey(sessionID, kind, key string) string {
	return fmt.Sprintf("dedupe-result:%s:%s:%s", sessionID, kind, key)
}

func (g *RedisGuard) Begin(ctx context.Context, sessionID, kind, key string) (bool, []byte, error) {
	added, err := g.client.SetNX(ctx, g.key(sessionID, kind, key), 1, g.ttl).Result()
	if err != nil {
		// Correctness over availability: an unreachable guard rejects the
		// mutation instead of letting it through unguarded.
		return false, nil, fmt.Errorf("idempotency guard: %w", domain.ErrTransportUnavailable)
	}
	if added {
		return true, nil, nil
	}
	prior, err := g.client.Get(ctx, g.resultKey(sessionID, kind, key)).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("idempotency guard: %w", domain.ErrTransportUnavailable)
	}
	return false, prior, nil
}

func (g *RedisGuard) Complete(ctx context.Context, sessionID, kind, key string, result []byte) error {
	return g.client.Set(ctx, g.resultKey(sessionID, kind, key), result, g.ttl).Err()
}

func (g *RedisGuard) Release(ctx context.Context, sessionID, kind, key string) error {
	return g.client.Del(ctx, g.key(sessionID, kind, key), g.resultKey(sessionID, kind, key)).Err()
}
