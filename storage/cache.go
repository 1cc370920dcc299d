package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type engine interface {
	Create(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error)
	Update(ctx context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error)
	Move(ctx context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error)
	Delete(ctx context.Context, scope, itemID string) error
	Snapshot(ctx context.Context, scope string) (domain.Board, error)
}

// Cache wraps the mutation engine with Redis-backed caching of board
// snapshots. Mutations evict the scope's snapshot; Redis failures fall back
// to the engine without failing the read.
type Cache struct {
	base  engine
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base engine, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base engine is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Create(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error) {
	it, err := c.base.Create(ctx, sessionID, scope, bucket, fields, key)
	if err == nil {
		c.evict(ctx, scope)
	}
	return it, err
}

func (c *Cache) Update(ctx context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error) {
	it, err := c.base.Update(ctx, scope, itemID, patch, expectedVersion)
	if err == nil {
		c.evict(ctx, scope)
	}
	return it, err
}

func (c *Cache) Move(ctx context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error) {
	it, err := c.base.Move(ctx, sessionID, scope, itemID, destBucket, targetRank, key)
	if err == nil {
		c.evict(ctx, scope)
	}
	return it, err
}

func (c *Cache) Delete(ctx context.Context, scope, itemID string) error {
	err := c.base.Delete(ctx, scope, itemID)
	if err == nil {
		c.evict(ctx, scope)
	}
	return err
}

func (c *Cache) Snapshot(ctx context.Context, scope string) (domain.Board, error) {
	if board, ok := c.loadFromCache(ctx, scope); ok {
		return board, nil
	}
	board, err := c.base.Snapshot(ctx, scope)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, scope, board)
	return board, nil
}

func (c *Cache) loadFromCache(ctx context.Context, scope string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(scope)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, boardCacheKey(scope)).Err()
		}
		return domain.Board{}, false
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(scope)).Err()
		return domain.Board{}, false
	}
	return board, true
}

func (c *Cache) store(ctx context.Context, scope string, board domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(scope), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, scope string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(scope)).Result()
}

func boardCacheKey(scope string) string {
	return "board:" + scope
}
