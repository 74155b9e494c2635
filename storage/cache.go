package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Cache keeps each user's board listing in Redis. It implements
// domain.BoardCache; every failure degrades to a cache miss.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger
}

// NewCache creates a board cache using the provided Redis client and TTL. A
// nil client or zero TTL stores nothing.
func NewCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{redis: client, ttl: ttl, log: logger}
}

// cachedBoards is the stored listing together with the generation it was read
// under.
type cachedBoards struct {
	Gen    int64          `json:"gen"`
	Boards []domain.Board `json:"boards"`
}

// LoadBoards returns the cached listing when it was stored under the current
// generation. On a miss it returns that generation for StoreBoards, or -1 when
// Redis could not be read.
func (c *Cache) LoadBoards(ctx context.Context, userID string) ([]domain.Board, int64, bool) {
	if c.redis == nil {
		return nil, -1, false
	}
	pipe := c.redis.Pipeline()
	genCmd := pipe.Get(ctx, boardsGenKey(userID))
	dataCmd := pipe.Get(ctx, boardsCacheKey(userID))
	_, _ = pipe.Exec(ctx)

	gen, err := genCmd.Int64()
	switch {
	case err == redis.Nil:
		gen = 0
	case err != nil:
		c.log.WithError(err).Warn("board cache read failed")
		return nil, -1, false
	}

	data, err := dataCmd.Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("board cache read failed")
			return nil, -1, false
		}
		return nil, gen, false
	}
	var entry cachedBoards
	if err := sonic.Unmarshal(data, &entry); err != nil {
		_ = c.redis.Del(ctx, boardsCacheKey(userID)).Err()
		return nil, gen, false
	}
	if entry.Gen != gen {
		return nil, gen, false
	}
	return entry.Boards, gen, true
}

// StoreBoards caches boards as read under gen. Listings read before a later
// Evict carry an older generation and are never served.
func (c *Cache) StoreBoards(ctx context.Context, userID string, gen int64, boards []domain.Board) {
	if c.redis == nil || c.ttl == 0 || gen < 0 {
		return
	}
	data, err := sonic.Marshal(cachedBoards{Gen: gen, Boards: boards})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, boardsCacheKey(userID), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("board cache write failed")
	}
}

// Evict bumps the user's generation and drops the cached listing.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, boardsGenKey(userID))
		pipe.Expire(ctx, boardsGenKey(userID), c.genTTL())
		pipe.Del(ctx, boardsCacheKey(userID))
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("user", userID).Error("board cache eviction failed")
	}
}

// genTTL outlives every listing, so a generation that expires and restarts
// at zero cannot match an entry still in Redis.
func (c *Cache) genTTL() time.Duration {
	return max(24*time.Hour, 2*c.ttl)
}

func boardsCacheKey(userID string) string {
	return "boards:" + userID
}

func boardsGenKey(userID string) string {
	return "boards:" + userID + ":gen"
}
