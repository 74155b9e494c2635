package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers which overdue notices went out, shared across
// instances. Entries expire after ttl so a card that stays overdue is
// eventually reported again.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func noticeKey(scope, key string) string {
	return "notice:" + scope + ":" + key
}

// AddMany claims every key with one SETNX each, pipelined. claimed[i] is true
// when keys[i] was not seen before. After an error, claimed still reports the
// keys taken so far, so the caller can give them back.
func (r *RedisDeduper) AddMany(ctx context.Context, scope string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	claims := make([]*redis.BoolCmd, len(keys))
	pipe := r.client.Pipeline()
	for i, k := range keys {
		claims[i] = pipe.SetNX(ctx, noticeKey(scope, k), 1, r.ttl)
	}
	_, execErr := pipe.Exec(ctx)

	claimed := make([]bool, len(keys))
	for i, cmd := range claims {
		ok, err := cmd.Result()
		if err != nil {
			return claimed, fmt.Errorf("claim %s: %w", keys[i], err)
		}
		claimed[i] = ok
	}
	return claimed, execErr
}

// Remove forgets key so the next sweep retries it.
func (r *RedisDeduper) Remove(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, noticeKey(scope, key)).Err()
}
