package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idem"
	// pendingMarker is stored while the first request is still running.
	pendingMarker = "-"
)

// Deduper remembers which create requests have already been processed.
type Deduper interface {
	Claim(ctx context.Context, userID, key string) (bool, error)
	Complete(ctx context.Context, userID, key, result string) error
	Result(ctx context.Context, userID, key string) (string, bool, error)
	Release(ctx context.Context, userID, key string) error
}

// RedisDeduper stores idempotency keys in Redis so every instance sees the
// same history.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", userID, dedupeKeyPrefix, key)
}

// Claim records the key if it is new. It returns true when the caller owns
// the request.
func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingMarker, r.ttl).Result()
}

// Complete stores the id produced by a claimed request.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key, result string) error {
	return r.client.SetXX(ctx, r.key(userID, key), result, redis.KeepTTL).Err()
}

// Result returns the stored id. done is false while the first request is
// still in flight or when the key is unknown.
func (r *RedisDeduper) Result(ctx context.Context, userID, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == pendingMarker {
		return "", false, nil
	}
	return v, true, nil
}

// Release forgets a key so a failed request may be retried.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
