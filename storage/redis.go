package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"partscout/config"
)

// RedisStore backs the response cache and the job queue. Token-bucket
// state stays in-process; only cached payloads and queued jobs live
// here.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// =============================================================================
// Response cache
// =============================================================================

// CacheKey derives a stable key from platform, the url or query, and a
// serialized options string.
func CacheKey(platform, target, opts string) string {
	sum := sha1.Sum([]byte(platform + "|" + target + "|" + opts))
	return "cache:resp:" + hex.EncodeToString(sum[:])
}

func (s *RedisStore) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// CacheAddCategory records a part id under a category set with the same
// expiry schedule as the response cache.
func (s *RedisStore) CacheAddCategory(ctx context.Context, category, partID string, ttl time.Duration) error {
	key := "cache:category:" + category
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, partID)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CacheGetCategory(ctx context.Context, category string) ([]string, error) {
	return s.client.SMembers(ctx, "cache:category:"+category).Result()
}
