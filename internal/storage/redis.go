package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Thin wrapper around a go-redis client exposing only the operations the
// rate-limiting subsystem needs.
type RedisClient struct {
	client *redis.Client
}

// NewRedis connects to a Redis instance given a redis:// or rediss:// URL and
// verifies the connection with a ping before returning. The dial and the
// verification ping honor ctx, so a caller with a tight deadline gets an
// error at that deadline instead of waiting out the full dial timeout.
func NewRedis(ctx context.Context, url string, poolSize int) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return r.client.Eval(ctx, script, keys, args...).Result()
}

func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

// Keys returns all keys matching the pattern using SCAN, which does not block
// Redis the way KEYS does.
func (r *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *RedisClient) PoolStats() *redis.PoolStats {
	return r.client.PoolStats()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
