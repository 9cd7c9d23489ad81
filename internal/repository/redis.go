package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis connection backing the dedup store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and returns a Store implementation.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (Store, error) {
	opt := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "verve"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

// claimLua sets the marker only if absent (PX is not refreshed on a repeat
// attempt) and bumps the scope counter in the same step.
var claimLua = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
  redis.call('INCR', KEYS[2])
  redis.call('PEXPIRE', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// Both keys of a scope share a hash tag so the script stays single-slot on
// Redis Cluster.
func (r *redisStore) claimKey(scope, member string) string {
	return fmt.Sprintf("%s:{%s}:claim:%s", r.prefix, scope, member)
}

func (r *redisStore) countKey(scope string) string {
	return fmt.Sprintf("%s:{%s}:count", r.prefix, scope)
}

func (r *redisStore) Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return false, fmt.Errorf("redis claim: ttl must be at least 1ms, got %s", ttl)
	}
	res, err := claimLua.Run(ctx, r.client, []string{r.claimKey(scope, member), r.countKey(scope)}, ms).Int64()
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return res == 1, nil
}

func (r *redisStore) Count(ctx context.Context, scope string) (int64, error) {
	n, err := r.client.Get(ctx, r.countKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return n, nil
}

func (r *redisStore) Clear(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, r.countKey(scope)).Err(); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
