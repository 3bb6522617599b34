package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookbridge/hookbridge/internal/config"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Redis wraps a Redis client and serves as the distributed state store for
// dedup markers, sync state, sync chains, conflict history and locks.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a new Redis client.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Client returns the underlying Redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetWithTTL stores a key-value pair with an expiration.
func (r *Redis) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apierrors.NewStoreError("set", key, err)
	}
	return nil
}

// Get retrieves a value by key. Returns ErrKeyNotFound for missing keys.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", apierrors.NewStoreError("get", key, err)
	}
	return val, nil
}

// Exists checks if a key exists.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apierrors.NewStoreError("exists", key, err)
	}
	return n > 0, nil
}

// Delete removes one or more keys.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return apierrors.NewStoreError("delete", keys[0], err)
	}
	return nil
}

// SetIfNotExists sets a key only if it does not exist. This is the atomic
// lock primitive for advisory locking.
func (r *Redis) SetIfNotExists(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apierrors.NewStoreError("setnx", key, err)
	}
	return ok, nil
}

// ListAppend appends a value to the tail of a list.
func (r *Redis) ListAppend(ctx context.Context, key string, value any) error {
	if err := r.client.RPush(ctx, key, value).Err(); err != nil {
		return apierrors.NewStoreError("rpush", key, err)
	}
	return nil
}

// ListTrim trims a list to the given inclusive range.
func (r *Redis) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return apierrors.NewStoreError("ltrim", key, err)
	}
	return nil
}

// ListRange returns list entries in the given inclusive range.
func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, apierrors.NewStoreError("lrange", key, err)
	}
	return vals, nil
}

// Expire sets a TTL on an existing key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return apierrors.NewStoreError("expire", key, err)
	}
	return nil
}

// Scan iterates keys matching a pattern. Uses cursor-based SCAN rather
// than KEYS to avoid blocking the server.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, apierrors.NewStoreError("scan", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// IncrWithExpire increments a key and sets expiration if it doesn't exist.
// Used for per-subscription rate limiting windows.
func (r *Redis) IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apierrors.NewStoreError("incr", key, err)
	}
	return incr.Val(), nil
}
