package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"donorpulse/internal/config"
)

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return client, nil
}

// Redis is a Store backed by Redis. Each scope carries a version counter that
// is part of every key, so invalidating a scope is a single INCR and stale
// keys age out through their TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "ledger"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (c *Redis) versionKey(scope string) string {
	return Key(c.prefix, "version", scope)
}

// Version returns the scope's current version, initialising it when missing.
func (c *Redis) Version(ctx context.Context, scope string) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey(scope)).Int64()
	if err == redis.Nil {
		if err := c.client.SetNX(ctx, c.versionKey(scope), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, c.versionKey(scope)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Redis) entryKey(ctx context.Context, scope, key string) (string, error) {
	ver, err := c.Version(ctx, scope)
	if err != nil {
		return "", err
	}
	return Key(c.prefix, scope, strconv.FormatInt(ver, 10), key), nil
}

// Get implements Store.
func (c *Redis) Get(ctx context.Context, scope, key string, dest interface{}) error {
	full, err := c.entryKey(ctx, scope, key)
	if err != nil {
		return err
	}
	return c.get(ctx, full, dest)
}

func (c *Redis) get(ctx context.Context, full string, dest interface{}) error {
	payload, err := c.client.Get(ctx, full).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

// FetchJSON implements Store.
func (c *Redis) FetchJSON(ctx context.Context, scope, key string, dest interface{}, loader Loader) (bool, error) {
	full, err := c.entryKey(ctx, scope, key)
	if err != nil {
		return false, err
	}

	err = c.get(ctx, full, dest)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrMiss) {
		return false, err
	}

	raw, err := loadOnce(ctx, &c.group, full, loader)
	if err != nil {
		return false, err
	}
	if err := c.client.Set(ctx, full, raw, c.ttl).Err(); err != nil {
		return false, err
	}
	return false, json.Unmarshal(raw, dest)
}

// Invalidate implements Store by bumping the scope version.
func (c *Redis) Invalidate(ctx context.Context, scope string) error {
	return c.client.Incr(ctx, c.versionKey(scope)).Err()
}

// Close implements Store.
func (c *Redis) Close() error {
	return c.client.Close()
}
