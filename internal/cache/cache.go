package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"donorpulse/internal/config"
)

// ErrMiss is returned by Get when no live entry exists.
var ErrMiss = errors.New("cache: miss")

// Loader computes a value on a cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// Store memoizes derived ledger results as JSON. Keys are grouped by scope,
// normally a session ID, so a whole session can be invalidated at once.
type Store interface {
	// Get decodes the cached value for key into dest or returns ErrMiss.
	Get(ctx context.Context, scope, key string, dest interface{}) error

	// FetchJSON decodes the cached value for key into dest, populating it with
	// loader on a miss. hit reports whether the value came from the cache.
	FetchJSON(ctx context.Context, scope, key string, dest interface{}, loader Loader) (hit bool, err error)

	// Invalidate drops every entry under scope.
	Invalidate(ctx context.Context, scope string) error

	Close() error
}

// New returns the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL, cfg.MaxEntries), nil
	case "redis":
		client, err := Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("redis cache connected", slog.String("addr", cfg.RedisAddr), slog.Int("db", cfg.RedisDB))
		}
		return NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// Key joins key parts with ":".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// loadOnce runs loader behind a singleflight group and returns the encoded value.
func loadOnce(ctx context.Context, group *singleflight.Group, flightKey string, loader Loader) ([]byte, error) {
	if loader == nil {
		return nil, errors.New("cache: loader required")
	}
	raw, err, _ := group.Do(flightKey, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return nil, err
	}
	return raw.([]byte), nil
}
