// Package cache provides the Redis-backed cache surface and distributed
// locks the pipeline depends on. All operations degrade to no-ops when the
// connection is down; the gateway keeps serving without a cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcfault/switchboard/internal/observability"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// ErrDisconnected is returned by operations that cannot degrade silently.
var ErrDisconnected = errors.New("cache: not connected")

// Config configures the cache client.
type Config struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key.
	KeyPrefix string

	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
}

// Client wraps a Redis connection with a prefixed keyspace and JSON value
// encoding. A nil or disconnected client is safe to use; reads miss and
// writes are dropped.
type Client struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	logger    *observability.Logger
	connected atomic.Bool

	warnOnce sync.Once
}

// New connects to Redis and pings it once. A failed ping does not fail
// construction; the client starts disconnected and ops no-op until a
// reconnect succeeds.
func New(ctx context.Context, cfg Config, logger *observability.Logger) *Client {
	c := &Client{
		prefix: cfg.KeyPrefix,
		ttl:    cfg.DefaultTTL,
		logger: logger,
	}
	if c.ttl <= 0 {
		c.ttl = 15 * time.Minute
	}
	if cfg.Addr == "" {
		return c
	}

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		logger.Warn(ctx, "cache unavailable, operating without cache", "error", err.Error())
	} else {
		c.connected.Store(true)
	}
	return c
}

// IsConnected reports whether cache operations will reach Redis.
func (c *Client) IsConnected() bool {
	return c != nil && c.rdb != nil && c.connected.Load()
}

// key applies the configured prefix.
func (c *Client) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get unmarshals the value at key into dest. Returns ErrNotFound on miss or
// when disconnected.
func (c *Client) Get(ctx context.Context, key string, dest any) error {
	if !c.IsConnected() {
		return ErrNotFound
	}
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		c.noteError(ctx, "get", err)
		return ErrNotFound
	}
	return json.Unmarshal(data, dest)
}

// Set stores value at key with the given TTL; ttl <= 0 uses the default.
// Dropped silently when disconnected.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsConnected() {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.noteError(ctx, "set", err)
	}
	return nil
}

// Del removes keys. Dropped silently when disconnected.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.IsConnected() || len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil {
		c.noteError(ctx, "del", err)
	}
	return nil
}

// Exists reports whether key is present. False when disconnected.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if !c.IsConnected() {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	if err != nil {
		c.noteError(ctx, "exists", err)
		return false, nil
	}
	return n > 0, nil
}

// Expire resets the TTL on key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if !c.IsConnected() {
		return nil
	}
	if err := c.rdb.Expire(ctx, c.key(key), ttl).Err(); err != nil {
		c.noteError(ctx, "expire", err)
	}
	return nil
}

// Keys lists keys matching pattern within the prefixed keyspace. The
// returned keys have the prefix stripped.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !c.IsConnected() {
		return nil, nil
	}
	full, err := c.rdb.Keys(ctx, c.key(pattern)).Result()
	if err != nil {
		c.noteError(ctx, "keys", err)
		return nil, nil
	}
	out := make([]string, 0, len(full))
	strip := ""
	if c.prefix != "" {
		strip = c.prefix + ":"
	}
	for _, k := range full {
		if strip != "" && len(k) > len(strip) && k[:len(strip)] == strip {
			k = k[len(strip):]
		}
		out = append(out, k)
	}
	return out, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	c.connected.Store(false)
	return c.rdb.Close()
}

// noteError logs the first cache error loudly and the rest at debug. A
// broken cache must not spam the logs once per operation.
func (c *Client) noteError(ctx context.Context, op string, err error) {
	c.warnOnce.Do(func() {
		c.logger.Warn(ctx, "cache operation failed, subsequent failures logged at debug",
			"op", op, "error", err.Error())
	})
	c.logger.Debug(ctx, "cache operation failed", "op", op, "error", err.Error())
}
