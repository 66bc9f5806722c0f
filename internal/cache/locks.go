package cache

import (
	"context"
	"time"
)

// releaseScript deletes the lock key only when the stored value matches,
// so a lock that expired and was re-acquired by another owner is never
// released by the old one.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// extendScript refreshes the TTL only for the current owner.
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// AcquireLock atomically sets key to value with the given TTL if absent.
// Returns true when the lock was taken. When the cache is disconnected the
// acquisition succeeds optimistically: a single-instance deployment keeps
// working without Redis.
func (c *Client) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.IsConnected() {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		c.noteError(ctx, "acquire_lock", err)
		return true, nil
	}
	return ok, nil
}

// ReleaseLock deletes the lock only if value still matches. Returns true
// when the lock was held by value and released.
func (c *Client) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	if !c.IsConnected() {
		return true, nil
	}
	res, err := c.rdb.Eval(ctx, releaseScript, []string{c.key(key)}, value).Result()
	if err != nil {
		c.noteError(ctx, "release_lock", err)
		return false, nil
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// ExtendLock refreshes the TTL only if value still matches.
func (c *Client) ExtendLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.IsConnected() {
		return true, nil
	}
	res, err := c.rdb.Eval(ctx, extendScript, []string{c.key(key)}, value, ttl.Milliseconds()).Result()
	if err != nil {
		c.noteError(ctx, "extend_lock", err)
		return false, nil
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// AcquireLockWait polls for the lock until it is taken, the wait budget is
// spent, or the context is canceled. Returns false when the budget runs out.
func (c *Client) AcquireLockWait(ctx context.Context, key, value string, ttl, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := c.AcquireLock(ctx, key, value, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
