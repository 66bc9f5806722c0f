package cache

import (
	"context"
	"time"
)

// Domain helpers. Each namespace owns its key shape so callers never build
// raw keys.

// CacheSession stores a session payload under session:<id>.
func (c *Client) CacheSession(ctx context.Context, sessionID string, value any, ttl time.Duration) error {
	return c.Set(ctx, "session:"+sessionID, value, ttl)
}

// GetSession reads a session payload.
func (c *Client) GetSession(ctx context.Context, sessionID string, dest any) error {
	return c.Get(ctx, "session:"+sessionID, dest)
}

// CacheModelResponse stores a completed model response keyed by request hash.
func (c *Client) CacheModelResponse(ctx context.Context, requestHash string, value any, ttl time.Duration) error {
	return c.Set(ctx, "model_response:"+requestHash, value, ttl)
}

// GetModelResponse reads a cached model response.
func (c *Client) GetModelResponse(ctx context.Context, requestHash string, dest any) error {
	return c.Get(ctx, "model_response:"+requestHash, dest)
}

// CacheUserData stores per-user state under user:<id>:<field>.
func (c *Client) CacheUserData(ctx context.Context, userID, field string, value any, ttl time.Duration) error {
	return c.Set(ctx, "user:"+userID+":"+field, value, ttl)
}

// GetUserData reads per-user state.
func (c *Client) GetUserData(ctx context.Context, userID, field string, dest any) error {
	return c.Get(ctx, "user:"+userID+":"+field, dest)
}

// CacheMCPResult stores a tool execution result keyed by call hash.
func (c *Client) CacheMCPResult(ctx context.Context, callHash string, value any, ttl time.Duration) error {
	return c.Set(ctx, "mcp_result:"+callHash, value, ttl)
}

// GetMCPResult reads a cached tool execution result.
func (c *Client) GetMCPResult(ctx context.Context, callHash string, dest any) error {
	return c.Get(ctx, "mcp_result:"+callHash, dest)
}
