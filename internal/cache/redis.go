/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from a redis:// URL and verifies
// connectivity with a ping.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// LoadScripts preloads the Lua scripts used by the Redis-backed primitives so
// that the hot path runs EVALSHA with only a hash on the wire. Calling it is
// optional: go-redis falls back to EVAL on NOSCRIPT.
func LoadScripts(ctx context.Context, client *redis.Client) error {
	for _, script := range []*redis.Script{windowAdmitScript, indexInsertScript} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return fmt.Errorf("load script: %w", err)
		}
	}
	return nil
}
