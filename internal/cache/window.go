/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// windowAdmitScript is the atomic check-then-increment over a sorted set of
// request timestamps. Scores and arguments are in microseconds. The trim
// removes scores <= now-window, which makes the window half-open on the old
// side. The key TTL is kept at twice the window so an idle counter outlives
// its own horizon before eviction.
//
// Returns {allowed, remaining, reset_at_us, retry_after_us}.
var windowAdmitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count >= max then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset = now + window
    if oldest[2] then
        reset = tonumber(oldest[2]) + window
    end
    return {0, 0, reset, reset - now}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.floor(window / 1000) * 2)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest[2] then
    reset = tonumber(oldest[2]) + window
end
return {1, max - count - 1, reset, 0}
`)

// RedisWindowAdmitter implements WindowAdmitter on a Redis sorted set per key.
// The whole decision is one script invocation, so it stays sound under
// arbitrary concurrency and across horizontally scaled replicas.
type RedisWindowAdmitter struct {
	client *redis.Client
}

var _ WindowAdmitter = (*RedisWindowAdmitter)(nil)

// NewRedisWindowAdmitter creates a Redis-backed window admitter.
func NewRedisWindowAdmitter(client *redis.Client) *RedisWindowAdmitter {
	return &RedisWindowAdmitter{client: client}
}

// Admit implements WindowAdmitter.
func (a *RedisWindowAdmitter) Admit(
	ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time,
) (AdmitResult, error) {
	// The member must be unique per request: two admissions inside the same
	// microsecond for one account must land as two sorted-set entries.
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	result, err := windowAdmitScript.Run(ctx, a.client,
		[]string{key},
		now.UnixMicro(), window.Microseconds(), maxRequests, member,
	).Result()
	if err != nil {
		return AdmitResult{}, err
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 4 {
		return AdmitResult{}, fmt.Errorf("window admit script: invalid return %T", result)
	}
	allowed, ok1 := vals[0].(int64)
	remaining, ok2 := vals[1].(int64)
	resetAtUs, ok3 := vals[2].(int64)
	retryAfterUs, ok4 := vals[3].(int64)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return AdmitResult{}, fmt.Errorf("window admit script: invalid return values %v", vals)
	}

	return AdmitResult{
		Allowed:    allowed == 1,
		Limit:      maxRequests,
		Remaining:  int(remaining),
		ResetAt:    time.UnixMicro(resetAtUs).UTC(),
		RetryAfter: time.Duration(retryAfterUs) * time.Microsecond,
	}, nil
}
