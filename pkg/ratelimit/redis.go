package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a token bucket atomically in
// Redis so that concurrent instances share one limit per key.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter is a distributed token-bucket limiter shared across all
// instances of the service via a single Redis keyspace.
type RedisLimiter struct {
	client   *redis.Client
	rps      float64
	capacity float64
}

// NewRedisLimiter builds a limiter against addr allowing rps requests
// per second per key, bursting up to capacity tokens.
func NewRedisLimiter(addr string, rps, capacity float64) *RedisLimiter {
	return &RedisLimiter{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		rps:      rps,
		capacity: capacity,
	}
}

// Allow consumes one token from key's bucket, refilling it first.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{"ratelimit:" + key}, l.rps, l.capacity, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script result")
	}

	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
