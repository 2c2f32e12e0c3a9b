package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash. ARGV: refill per second, capacity, key ttl in ms.
// Returns {allowed, wait_ms}; wait_ms is how long until one token is back.
const takeTokenScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * rate / 1000)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, wait}
`

var errBucketUnavailable = errors.New("token bucket not configured")

// Decision is the outcome of taking one token.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// TokenBucket keeps one refilling bucket per key inside redis, so every node
// draws from the same budget.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(takeTokenScript)}
}

// Take removes one token from key's bucket. rate is tokens per second and
// burst the bucket capacity.
func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, errBucketUnavailable
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return Decision{}, fmt.Errorf("token bucket: invalid key %q rate %v burst %d", key, rate, burst)
	}

	out, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(out) != 2 {
		return Decision{}, fmt.Errorf("token bucket: unexpected reply %v", out)
	}
	return Decision{
		Allowed:    out[0] == 1,
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps idle buckets around for two full refills.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
